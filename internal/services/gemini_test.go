package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/inkwell-ui/inkwell/internal/models"
	"github.com/inkwell-ui/inkwell/internal/services"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func streamServer(t *testing.T, fragments []string, gotReq *chatRequest) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read request body: %v", err)
		}
		if err := json.Unmarshal(body, gotReq); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, fragment := range fragments {
			chunk, _ := json.Marshal(map[string]any{
				"object": "chat.completion.chunk",
				"choices": []map[string]any{
					{"index": 0, "delta": map[string]string{"content": fragment}},
				},
			})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestGeminiStreamReply(t *testing.T) {
	var gotReq chatRequest
	srv := streamServer(t, []string{"Hel", "lo"}, &gotReq)
	defer srv.Close()

	gemini := services.NewGemini("key", srv.URL, "gemini-2.5-flash", "system prompt", 0.7, slog.Default())

	history := []models.Message{
		{ID: "w", Role: models.RoleModel, Content: "welcome", Timestamp: time.Now()},
		{ID: "sys", Role: models.RoleSystem, Content: "internal note", Timestamp: time.Now()},
		{ID: "u1", Role: models.RoleUser, Content: "earlier question", Timestamp: time.Now()},
	}

	var fragments []string
	for fragment := range gemini.StreamReply(context.Background(), history, "write an article") {
		fragments = append(fragments, fragment)
	}

	if !slices.Equal(fragments, []string{"Hel", "lo"}) {
		t.Errorf("fragments = %q, want [Hel lo]", fragments)
	}

	roles := make([]string, len(gotReq.Messages))
	for i, msg := range gotReq.Messages {
		roles[i] = msg.Role
	}
	if !slices.Equal(roles, []string{"system", "assistant", "user", "user"}) {
		t.Fatalf("transcript roles = %v, want system-role history excluded and user text last", roles)
	}

	last := gotReq.Messages[len(gotReq.Messages)-1]
	if last.Content != "write an article" {
		t.Errorf("last message = %q, want the new user text", last.Content)
	}
	// The new user turn must appear exactly once.
	count := 0
	for _, msg := range gotReq.Messages {
		if msg.Content == "write an article" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("new user text appears %d times in transcript, want 1", count)
	}
}

func TestGeminiStreamReplyFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gemini := services.NewGemini("key", srv.URL, "gemini-2.5-flash", "system prompt", 0.7, slog.Default())

	var fragments []string
	for fragment := range gemini.StreamReply(context.Background(), nil, "hello") {
		fragments = append(fragments, fragment)
	}

	if len(fragments) != 1 || fragments[0] != services.GeminiErrorNotice {
		t.Errorf("fragments = %q, want exactly the error notice", fragments)
	}
}
