package services

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/inkwell-ui/inkwell/internal/models"
	"github.com/ollama/ollama/api"
)

// OllamaErrorNotice is yielded as the final fragment of a reply stream when
// the call to the Ollama server fails for any reason.
const OllamaErrorNotice = "\n\n**Error:** Unable to reach the Ollama server. Please check that it is running."

// Ollama streams chat replies from a local Ollama server. It carries the same
// error-as-content contract as the Gemini client.
type Ollama struct {
	model        string
	systemPrompt string
	temperature  float32

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and
// model name. The host parameter should be a valid URL pointing to an Ollama
// server. If the provided host URL is invalid, the function will panic.
func NewOllama(host, model, systemPrompt string, temperature float32, logger *slog.Logger) Ollama {
	u, err := url.Parse(host)
	if err != nil {
		panic(err)
	}

	return Ollama{
		model:        model,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}
}

// StreamReply sends the conversation history plus the new user turn to the
// model and returns a single-use iterator over the incremental text fragments
// of the reply. Failures yield OllamaErrorNotice and end the stream.
func (o Ollama) StreamReply(ctx context.Context, history []models.Message, newUserText string) iter.Seq[string] {
	return func(yield func(string) bool) {
		msgs := make([]api.Message, 0, len(history)+2)
		msgs = append(msgs, api.Message{
			Role:    "system",
			Content: o.systemPrompt,
		})
		for _, msg := range history {
			if msg.Role == models.RoleSystem {
				continue
			}
			role := "user"
			if msg.Role == models.RoleModel {
				role = "assistant"
			}
			msgs = append(msgs, api.Message{
				Role:    role,
				Content: msg.Content,
			})
		}
		msgs = append(msgs, api.Message{
			Role:    "user",
			Content: newUserText,
		})

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
			Options: map[string]any{
				"temperature": o.temperature,
			},
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// Once the consumer stops, yield must never be called again, even if
		// the client delivers buffered callbacks before noticing the cancel.
		done := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if done || res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content) {
				done = true
				cancel()
			}
			return nil
		}); err != nil {
			if done || errors.Is(err, context.Canceled) {
				return
			}
			o.logger.Error("Failed to stream chat", slog.String("err", err.Error()))
			yield(OllamaErrorNotice)
		}
	}
}
