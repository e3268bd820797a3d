package services

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"

	"github.com/inkwell-ui/inkwell/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// GeminiErrorNotice is yielded as the final fragment of a reply stream when
// the call to Gemini fails for any reason. Failures never reach the caller as
// errors; they are surfaced inline as message content.
const GeminiErrorNotice = "\n\n**Error:** Unable to connect to Gemini. Please check your API Key configuration."

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// Gemini streams chat replies from Google's Gemini models through their
// OpenAI-compatible endpoint.
type Gemini struct {
	model        string
	systemPrompt string
	temperature  float32

	client *goopenai.Client

	logger *slog.Logger
}

// NewGemini creates a new Gemini instance with the specified API key, model
// name, system prompt, and sampling temperature. An empty baseURL defaults to
// the public Gemini endpoint.
func NewGemini(apiKey, baseURL, model, systemPrompt string, temperature float32, logger *slog.Logger) Gemini {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	cfg.BaseURL = baseURL

	return Gemini{
		model:        model,
		systemPrompt: systemPrompt,
		temperature:  temperature,
		client:       goopenai.NewClientWithConfig(cfg),
		logger:       logger.With(slog.String("module", "gemini")),
	}
}

// StreamReply sends the conversation history plus the new user turn to the
// model and returns a single-use iterator over the incremental text fragments
// of the reply. System-role history entries are excluded before transmission,
// and the new user text is sent as the final turn only. The iterator never
// surfaces an error: any failure yields GeminiErrorNotice and ends the stream.
func (g Gemini) StreamReply(ctx context.Context, history []models.Message, newUserText string) iter.Seq[string] {
	return func(yield func(string) bool) {
		req := goopenai.ChatCompletionRequest{
			Model:       g.model,
			Messages:    transcript(g.systemPrompt, history, newUserText),
			Temperature: g.temperature,
			Stream:      true,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := g.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			g.logger.Error("Failed to open completion stream", slog.String("err", err.Error()))
			yield(GeminiErrorNotice)
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				g.logger.Error("Failed to receive completion chunk", slog.String("err", err.Error()))
				yield(GeminiErrorNotice)
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			if delta := response.Choices[0].Delta.Content; delta != "" {
				if !yield(delta) {
					return
				}
			}
		}
	}
}

// transcript maps session messages to the two-role wire transcript. The
// system prompt always leads, system-role log entries are dropped, and the
// new user text closes the transcript.
func transcript(systemPrompt string, history []models.Message, newUserText string) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}
		role := goopenai.ChatMessageRoleUser
		if msg.Role == models.RoleModel {
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}
	return append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: newUserText,
	})
}
