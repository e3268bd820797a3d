package handlers

import (
	"context"
	"fmt"
	"html/template"
	"iter"
	"log/slog"
	"sync"
	"time"

	inkwell "github.com/inkwell-ui/inkwell"
	"github.com/inkwell-ui/inkwell/internal/models"
	"github.com/tmaxmax/go-sse"
)

// LLM represents the hosted language-model capability. Given the prior
// conversation history and a new user turn, it returns a lazy, single-use
// sequence of reply text fragments. Failures never surface as errors; they
// arrive as a final fragment of human-readable notice text, after which the
// sequence simply ends.
type LLM interface {
	StreamReply(ctx context.Context, history []models.Message, newUserText string) iter.Seq[string]
}

// SessionStore defines the interface for managing chat session persistence.
// Mutations targeting a session or message that no longer exists are silent
// no-ops, so deletions racing with an in-flight generation cannot corrupt
// unrelated state.
type SessionStore interface {
	Sessions(ctx context.Context) ([]models.ChatSession, error)
	Session(ctx context.Context, id string) (models.ChatSession, bool, error)
	AddSession(ctx context.Context, session models.ChatSession) error
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, sessionID string, message models.Message) error
	UpdateMessageContent(ctx context.Context, sessionID, messageID, content string) error
	SetMessageStreaming(ctx context.Context, sessionID, messageID string, streaming bool) error
	SetSessionTitle(ctx context.Context, sessionID, title string) error
}

// ArticleStore defines the interface for managing the saved article library.
type ArticleStore interface {
	Articles(ctx context.Context) ([]models.Article, error)
	Article(ctx context.Context, id string) (models.Article, bool, error)
	AddArticle(ctx context.Context, article models.Article) error
	UpdateArticle(ctx context.Context, article models.Article) error
	DeleteArticle(ctx context.Context, id string) error
}

// Main handles the core functionality of the workspace, managing server-sent
// events, HTML templates, and the interactions between the LLM, the session
// store, and the article library.
//
// Main also owns the single-flight generation token: at most one reply is
// streamed at a time application-wide, and a send attempted while one is
// active is rejected rather than queued.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	llm      LLM
	sessions SessionStore
	articles ArticleStore

	logger *slog.Logger

	mu              sync.Mutex
	generating      bool
	activeSessionID string
}

const (
	sessionsSSETopic = "sessions"

	errLoggerKey = "err"
)

// SSE event types for real-time updates.
var (
	sessionsSSEType = sse.Type("sessions")
	messagesSSEType = sse.Type("messages")
)

// NewMain creates a new Main instance with the provided LLM and store
// implementations. It initializes the SSE server with default configurations
// and parses the required HTML templates from the embedded filesystem. The
// SSE server is configured to handle both default events and per-message
// streaming topics.
func NewMain(llm LLM, sessions SessionStore, articles ArticleStore, logger *slog.Logger) (*Main, error) {
	tmpl, err := template.ParseFS(
		inkwell.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, err
	}

	return &Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic, sessionsSSETopic}

				// Clients watching a streaming reply subscribe to that message's topic.
				messageID := s.Req.URL.Query().Get("message_id")
				if messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		llm:       llm,
		sessions:  sessions,
		articles:  articles,
		logger:    logger.With(slog.String("module", "handlers")),
	}, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// beginGeneration attempts to acquire the application-wide generation token.
// It reports false if a generation is already in flight.
func (m *Main) beginGeneration() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generating {
		return false
	}
	m.generating = true
	return true
}

func (m *Main) endGeneration() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generating = false
}

// Generating reports whether a reply is currently being streamed.
func (m *Main) Generating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generating
}

// ActiveSessionID returns the currently selected session, or an empty string
// when no session is selected.
func (m *Main) ActiveSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeSessionID
}

// SetActiveSession makes the given session the selected one. The caller is
// expected to pass an existing session id.
func (m *Main) SetActiveSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSessionID = id
}

// clearActiveSessionIf unsets the active session if it matches id. Deleting a
// non-active session leaves the selection unchanged; deleting the active one
// leaves no session selected, without auto-reassignment.
func (m *Main) clearActiveSessionIf(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeSessionID == id {
		m.activeSessionID = ""
	}
}

// Shutdown gracefully terminates the Main instance's SSE server. It
// broadcasts a close message to all connected clients and waits up to 5
// seconds for connections to terminate. After the timeout, any remaining
// connections are forcefully closed.
func (m *Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
