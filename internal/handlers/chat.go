package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell-ui/inkwell/internal/models"
	"github.com/tmaxmax/go-sse"
)

type sessionView struct {
	ID    string
	Title string

	Active bool
}

type messageView struct {
	ID        string
	Role      string
	Content   template.HTML
	Raw       string
	Timestamp time.Time

	StreamingState string
}

// HandleChats processes chat interactions through HTTP POST requests,
// managing both new session creation and message sending. It accepts the user
// message through form data, appends it to the target session together with a
// streaming placeholder for the reply, and starts the asynchronous generation
// that folds arriving fragments into that placeholder.
//
// The handler expects a "message" form field and an optional "session_id"
// field. If no session_id is provided, a new session is created first. A send
// attempted while a generation is already in flight is rejected with 409 and
// leaves the session untouched.
func (m *Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := strings.TrimSpace(r.FormValue("message"))
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	// The generation token is taken before any state is touched, so a
	// rejected send leaves the message log exactly as it was.
	if !m.beginGeneration() {
		http.Error(w, "A reply is already being generated", http.StatusConflict)
		return
	}

	sessionID := r.FormValue("session_id")
	// We track if this is a new session to determine the appropriate template
	// rendering strategy
	isNewSession := false
	if sessionID == "" {
		newID, err := m.newSession(r.Context())
		if err != nil {
			m.endGeneration()
			m.logger.Error("Failed to create new session", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sessionID = newID
		isNewSession = true
	}

	session, found, err := m.sessions.Session(r.Context(), sessionID)
	if err != nil {
		m.endGeneration()
		m.logger.Error("Failed to get session",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		m.endGeneration()
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	// History is snapshotted before the user turn is appended; the LLM client
	// receives the new text as a separate parameter and must not see it twice.
	history := session.Messages
	priorCount := len(session.Messages)

	um := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   msg,
		Timestamp: time.Now(),
	}
	if err := m.sessions.AppendMessage(r.Context(), sessionID, um); err != nil {
		m.endGeneration()
		m.logger.Error("Failed to add user message",
			slog.String("message", fmt.Sprintf("%+v", um)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The first real user turn names the session.
	if priorCount <= 1 {
		if err := m.sessions.SetSessionTitle(r.Context(), sessionID, models.DeriveSessionTitle(msg)); err != nil {
			m.logger.Error("Failed to set session title",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
		}
		m.publishSessionList(sessionID)
	}

	// Initialize the empty model placeholder to be streamed into later
	am := models.Message{
		ID:          uuid.New().String(),
		Role:        models.RoleModel,
		Timestamp:   time.Now(),
		IsStreaming: true,
	}
	if err := m.sessions.AppendMessage(r.Context(), sessionID, am); err != nil {
		m.endGeneration()
		m.logger.Error("Failed to add placeholder message",
			slog.String("message", fmt.Sprintf("%+v", am)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	go m.generate(sessionID, am.ID, history, msg)

	// The scripted composer fetches this endpoint and splices the returned
	// partials into the page. A plain form post would land the browser on a
	// bare fragment instead, so send it back to the home view, which already
	// renders the in-flight placeholder.
	if r.Header.Get("X-Requested-With") == "" {
		http.Redirect(w, r, "/?session_id="+sessionID, http.StatusSeeOther)
		return
	}

	if isNewSession {
		session, found, err = m.sessions.Session(r.Context(), sessionID)
		if err != nil || !found {
			http.Error(w, "Session not found", http.StatusInternalServerError)
			return
		}

		data := struct {
			CurrentSessionID string
			Messages         []messageView
			Generating       bool
		}{
			CurrentSessionID: sessionID,
			Messages:         messageViews(session.Messages),
			Generating:       true,
		}
		if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if err := m.templates.ExecuteTemplate(w, "user_message", newMessageView(um)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "model_message", newMessageView(am)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// generate drains the reply stream into the placeholder message. Every
// fragment is folded into a running total and the store always receives the
// full-so-far text, so applying a snapshot twice is harmless. The stream is
// drained to completion even if the session is deleted mid-flight; the store
// calls then degrade to no-ops.
//
// The deferred cleanup is unconditional: the placeholder's streaming flag is
// cleared and the generation token released no matter how the fold ends, so
// the UI can never get stuck on a perpetual typing indicator.
func (m *Main) generate(sessionID, messageID string, history []models.Message, text string) {
	defer func() {
		if err := m.sessions.SetMessageStreaming(context.Background(), sessionID, messageID, false); err != nil {
			m.logger.Error("Failed to clear streaming flag",
				slog.String("messageID", messageID),
				slog.String(errLoggerKey, err.Error()))
		}
		m.endGeneration()

		e := &sse.Message{Type: sse.Type("closeMessage")}
		e.AppendData("bye")
		_ = m.sseSrv.Publish(e, messageIDTopic(messageID))
	}()

	var acc strings.Builder
	for fragment := range m.llm.StreamReply(context.Background(), history, text) {
		acc.WriteString(fragment)

		if err := m.sessions.UpdateMessageContent(context.Background(), sessionID, messageID, acc.String()); err != nil {
			m.logger.Error("Failed to update message content",
				slog.String("messageID", messageID),
				slog.String(errLoggerKey, err.Error()))
		}

		e := sse.Message{Type: messagesSSEType}
		e.AppendData(string(models.RenderMarkdown(acc.String())))
		if err := m.sseSrv.Publish(&e, messageIDTopic(messageID)); err != nil {
			m.logger.Error("Failed to publish message",
				slog.String("messageID", messageID),
				slog.String(errLoggerKey, err.Error()))
		}
	}
}

// HandleNewSession creates a fresh empty session, makes it the active one,
// and redirects back to the chat view.
func (m *Main) HandleNewSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := m.newSession(r.Context())
	if err != nil {
		m.logger.Error("Failed to create new session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/?session_id="+id, http.StatusSeeOther)
}

// HandleDeleteSession removes a session. If it was the active session, no
// session remains selected; the home view then prompts for a new
// conversation instead of auto-creating one.
func (m *Main) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.FormValue("session_id")
	if id == "" {
		http.Error(w, "Session id is required", http.StatusBadRequest)
		return
	}

	if err := m.sessions.DeleteSession(r.Context(), id); err != nil {
		m.logger.Error("Failed to delete session",
			slog.String("sessionID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.clearActiveSessionIf(id)
	m.publishSessionList(m.ActiveSessionID())

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (m *Main) newSession(ctx context.Context) (string, error) {
	session := models.ChatSession{
		ID:        uuid.New().String(),
		Title:     models.DefaultSessionTitle,
		UpdatedAt: time.Now(),
	}
	if err := m.sessions.AddSession(ctx, session); err != nil {
		return "", fmt.Errorf("failed to add session: %w", err)
	}
	m.SetActiveSession(session.ID)

	m.publishSessionList(session.ID)

	return session.ID, nil
}

// publishSessionList pushes the rendered sidebar session list to all
// subscribers of the sessions topic.
func (m *Main) publishSessionList(activeID string) {
	divs, err := m.sessionDivs(activeID)
	if err != nil {
		m.logger.Error("Failed to render session list", slog.String(errLoggerKey, err.Error()))
		return
	}

	e := sse.Message{Type: sessionsSSEType}
	e.AppendData(divs)
	if err := m.sseSrv.Publish(&e, sessionsSSETopic); err != nil {
		m.logger.Error("Failed to publish session list", slog.String(errLoggerKey, err.Error()))
	}
}

func (m *Main) sessionDivs(activeID string) (string, error) {
	sessions, err := m.sessions.Sessions(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to get sessions: %w", err)
	}

	var sb strings.Builder
	for _, s := range sessions {
		err := m.templates.ExecuteTemplate(&sb, "session_title", sessionView{
			ID:     s.ID,
			Title:  s.Title,
			Active: s.ID == activeID,
		})
		if err != nil {
			return "", fmt.Errorf("failed to execute session_title template: %w", err)
		}
	}
	return sb.String(), nil
}

func newMessageView(msg models.Message) messageView {
	state := "ended"
	if msg.IsStreaming {
		state = "streaming"
		if msg.Content == "" {
			state = "loading"
		}
	}
	return messageView{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Content:        models.RenderMarkdown(msg.Content),
		Raw:            msg.Content,
		Timestamp:      msg.Timestamp,
		StreamingState: state,
	}
}

func messageViews(msgs []models.Message) []messageView {
	views := make([]messageView, len(msgs))
	for i, msg := range msgs {
		views[i] = newMessageView(msg)
	}
	return views
}
