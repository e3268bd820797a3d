package handlers

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/inkwell-ui/inkwell/internal/models"
)

type articleView struct {
	ID        string
	Title     string
	Snippet   string
	Content   string
	Rendered  template.HTML
	CreatedAt string
}

type homePageData struct {
	Sessions         []sessionView
	CurrentSessionID string
	Messages         []messageView
	Generating       bool

	ArticlesView    bool
	Articles        []articleView
	SelectedArticle *articleView
	Editing         bool
}

// HandleHome renders the workspace page: the session sidebar with the
// selected session's transcript, or the article library when the articles
// view is requested. Selecting a session through the session_id query
// parameter makes it the active one.
func (m *Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if id := r.URL.Query().Get("session_id"); id != "" {
		if _, found, err := m.sessions.Session(r.Context(), id); err == nil && found {
			m.SetActiveSession(id)
		}
	}

	sessions, err := m.sessions.Sessions(r.Context())
	if err != nil {
		m.logger.Error("Failed to get sessions", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	activeID := m.ActiveSessionID()
	data := homePageData{
		CurrentSessionID: activeID,
		Generating:       m.Generating(),
		ArticlesView:     r.URL.Query().Get("view") == "articles",
	}

	data.Sessions = make([]sessionView, len(sessions))
	for i, s := range sessions {
		data.Sessions[i] = sessionView{
			ID:     s.ID,
			Title:  s.Title,
			Active: s.ID == activeID && !data.ArticlesView,
		}
	}

	if activeID != "" && !data.ArticlesView {
		session, found, err := m.sessions.Session(r.Context(), activeID)
		if err != nil {
			m.logger.Error("Failed to get session",
				slog.String("sessionID", activeID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if found {
			data.Messages = messageViews(session.Messages)
		}
	}

	if err := m.fillArticleData(r, &data); err != nil {
		m.logger.Error("Failed to get articles", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m *Main) fillArticleData(r *http.Request, data *homePageData) error {
	articles, err := m.articles.Articles(r.Context())
	if err != nil {
		return err
	}

	data.Articles = make([]articleView, len(articles))
	for i, a := range articles {
		data.Articles[i] = newArticleView(a)
	}

	if !data.ArticlesView {
		return nil
	}

	if id := r.URL.Query().Get("article_id"); id != "" {
		article, found, err := m.articles.Article(r.Context(), id)
		if err != nil {
			return err
		}
		if found {
			v := newArticleView(article)
			data.SelectedArticle = &v
			data.Editing = r.URL.Query().Get("edit") == "1"
		}
	}

	return nil
}

func newArticleView(a models.Article) articleView {
	return articleView{
		ID:        a.ID,
		Title:     a.Title,
		Snippet:   a.Snippet,
		Content:   a.Content,
		Rendered:  models.RenderMarkdown(a.Content),
		CreatedAt: a.CreatedAt.Format("Jan 2, 2006"),
	}
}

// HandleSSE serves the server-sent events endpoint used for live session
// list and streaming message updates.
func (m *Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}
