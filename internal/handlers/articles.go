package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell-ui/inkwell/internal/models"
)

// HandleSaveArticle saves chat output into the article library. It expects a
// "content" form field carrying the markdown text; title and snippet are
// derived from it.
func (m *Main) HandleSaveArticle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	content := r.FormValue("content")
	if content == "" {
		http.Error(w, "Content is required", http.StatusBadRequest)
		return
	}

	article := models.NewArticle(uuid.New().String(), content, time.Now())
	if err := m.articles.AddArticle(r.Context(), article); err != nil {
		m.logger.Error("Failed to save article", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/?view=articles", http.StatusSeeOther)
}

// HandleNewArticle creates a blank draft and opens it in the editor.
func (m *Main) HandleNewArticle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	article := models.NewBlankArticle(uuid.New().String(), time.Now())
	if err := m.articles.AddArticle(r.Context(), article); err != nil {
		m.logger.Error("Failed to create article", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/?view=articles&article_id=%s&edit=1", article.ID), http.StatusSeeOther)
}

// HandleEditArticle commits an edit: title and content are replaced wholesale
// and the snippet re-derived from the new content. Editing an article that no
// longer exists is a no-op.
func (m *Main) HandleEditArticle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.FormValue("article_id")
	if id == "" {
		http.Error(w, "Article id is required", http.StatusBadRequest)
		return
	}

	article, found, err := m.articles.Article(r.Context(), id)
	if err != nil {
		m.logger.Error("Failed to get article",
			slog.String("articleID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if found {
		updated := article.WithEdit(r.FormValue("title"), r.FormValue("content"))
		if err := m.articles.UpdateArticle(r.Context(), updated); err != nil {
			m.logger.Error("Failed to update article",
				slog.String("articleID", id),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	http.Redirect(w, r, "/?view=articles&article_id="+id, http.StatusSeeOther)
}

// HandleDeleteArticle removes an article from the library.
func (m *Main) HandleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.FormValue("article_id")
	if id == "" {
		http.Error(w, "Article id is required", http.StatusBadRequest)
		return
	}

	if err := m.articles.DeleteArticle(r.Context(), id); err != nil {
		m.logger.Error("Failed to delete article",
			slog.String("articleID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/?view=articles", http.StatusSeeOther)
}

// HandleExportArticle offers an article as a markdown file download. The
// filename is derived from the title; the body is the raw stored markdown.
func (m *Main) HandleExportArticle(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("article_id")
	if id == "" {
		http.Error(w, "Article id is required", http.StatusBadRequest)
		return
	}

	article, found, err := m.articles.Article(r.Context(), id)
	if err != nil {
		m.logger.Error("Failed to get article",
			slog.String("articleID", id),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", article.ExportFilename()))
	if _, err := w.Write([]byte(article.Content)); err != nil {
		m.logger.Error("Failed to write article export",
			slog.String("articleID", id),
			slog.String(errLoggerKey, err.Error()))
	}
}
