package models

import (
	"regexp"
	"strings"
	"time"
)

// Article represents a saved piece of writing in the library. Title, Content
// and Snippet are replaced wholesale on edit; Snippet is always derived from
// Content and never edited independently.
type Article struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	// UntitledArticleTitle is used when no title can be derived from content.
	UntitledArticleTitle = "Untitled Article"

	// BlankArticleTitle is the placeholder title of a manually created draft.
	BlankArticleTitle = "New Article"
	// BlankArticleContent is the placeholder body of a manually created draft.
	BlankArticleContent = "Start writing your article here..."
	// BlankArticleSnippet is the placeholder snippet of a manually created draft.
	BlankArticleSnippet = "New draft..."

	articleTitleMaxLen   = 50
	articleSnippetMaxLen = 120
)

var (
	headingMarkers  = regexp.MustCompile(`^#+\s*`)
	nonFilenameRune = regexp.MustCompile(`[^A-Za-z0-9]`)
	spaceRuns       = regexp.MustCompile(` +`)
)

// NewArticle creates an article from markdown content, deriving the title
// from the first non-blank line and the snippet from the leading content.
func NewArticle(id, content string, createdAt time.Time) Article {
	return Article{
		ID:        id,
		Title:     DeriveArticleTitle(content),
		Content:   content,
		Snippet:   DeriveSnippet(content),
		CreatedAt: createdAt,
	}
}

// NewBlankArticle creates a manually started draft with fixed placeholder
// title, content, and snippet.
func NewBlankArticle(id string, createdAt time.Time) Article {
	return Article{
		ID:        id,
		Title:     BlankArticleTitle,
		Content:   BlankArticleContent,
		Snippet:   BlankArticleSnippet,
		CreatedAt: createdAt,
	}
}

// WithEdit returns a copy of the article with title and content replaced
// wholesale and the snippet re-derived from the new content.
func (a Article) WithEdit(title, content string) Article {
	a.Title = title
	a.Content = content
	a.Snippet = DeriveSnippet(content)
	return a
}

// DeriveArticleTitle extracts a title from markdown content: the first
// non-blank line with leading heading markers stripped, capped at 50
// characters. Content without a non-blank line yields "Untitled Article".
func DeriveArticleTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return truncateRunes(headingMarkers.ReplaceAllString(line, ""), articleTitleMaxLen)
	}
	return UntitledArticleTitle
}

// DeriveSnippet builds the listing preview for content: newlines and heading
// hashes collapsed to single spaces, trimmed, truncated to 120 characters,
// and suffixed with an ellipsis marker.
func DeriveSnippet(content string) string {
	s := strings.NewReplacer("\n", " ", "#", " ").Replace(content)
	s = strings.TrimSpace(spaceRuns.ReplaceAllString(s, " "))
	return truncateRunes(s, articleSnippetMaxLen) + "..."
}

// ExportFilename derives the suggested download filename for the article:
// the title with every character outside [A-Za-z0-9] replaced by an
// underscore, lowercased, with a ".md" suffix.
func (a Article) ExportFilename() string {
	return strings.ToLower(nonFilenameRune.ReplaceAllString(a.Title, "_")) + ".md"
}
