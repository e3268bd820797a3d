package models

import "time"

// ChatSession represents one conversation thread with its own ordered message
// log. Messages only grow; there is no reordering or per-message deletion.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultSessionTitle is the title given to a session before its first real
// user turn replaces it.
const DefaultSessionTitle = "New Conversation"

const sessionTitleMaxLen = 30

// WelcomeMessageContent is the seeded greeting shown in the default session
// created on first run.
const WelcomeMessageContent = "Hello! I am your AI writing assistant. You can ask me to write articles " +
	"for you, and then save them to your library.\n\n" +
	"مرحباً! أنا مساعد الذكاء الاصطناعي للكتابة. يمكنك أن تطلب مني كتابة مقالات لك، ثم حفظها في مكتبتك."

// DeriveSessionTitle returns the title a session should take from its first
// real user turn: the first 30 characters of the text.
func DeriveSessionTitle(firstUserText string) string {
	return truncateRunes(firstUserText, sessionTitleMaxLen)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
