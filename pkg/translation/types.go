package translation

import "unicode/utf8"

// Message roles understood by chat-completion endpoints.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultSystemPrompt is used whenever the session prompt is empty.
const DefaultSystemPrompt = "You are a professional translator. Translate the given text into the target language."

// DefaultMaxTokens applies when Options.MaxTokens is not positive.
const DefaultMaxTokens = 8000

// Message is one role-tagged chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Entry is one completed exchange in a session history.
type Entry struct {
	Source      string `json:"source"`
	Translation string `json:"translation"`
}

// TokenCounter counts tokens of text for a model. An empty model selects the
// counter's default.
type TokenCounter interface {
	Count(text, model string) int
}

// Options configures a Context.
type Options struct {
	// Model is passed to the TokenCounter as the model hint.
	Model string
	// MaxMessages caps the number of history entries; 0 disables the cap.
	MaxMessages int
	// MaxTokens is the ceiling on the rendered token total.
	MaxTokens int
	Counter   TokenCounter
}

// runeCounter approximates four runes per token. Used only when no counter is supplied.
type runeCounter struct{}

func (runeCounter) Count(text, _ string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
