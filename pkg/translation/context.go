package translation

import (
	"fmt"
	"slices"
	"strings"
)

// Context is the rolling conversation state of one translation session.
// It is not safe for concurrent use; callers serialize access per session.
type Context struct {
	systemPrompt string
	references   []string
	history      []Entry

	model       string
	maxMessages int
	maxTokens   int
	counter     TokenCounter
}

// New creates an empty Context.
func New(opts Options) *Context {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.MaxMessages < 0 {
		opts.MaxMessages = 0
	}
	if opts.Counter == nil {
		opts.Counter = runeCounter{}
	}

	return &Context{
		references:  []string{},
		history:     []Entry{},
		model:       opts.Model,
		maxMessages: opts.MaxMessages,
		maxTokens:   opts.MaxTokens,
		counter:     opts.Counter,
	}
}

// Restore replaces the whole state with previously persisted content.
// No size management runs here; limits apply from the next AddTranslation.
func (c *Context) Restore(systemPrompt string, references []string, history []Entry) {
	c.systemPrompt = systemPrompt
	c.references = append([]string{}, references...)
	c.history = append([]Entry{}, history...)
}

// SetSystemPrompt replaces the prompt. An empty prompt selects DefaultSystemPrompt.
func (c *Context) SetSystemPrompt(prompt string) {
	c.systemPrompt = prompt
}

// AddReference appends a reference document.
func (c *Context) AddReference(text string) {
	c.references = append(c.references, text)
}

// ClearReferences drops every reference document.
func (c *Context) ClearReferences() {
	c.references = []string{}
}

// SetReferences replaces the reference set with refs, in order.
func (c *Context) SetReferences(refs []string) {
	c.ClearReferences()
	for _, ref := range refs {
		c.AddReference(ref)
	}
}

// AddTranslation records a completed exchange and then enforces the size limits.
func (c *Context) AddTranslation(source, translated string) {
	c.history = append(c.history, Entry{Source: source, Translation: translated})
	c.manageSize()
}

// SystemPrompt returns the stored prompt, which may be empty.
func (c *Context) SystemPrompt() string {
	return c.systemPrompt
}

// References returns a copy of the reference documents.
func (c *Context) References() []string {
	return slices.Clone(c.references)
}

// History returns a copy of the history, oldest first.
func (c *Context) History() []Entry {
	return slices.Clone(c.history)
}

// MaxMessages returns the configured message cap.
func (c *Context) MaxMessages() int {
	return c.maxMessages
}

// MaxTokens returns the configured token ceiling.
func (c *Context) MaxTokens() int {
	return c.maxTokens
}

// SystemMessage renders the content of the system message.
func (c *Context) SystemMessage() string {
	content := c.systemPrompt
	if content == "" {
		content = DefaultSystemPrompt
	}
	if len(c.references) == 0 {
		return content
	}

	var b strings.Builder
	b.WriteString(content)
	b.WriteString("\n\nReference materials:\n")
	for i, ref := range c.references {
		fmt.Fprintf(&b, "\n--- Reference %d ---\n%s\n", i+1, ref)
	}
	return b.String()
}

// Render builds the message sequence for a completion call: the system
// message followed by a user/assistant pair per history entry. The pending
// input is not included; callers append it as the final user message.
func (c *Context) Render() []Message {
	messages := make([]Message, 0, 1+2*len(c.history))
	messages = append(messages, Message{Role: RoleSystem, Content: c.SystemMessage()})
	for _, entry := range c.history {
		messages = append(messages,
			Message{Role: RoleUser, Content: entry.Source},
			Message{Role: RoleAssistant, Content: entry.Translation},
		)
	}
	return messages
}

// TokenTotal is the token cost of the rendered context as accounted by the
// size policy: the system message plus source and translation of every entry.
func (c *Context) TokenTotal() int {
	total := c.count(c.SystemMessage())
	for _, entry := range c.history {
		total += c.entryCost(entry)
	}
	return total
}
