package translation

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tableCounter returns a fixed cost for known strings and one token per word otherwise.
type tableCounter struct {
	costs map[string]int
}

func (c tableCounter) Count(text, _ string) int {
	if cost, ok := c.costs[text]; ok {
		return cost
	}
	return len(strings.Fields(text))
}

func entry(i int) Entry {
	return Entry{Source: fmt.Sprintf("s%d", i), Translation: fmt.Sprintf("t%d", i)}
}

func TestNewDefaults(t *testing.T) {
	tc := New(Options{})

	assert.Equal(t, DefaultMaxTokens, tc.MaxTokens())
	assert.Equal(t, 0, tc.MaxMessages())
	assert.Empty(t, tc.History())
	assert.Empty(t, tc.References())
	assert.Equal(t, "", tc.SystemPrompt())
}

func TestSystemMessage(t *testing.T) {
	t.Run("default prompt when empty", func(t *testing.T) {
		tc := New(Options{})
		assert.Equal(t, DefaultSystemPrompt, tc.SystemMessage())
	})

	t.Run("custom prompt", func(t *testing.T) {
		tc := New(Options{})
		tc.SetSystemPrompt("Translate to French.")
		assert.Equal(t, "Translate to French.", tc.SystemMessage())
	})

	t.Run("references appended in order", func(t *testing.T) {
		tc := New(Options{})
		tc.SetSystemPrompt("P")
		tc.AddReference("alpha")
		tc.AddReference("beta")

		expected := "P\n\nReference materials:\n" +
			"\n--- Reference 1 ---\nalpha\n" +
			"\n--- Reference 2 ---\nbeta\n"
		assert.Equal(t, expected, tc.SystemMessage())
	})

	t.Run("clear references removes section", func(t *testing.T) {
		tc := New(Options{})
		tc.AddReference("alpha")
		tc.ClearReferences()

		messages := tc.Render()
		require.Len(t, messages, 1)
		assert.NotContains(t, messages[0].Content, "Reference materials")
	})

	t.Run("set references replaces", func(t *testing.T) {
		tc := New(Options{})
		tc.SetReferences([]string{"a", "b"})
		tc.SetReferences([]string{"c"})

		assert.Equal(t, []string{"c"}, tc.References())
		assert.NotContains(t, tc.SystemMessage(), "Reference 2")
	})
}

func TestRender(t *testing.T) {
	tc := New(Options{MaxTokens: 1000})
	tc.SetSystemPrompt("sys")
	tc.AddTranslation("hola", "hello")
	tc.AddTranslation("adios", "bye")

	messages := tc.Render()
	assert.Equal(t, []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hola"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "adios"},
		{Role: RoleAssistant, Content: "bye"},
	}, messages)

	assert.Equal(t, messages, tc.Render(), "render must be idempotent")
}

func TestRenderReturnsIndependentSlices(t *testing.T) {
	tc := New(Options{})
	tc.AddTranslation("a", "b")

	history := tc.History()
	history[0].Source = "mutated"
	assert.Equal(t, "a", tc.History()[0].Source)
}

func TestMessageCap(t *testing.T) {
	tc := New(Options{MaxMessages: 2, MaxTokens: 1000})
	tc.AddTranslation("A", "a")
	tc.AddTranslation("B", "b")
	tc.AddTranslation("C", "c")

	assert.Equal(t, []Entry{{"B", "b"}, {"C", "c"}}, tc.History())
}

func TestMessageCapSkipsTokenAccounting(t *testing.T) {
	// Each entry costs 60 tokens, far above what two entries may use, but the
	// cap fires first and token accounting is skipped for that cycle.
	counter := tableCounter{costs: map[string]int{"big": 30}}
	tc := New(Options{MaxMessages: 1, MaxTokens: 50, Counter: counter})
	tc.SetSystemPrompt("p")

	tc.Restore("p", nil, []Entry{{"big", "big"}})
	tc.AddTranslation("big", "big")

	assert.Len(t, tc.History(), 1)
}

func TestTokenCapDropsOldest(t *testing.T) {
	costs := map[string]int{"SYS": 20}
	for i := 0; i < 10; i++ {
		costs[fmt.Sprintf("s%d", i)] = 15
		costs[fmt.Sprintf("t%d", i)] = 15
	}
	tc := New(Options{MaxTokens: 100, Counter: tableCounter{costs: costs}})
	tc.SetSystemPrompt("SYS")

	tc.AddTranslation(entry(0).Source, entry(0).Translation)
	tc.AddTranslation(entry(1).Source, entry(1).Translation)
	assert.Equal(t, []Entry{entry(0), entry(1)}, tc.History())
	assert.Equal(t, 80, tc.TokenTotal())

	tc.AddTranslation(entry(2).Source, entry(2).Translation)
	assert.Equal(t, []Entry{entry(1), entry(2)}, tc.History())
	assert.Less(t, tc.TokenTotal(), 100)

	for i := 3; i < 10; i++ {
		tc.AddTranslation(entry(i).Source, entry(i).Translation)
		assert.Equal(t, []Entry{entry(i - 1), entry(i)}, tc.History())
	}
}

func TestTokenCapBoundaryIsExclusive(t *testing.T) {
	counter := tableCounter{costs: map[string]int{"SYS": 10, "a": 20, "b": 20}}
	tc := New(Options{MaxTokens: 50, Counter: counter})
	tc.SetSystemPrompt("SYS")

	// 10 + 40 reaches the ceiling exactly, which is not allowed.
	tc.AddTranslation("a", "b")
	assert.Empty(t, tc.History())
}

func TestTokenCapDropsOversizedNewestEntry(t *testing.T) {
	counter := tableCounter{costs: map[string]int{"SYS": 10, "cheap": 1, "huge": 200}}
	tc := New(Options{MaxTokens: 100, Counter: counter})
	tc.SetSystemPrompt("SYS")

	tc.AddTranslation("cheap", "cheap")
	tc.AddTranslation("cheap", "cheap")
	require.Len(t, tc.History(), 2)

	// The newest entry alone blows the budget; the scan cuts there and keeps
	// nothing, even though the older cheap entries would fit on their own.
	tc.AddTranslation("huge", "cheap")
	assert.Empty(t, tc.History())
}

func TestTokenCapWithOversizedSystemMessage(t *testing.T) {
	counter := tableCounter{costs: map[string]int{"SYS": 500}}
	tc := New(Options{MaxTokens: 100, Counter: counter})
	tc.SetSystemPrompt("SYS")

	tc.AddTranslation("a", "b")
	assert.Empty(t, tc.History())
}

func TestReferencesCountTowardsBudget(t *testing.T) {
	tc := New(Options{MaxTokens: 40, Counter: tableCounter{}})
	tc.SetSystemPrompt("one two")
	tc.AddTranslation("a b c", "d e f")
	require.Len(t, tc.History(), 1)

	// A long reference pushes the system message over budget with the entry.
	tc.SetReferences([]string{strings.Repeat("word ", 25)})
	tc.AddTranslation("g", "h")
	assert.Equal(t, []Entry{{"g", "h"}}, tc.History())
}

func TestRestore(t *testing.T) {
	tc := New(Options{MaxMessages: 1})
	refs := []string{"r"}
	history := []Entry{{"a", "b"}, {"c", "d"}}

	tc.Restore("prompt", refs, history)
	refs[0] = "changed"
	history[0].Source = "changed"

	assert.Equal(t, "prompt", tc.SystemPrompt())
	assert.Equal(t, []string{"r"}, tc.References())
	assert.Equal(t, []Entry{{"a", "b"}, {"c", "d"}}, tc.History(), "restore does not trim")

	tc.AddTranslation("e", "f")
	assert.Equal(t, []Entry{{"e", "f"}}, tc.History())
}

func TestRetentionProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	words := func(n int) string {
		parts := make([]string, n)
		for i := range parts {
			parts[i] = "w"
		}
		return strings.Join(parts, " ")
	}

	for _, maxMessages := range []int{0, 1, 3, 8} {
		t.Run(fmt.Sprintf("max_messages_%d", maxMessages), func(t *testing.T) {
			tc := New(Options{MaxMessages: maxMessages, MaxTokens: 60, Counter: tableCounter{}})
			tc.SetSystemPrompt("system prompt")

			var added []Entry
			for i := 0; i < 200; i++ {
				e := Entry{
					Source:      fmt.Sprintf("%d %s", i, words(rng.IntN(12))),
					Translation: words(rng.IntN(12)),
				}
				added = append(added, e)
				tc.AddTranslation(e.Source, e.Translation)

				history := tc.History()
				capped := maxMessages > 0 && len(history) <= maxMessages
				assert.True(t, capped || tc.TokenTotal() < tc.MaxTokens(),
					"step %d: len=%d tokens=%d", i, len(history), tc.TokenTotal())

				// Survivors are always a contiguous suffix of everything added.
				assert.Equal(t, added[len(added)-len(history):], history, "step %d", i)
			}
		})
	}
}
