package translation

// manageSize applies the retention policy after an append.
//
// The message cap wins when it fires; token accounting is then skipped for
// this cycle. Otherwise history is walked from newest to oldest and cut at the
// first entry that would bring the running total (seeded with the system
// message) to MaxTokens or beyond. That entry and everything older is dropped.
func (c *Context) manageSize() {
	if c.maxMessages > 0 && len(c.history) > c.maxMessages {
		c.history = append([]Entry{}, c.history[len(c.history)-c.maxMessages:]...)
		return
	}

	total := c.count(c.SystemMessage())
	for i := len(c.history) - 1; i >= 0; i-- {
		cost := c.entryCost(c.history[i])
		if total+cost < c.maxTokens {
			total += cost
			continue
		}
		c.history = append([]Entry{}, c.history[i+1:]...)
		return
	}
}

func (c *Context) entryCost(entry Entry) int {
	return c.count(entry.Source) + c.count(entry.Translation)
}

func (c *Context) count(text string) int {
	return c.counter.Count(text, c.model)
}
