// Package translation holds the in-memory context of one translation session
// and the policy that keeps it inside the model's context window.
//
// Invariants:
// - History is append-only and is only ever trimmed from the oldest end.
// - After AddTranslation the history fits the message cap, or the token total is below MaxTokens.
// - References are replaced as a whole, never merged.
//
// Usage:
//
//	tc := translation.New(translation.Options{MaxTokens: 8000, Counter: counter})
//	tc.SetSystemPrompt("Translate Japanese web novels into English.")
//	tc.AddTranslation("こんにちは", "Hello")
//	messages := append(tc.Render(), translation.Message{Role: translation.RoleUser, Content: next})
package translation
