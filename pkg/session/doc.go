// Package session persists translation sessions as whole JSON records.
//
// A record holds the system prompt, the reference list and the retained
// translation history of one session. Two backends implement Store: one
// JSON file per session, or a single SQLite table.
//
// Invariants:
// - Session ids are validated and path-safe.
// - Saves overwrite the whole record; records are never deleted.
// - A missing or malformed record loads as EmptyRecord.
// - Loads and saves are observable via tracing and metrics.
//
// Usage:
//
//	store, _ := session.Open(session.Config{Driver: session.DriverFile, Dir: "data"})
//	rec, _ := store.Load(ctx, "default")
//	rec.References = append(rec.References, "glossary")
//	_ = store.Save(ctx, "default", rec)
package session
