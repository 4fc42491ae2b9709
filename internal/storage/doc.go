// Package storage persists scraped posts, per-channel checkpoints and the
// cycle audit trail.
//
// Three drivers are available:
//   - file: jsonl appends plus a checkpoint snapshot/journal pair
//   - sqlite: a single database file (pure Go driver)
//   - postgres: a pgx connection pool
package storage
