package storage

import (
	"context"
	"errors"
	"sort"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + checkpoint snapshot)
//   - "sqlite": SQLite database file (modernc, no cgo)
//   - "postgres": PostgreSQL via pgx; Path holds the DSN
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgx default
}

// Store is the persistence API used by the scraper and the cycle loop.
type Store interface {
	// LastPostID returns the highest post id saved for channel.
	LastPostID(ctx context.Context, channel string) (id int64, ok bool, err error)
	// SavePosts stores posts that are not known yet and advances the channel
	// checkpoint. It returns how many posts were new.
	SavePosts(ctx context.Context, channel string, posts []Post) (int, error)
	// AppendCycle records the outcome of one scrape cycle.
	AppendCycle(ctx context.Context, rec CycleRecord) error
	Close() error
}

// Post is one scraped channel message.
type Post struct {
	Channel   string    `json:"channel"`
	ID        int64     `json:"id"`
	Date      time.Time `json:"date"`
	Text      string    `json:"text"`
	Views     string    `json:"views,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// CycleRecord summarizes one pass over the registry.
// Keep it compact and schema-stable.
type CycleRecord struct {
	ID         string    `json:"id"`
	Number     int       `json:"number"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Items      int       `json:"items"`
	Attempted  int       `json:"attempted"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

// newPosts returns the posts with id > last, de-duplicated and sorted ascending.
func newPosts(posts []Post, last int64, known bool) []Post {
	seen := make(map[int64]struct{}, len(posts))
	out := make([]Post, 0, len(posts))
	for _, p := range posts {
		if p.ID <= 0 || (known && p.ID <= last) {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
