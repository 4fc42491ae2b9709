package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "tgscraper/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var sqliteMigrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LastPostID(ctx context.Context, channel string) (int64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrDisabled
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT last_id FROM checkpoints WHERE channel = ?`, channelKey(channel)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *sqliteStore) SavePosts(ctx context.Context, channel string, posts []Post) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	key := channelKey(channel)
	if key == "" {
		return 0, errors.New("channel is required")
	}
	fresh := newPosts(posts, 0, false)
	if len(fresh) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	inserted := 0
	for _, p := range fresh {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO posts(channel, post_id, posted_at, body, views, tags, scraped_at)
			 VALUES(?,?,?,?,?,?,?)`,
			key, p.ID, nullTime(p.Date), p.Text, nullStr(p.Views), nullStr(strings.Join(p.Tags, ",")),
			scrapedAt(p).Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	newest := fresh[len(fresh)-1].ID
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints(channel, last_id, updated_at) VALUES(?,?,?)
		 ON CONFLICT(channel) DO UPDATE SET
		   last_id = MAX(checkpoints.last_id, excluded.last_id),
		   updated_at = excluded.updated_at`,
		key, newest, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *sqliteStore) AppendCycle(ctx context.Context, rec CycleRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles(id, number, started_at, finished_at, items, attempted, failed, skipped, outcome, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Number, rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.FinishedAt.UTC().Format(time.RFC3339Nano),
		rec.Items, rec.Attempted, rec.Failed, rec.Skipped, rec.Outcome, nullStr(rec.Error),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func scrapedAt(p Post) time.Time {
	if p.ScrapedAt.IsZero() {
		return time.Now().UTC()
	}
	return p.ScrapedAt.UTC()
}
