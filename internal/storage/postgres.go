package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "tgscraper/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// pgPool is the subset of *pgxpool.Pool the store needs.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type postgresStore struct {
	pool pgPool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.Path)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	st := newPostgresStore(pool, log)
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

func newPostgresStore(pool pgPool, log logx.Logger) *postgresStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &postgresStore{pool: pool, log: log}
}

func (s *postgresStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigrations); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) LastPostID(ctx context.Context, channel string) (int64, bool, error) {
	if s == nil || s.pool == nil {
		return 0, false, ErrDisabled
	}
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT last_id FROM checkpoints WHERE channel = $1`, channelKey(channel)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select checkpoint: %w", err)
	}
	return id, true, nil
}

func (s *postgresStore) SavePosts(ctx context.Context, channel string, posts []Post) (int, error) {
	if s == nil || s.pool == nil {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, p := range fresh {
		var postedAt *time.Time
		if !p.Date.IsZero() {
			d := p.Date.UTC()
			postedAt = &d
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO posts (channel, post_id, posted_at, body, views, tags, scraped_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (channel, post_id) DO NOTHING`,
			key, p.ID, postedAt, p.Text, p.Views, p.Tags, scrapedAt(p),
		)
		if err != nil {
			return 0, fmt.Errorf("insert post: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}

	newest := fresh[len(fresh)-1].ID
	if _, err := tx.Exec(ctx,
		`INSERT INTO checkpoints (channel, last_id, updated_at)
VALUES ($1,$2,now())
ON CONFLICT (channel) DO UPDATE SET last_id = GREATEST(checkpoints.last_id, EXCLUDED.last_id), updated_at = now()`,
		key, newest,
	); err != nil {
		return 0, fmt.Errorf("upsert checkpoint: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func (s *postgresStore) AppendCycle(ctx context.Context, rec CycleRecord) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	var errText *string
	if rec.Error != "" {
		errText = &rec.Error
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cycles (id, number, started_at, finished_at, items, attempted, failed, skipped, outcome, err)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.Number, rec.StartedAt, rec.FinishedAt,
		rec.Items, rec.Attempted, rec.Failed, rec.Skipped, rec.Outcome, errText,
	)
	if err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}
