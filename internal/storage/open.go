package storage

import (
	"context"
	"errors"
	"strings"

	logx "tgscraper/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func channelKey(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}
