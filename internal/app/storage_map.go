package app

import (
	"strings"

	"tgscraper/internal/config"
	"tgscraper/internal/scrape"
	"tgscraper/internal/storage"
)

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none":
		return storage.Config{}
	case "postgres", "postgresql", "pgx":
		return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.DSN), MaxConns: sc.MaxConns}
	default:
		return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: sc.BusyTimeoutDuration()}
	}
}

func mapScrapeConfig(cfg *config.Config) scrape.Config {
	return scrape.Config{
		BaseURL:        cfg.Scrape.BaseURL,
		UserAgent:      cfg.Scrape.UserAgent,
		RequestTimeout: cfg.Scrape.RequestTimeoutDuration(),
		MaxPages:       cfg.Scrape.MaxPages,
		Storage:        mapStorageConfig(cfg),
	}
}
