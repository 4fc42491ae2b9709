// Package scrape implements the channel executor on top of Telegram's public
// web preview (https://t.me/s/<channel>).
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"tgscraper/internal/metrics"
	"tgscraper/internal/registry"
	"tgscraper/internal/storage"
	logx "tgscraper/pkg/logx"
)

var ErrNotInitialized = errors.New("scraper not initialized")

// Config controls the collector and the storage it writes to.
type Config struct {
	BaseURL        string
	UserAgent      string
	RequestTimeout time.Duration
	MaxPages       int
	Storage        storage.Config
}

// Executor scrapes one channel per Execute call.
type Executor struct {
	cfg Config
	log logx.Logger

	openStore func(ctx context.Context, cfg storage.Config, log logx.Logger) (storage.Store, error)
	now       func() time.Time

	mu        sync.Mutex
	store     storage.Store
	transport *http.Transport
	base      *colly.Collector

	hint atomic.Bool
}

type Option func(*Executor)

// WithStore skips storage.Open and uses st instead.
func WithStore(st storage.Store) Option {
	return func(e *Executor) {
		e.openStore = func(context.Context, storage.Config, logx.Logger) (storage.Store, error) { return st, nil }
	}
}

func withClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func New(cfg Config, log logx.Logger, opts ...Option) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://t.me/s/"
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	e := &Executor{
		cfg:       cfg,
		log:       log,
		openStore: storage.Open,
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Initialize opens storage and builds the collector.
func (e *Executor) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.base != nil {
		return nil
	}
	if _, err := url.Parse(e.cfg.BaseURL); err != nil {
		return fmt.Errorf("base url: %w", err)
	}

	st, err := e.openStore(ctx, e.cfg.Storage, e.log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	e.store = st
	if st == nil {
		e.log.Warn("storage disabled; posts are not persisted")
	}

	e.transport = newHTTPTransport()
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
	)
	if e.cfg.UserAgent != "" {
		c.UserAgent = e.cfg.UserAgent
	}
	c.WithTransport(e.transport)
	c.SetRequestTimeout(e.cfg.RequestTimeout)
	e.base = c

	e.log.Info("scraper initialized",
		logx.String("base_url", e.cfg.BaseURL),
		logx.Duration("request_timeout", e.cfg.RequestTimeout),
		logx.Bool("storage", st != nil),
	)
	return nil
}

// ShutdownHint asks a running Execute to stop after the current page.
func (e *Executor) ShutdownHint() { e.hint.Store(true) }

// Execute fetches up to max_pages preview pages, newest first, and saves
// posts that are newer than the channel checkpoint.
func (e *Executor) Execute(ctx context.Context, item registry.Item) error {
	e.mu.Lock()
	base, st := e.base, e.store
	e.mu.Unlock()
	if base == nil {
		return ErrNotInitialized
	}

	channel := item.Name
	maxPages := item.Config.MaxPages
	if maxPages <= 0 {
		maxPages = e.cfg.MaxPages
	}

	var (
		last  int64
		known bool
	)
	if st != nil {
		var err error
		last, known, err = st.LastPostID(ctx, channel)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
	}

	var (
		collected []storage.Post
		before    int64
	)
	for page := 0; page < maxPages; page++ {
		if page > 0 && e.hint.Load() {
			e.log.Debug("shutdown hint set; stopping pagination", logx.String("channel", channel), logx.Int("page", page))
			break
		}
		posts, err := e.fetchPage(ctx, base, e.pageURL(channel, before))
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", page+1, err)
		}
		if len(posts) == 0 {
			break
		}
		for i := range posts {
			posts[i].Tags = item.Config.Tags
		}
		collected = append(collected, posts...)

		oldest := oldestID(posts)
		if known && oldest <= last {
			break
		}
		if oldest <= 1 {
			break
		}
		before = oldest
	}

	if st == nil {
		e.log.Info("channel scraped", logx.String("channel", channel), logx.Int("posts", len(collected)))
		return nil
	}
	saved, err := st.SavePosts(ctx, channel, collected)
	if err != nil {
		return fmt.Errorf("save posts: %w", err)
	}
	metrics.ObservePostsSaved(channel, saved)
	e.log.Info("channel scraped",
		logx.String("channel", channel),
		logx.Int("posts", len(collected)),
		logx.Int("new", saved),
	)
	return nil
}

func (e *Executor) pageURL(channel string, before int64) string {
	u := e.cfg.BaseURL + url.PathEscape(channel)
	if before > 0 {
		u += fmt.Sprintf("?before=%d", before)
	}
	return u
}

func (e *Executor) fetchPage(ctx context.Context, base *colly.Collector, pageURL string) ([]storage.Post, error) {
	c := base.Clone()
	c.Context = ctx

	var (
		posts    []storage.Post
		fetchErr error
		status   int
	)
	scrapedAt := e.now().UTC()
	c.OnResponse(func(r *colly.Response) { status = r.StatusCode })
	c.OnHTML(messageSelector, func(el *colly.HTMLElement) {
		if p, ok := parseMessage(el, scrapedAt); ok {
			posts = append(posts, p)
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() { done <- c.Visit(pageURL) }()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch canceled: %w", ctxErr)
		}
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", pageURL, err)
		}
		if fetchErr != nil {
			return nil, fetchErr
		}
	}
	e.log.Trace("page fetched", logx.String("url", pageURL), logx.Int("status", status), logx.Int("posts", len(posts)))
	return posts, nil
}

// AppendCycle writes a cycle audit record to the executor's store.
func (e *Executor) AppendCycle(ctx context.Context, rec storage.CycleRecord) error {
	e.mu.Lock()
	st := e.store
	e.mu.Unlock()
	if st == nil {
		return storage.ErrDisabled
	}
	return st.AppendCycle(ctx, rec)
}

// Teardown closes storage first, then idle HTTP connections.
// It is safe after a failed or partial Initialize.
func (e *Executor) Teardown(ctx context.Context) error {
	_ = ctx
	e.mu.Lock()
	st, tr := e.store, e.transport
	e.store, e.transport, e.base = nil, nil, nil
	e.mu.Unlock()

	var errs []error
	if st != nil {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if tr != nil {
		tr.CloseIdleConnections()
	}
	return errors.Join(errs...)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
