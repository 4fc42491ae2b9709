// Package ops serves the operations endpoints: liveness, readiness,
// Prometheus metrics and optional pprof.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tgscraper/internal/metrics"
	logx "tgscraper/pkg/logx"
)

// ErrInsecureBind is returned when a non-loopback address has no token.
var ErrInsecureBind = errors.New("ops refused to start: non-loopback addr requires token")

type Config struct {
	Addr  string
	Token string
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Readiness is reported by /readyz. A non-empty Reason marks the service as
// not ready.
type Readiness struct {
	Phase   string `json:"phase"`
	Reason  string `json:"reason,omitempty"`
	Cycle   int    `json:"cycle,omitempty"`
	Helpers any    `json:"helpers,omitempty"`
}

type Server struct {
	cfg   Config
	log   logx.Logger
	ready func() Readiness
}

func New(cfg Config, log logx.Logger, ready func() Readiness) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:9090"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if ready == nil {
		ready = func() Readiness { return Readiness{Phase: "running"} }
	}
	return &Server{cfg: cfg, log: log, ready: ready}
}

// Handler returns the router. Every route sits behind the token check when a
// token is configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.auth)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	if s.cfg.Pprof {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.Get("/", hpprof.Index)
			r.Get("/cmdline", hpprof.Cmdline)
			r.Get("/profile", hpprof.Profile)
			r.Post("/symbol", hpprof.Symbol)
			r.Get("/symbol", hpprof.Symbol)
			r.Get("/trace", hpprof.Trace)
			r.Get("/{profile}", func(w http.ResponseWriter, req *http.Request) {
				hpprof.Handler(chi.URLParam(req, "profile")).ServeHTTP(w, req)
			})
		})
	}
	return r
}

// Serve listens on the configured address until ctx is canceled.
// It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	addr := s.cfg.Addr
	if s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("ops refused to start", logx.String("addr", addr))
		return ErrInsecureBind
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("ops server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", s.cfg.Pprof),
		logx.Bool("token_set", s.cfg.Token != ""),
	)
	err := srv.Serve(ln)
	if ctx.Err() != nil {
		<-stopped
		s.log.Info("ops server stopped")
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ops server exited unexpectedly")
	}
	return err
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	rd := s.ready()
	status := http.StatusOK
	if rd.Reason != "" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rd)
}

// auth accepts "Authorization: Bearer <token>" or ?token=<token>.
func (s *Server) auth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
				got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
