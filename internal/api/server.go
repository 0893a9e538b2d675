package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagerender/internal/config"
	"github.com/JakeFAU/pagerender/internal/logging"
	"github.com/JakeFAU/pagerender/internal/metrics"
	"github.com/JakeFAU/pagerender/internal/scrape"
)

const (
	invalidURLMessage = "Invalid URL format"
	maxUpdateBody     = 1 << 20

	badUpdateBodyMessage = "request body must be a JSON array of URLs"
)

// Fetcher returns rendered HTML for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Preloader exposes the preload set.
type Preloader interface {
	List() []scrape.PreloadStatus
	Update(urls []string) (scrape.UpdateResult, error)
}

// EntryReader reads the cached entry for a URL, fresh or not.
type EntryReader interface {
	Get(url string) (scrape.Entry, bool)
}

// ReadinessChecker reports whether the render engine can take work.
type ReadinessChecker interface {
	Ready() bool
}

// Server wires HTTP handlers to the fetch coordinator and preload manager.
type Server struct {
	router    chi.Router
	fetcher   Fetcher
	preloader Preloader
	entries   EntryReader
	readiness ReadinessChecker
	idGen     scrape.IDGenerator
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	fetcher Fetcher,
	preloader Preloader,
	entries EntryReader,
	readiness ReadinessChecker,
	idGen scrape.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		fetcher:   fetcher,
		preloader: preloader,
		entries:   entries,
		readiness: readiness,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
	}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/scrape", s.scrape)
		r.Route("/preload", func(r chi.Router) {
			r.Get("/list", s.listPreload)
			r.Post("/update", s.updatePreload)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.readiness != nil && !s.readiness.Ready() {
		s.writeJSON(r.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	url, err := scrape.NormalizeURL(r.URL.Query().Get("url"))
	if err != nil {
		s.writeError(ctx, w, http.StatusBadRequest, invalidURLMessage)
		return
	}

	html, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		s.writeFetchError(ctx, w, url, err)
		return
	}

	// The entry may have been replaced since Fetch returned; only its own body
	// gets its digest.
	if entry, ok := s.entries.Get(url); ok && entry.Digest != "" && entry.HTML == html {
		etag := `"` + entry.Digest + `"`
		w.Header().Set("ETag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(html)); err != nil {
		logging.FromContext(ctx, s.logger).Warn("write scrape response failed", zap.Error(err))
	}
}

func (s *Server) writeFetchError(ctx context.Context, w http.ResponseWriter, url string, err error) {
	logger := logging.FromContext(ctx, s.logger)
	switch {
	case scrape.IsInvalidInput(err):
		s.writeError(ctx, w, http.StatusBadRequest, invalidURLMessage)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		logger.Warn("scrape timed out", zap.String("url", url), zap.Error(err))
		s.writeError(ctx, w, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(ctx.Err(), context.Canceled):
		logger.Info("client went away before render finished", zap.String("url", url))
	default:
		logger.Error("scrape failed", zap.String("url", url), zap.Error(err))
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) listPreload(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(r.Context(), w, http.StatusOK, s.preloader.List())
}

func (s *Server) updatePreload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var urls []string
	body := http.MaxBytesReader(w, r.Body, maxUpdateBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(&urls); err != nil || urls == nil {
		s.writeError(ctx, w, http.StatusBadRequest, badUpdateBodyMessage)
		return
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		s.writeError(ctx, w, http.StatusBadRequest, badUpdateBodyMessage)
		return
	}

	result, err := s.preloader.Update(urls)
	if err != nil {
		var fetchErr *scrape.FetchError
		if errors.As(err, &fetchErr) && fetchErr.Kind == scrape.FetchInvalidInput {
			s.writeError(ctx, w, http.StatusBadRequest, fmt.Sprintf("%s: %s", invalidURLMessage, fetchErr.URL))
			return
		}
		s.writeError(ctx, w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(ctx, w, http.StatusOK, result)
}

func (s *Server) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx, s.logger).Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	s.writeJSON(ctx, w, status, map[string]string{"error": msg})
}
