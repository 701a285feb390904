// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package lineserver exposes pooled files over HTTP: line ranges as NDJSON,
// index snapshots, and indexing control.
package lineserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/lineseek/internal/filepool"
	"github.com/cardinalhq/lineseek/internal/idgen"
	"github.com/cardinalhq/lineseek/internal/largefile"
	"github.com/cardinalhq/lineseek/internal/logctx"
)

// RequestIDHeader carries the id assigned to each request.
const RequestIDHeader = "X-Request-Id"

// flushEvery is how many lines are written between flushes of a streamed
// response.
const flushEvery = 256

type Server struct {
	cfg    Config
	pool   *filepool.Pool
	router *chi.Mux
	logger *slog.Logger
	server *http.Server
}

var tracer = otel.Tracer("github.com/cardinalhq/lineseek/internal/lineserver")

func NewServer(cfg Config, pool *filepool.Pool, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		pool:   pool,
		router: chi.NewRouter(),
		logger: logger,
	}
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestContext)
	s.router.Use(middleware.Recoverer)

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/lines", s.handleLines)
		r.Get("/index", s.handleGetIndex)
		r.Post("/index", s.handleStartIndex)
		r.Get("/files", s.handleListFiles)
		r.Delete("/files", s.handleEvict)
	})
	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("Starting line server", slog.String("addr", ln.Addr().String()))

	errc := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Stopping line server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}

// requestContext tags each request with an id and a logger carrying it.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = idgen.UUIDToBase36(uuid.New())
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := logctx.WithAttrs(logctx.WithLogger(r.Context(), s.logger), slog.String("requestID", id))
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logctx.FromContext(ctx).Debug("Handled request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)))
	})
}

// resolvePath maps the path query parameter to a file, keeping it under the
// configured root.
func (s *Server) resolvePath(r *http.Request) (string, error) {
	p := r.URL.Query().Get("path")
	if p == "" {
		return "", errBadRequest("path is required")
	}
	if s.cfg.Root == "" {
		if !filepath.IsAbs(p) {
			return "", errBadRequest("path must be absolute")
		}
		return filepath.Clean(p), nil
	}
	root := filepath.Clean(s.cfg.Root)
	full := p
	if !filepath.IsAbs(p) {
		full = filepath.Join(root, p)
	}
	full = filepath.Clean(full)
	if !within(root, full) {
		return "", errForbidden("path is outside the served root")
	}

	// Symlinks under the root must not lead out of it. A missing file is
	// left for the open to report.
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return full, nil
	}
	if realRoot, err := filepath.EvalSymlinks(root); err == nil {
		root = realRoot
	}
	if !within(root, resolved) {
		return "", errForbidden("path is outside the served root")
	}
	return resolved, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

type lineRecord struct {
	Line int64  `json:"line"`
	Text string `json:"text"`
}

type linesTrailer struct {
	Done    bool   `json:"done"`
	Next    int64  `json:"next"`
	EOF     bool   `json:"eof"`
	Resumed bool   `json:"resumed,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleLines(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "lineseek.lineserver.lines", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.respondError(w, r, err)
	}

	path, err := s.resolvePath(r)
	if err != nil {
		fail(err)
		return
	}
	q := r.URL.Query()
	count, err := intParam(q.Get("count"), 100)
	if err != nil || count < 0 {
		fail(errBadRequest("count must be a non-negative integer"))
		return
	}
	count = min(count, s.cfg.MaxCount)

	d, err := s.pool.Get(ctx, path)
	if err != nil {
		fail(err)
		return
	}
	if _, err := s.pool.Index(ctx, path, false); err != nil && !errors.Is(err, largefile.ErrIndexInProgress) {
		fail(err)
		return
	}

	span.SetAttributes(attribute.String("path", path), attribute.Int64("count", count))

	var start int64
	if pct := q.Get("percent"); pct != "" {
		percent, perr := strconv.ParseFloat(pct, 64)
		if perr != nil {
			fail(errBadRequest("percent must be a number"))
			return
		}
		if err := d.WaitIndexed(ctx); err != nil {
			fail(err)
			return
		}
		if start, err = d.PercentLine(percent); err != nil {
			fail(err)
			return
		}
	} else if start, err = intParam(q.Get("start"), 0); err != nil {
		fail(errBadRequest("start must be an integer"))
		return
	}

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	started := false
	stats, err := d.Fetch(ctx, start, count, func(line int64, text string) error {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(lineRecord{Line: line, Text: text}); err != nil {
			return err
		}
		if flusher != nil && (line-start+1)%flushEvery == 0 {
			flusher.Flush()
		}
		return nil
	})
	if err != nil && !started {
		fail(err)
		return
	}
	if !started {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
	span.SetAttributes(
		attribute.Int64("start", start),
		attribute.Int64("emitted", stats.Emitted),
		attribute.Bool("resumed", stats.Resumed),
	)
	trailer := linesTrailer{Done: err == nil, Next: start + stats.Emitted, EOF: stats.EOF, Resumed: stats.Resumed}
	if err != nil {
		trailer.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream ended early")
		logctx.FromContext(ctx).Warn("Line stream ended early", slog.String("path", path), slog.Any("error", err))
	}
	_ = enc.Encode(trailer)
}

type markRecord struct {
	Byte int64 `json:"byte"`
	Line int64 `json:"line"`
}

type indexResponse struct {
	Path        string       `json:"path"`
	Format      string       `json:"format"`
	Size        int64        `json:"size"`
	Lines       int64        `json:"lines"`
	Indexed     bool         `json:"indexed"`
	Indexing    bool         `json:"indexing"`
	FromSidecar bool         `json:"fromSidecar,omitempty"`
	Error       string       `json:"error,omitempty"`
	Entries     []markRecord `json:"entries"`
}

func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolvePath(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	d, err := s.pool.Get(r.Context(), path)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	st := d.Stats()
	resp := indexResponse{
		Path:        path,
		Format:      st.Format.String(),
		Size:        st.Size,
		Lines:       st.Lines,
		Indexed:     st.Indexed,
		FromSidecar: st.FromSidecar,
		Entries:     []markRecord{},
	}
	for _, p := range s.pool.Indexing() {
		if p == path {
			resp.Indexing = true
		}
	}
	if st.IndexErr != nil {
		resp.Error = st.IndexErr.Error()
	}
	for _, m := range d.Marks() {
		resp.Entries = append(resp.Entries, markRecord{Byte: m.Byte, Line: m.Line})
	}
	writeJSON(w, http.StatusOK, resp)
}

type startIndexResponse struct {
	Path   string `json:"path"`
	Worker string `json:"worker,omitempty"`
	Status string `json:"status"`
}

func (s *Server) handleStartIndex(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolvePath(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	reindex, _ := strconv.ParseBool(r.URL.Query().Get("reindex"))
	id, err := s.pool.Index(r.Context(), path, reindex)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if id == "" {
		writeJSON(w, http.StatusOK, startIndexResponse{Path: path, Status: "indexed"})
		return
	}
	logctx.FromContext(r.Context()).Info("Indexing started", slog.String("path", path), slog.String("worker", id))
	writeJSON(w, http.StatusAccepted, startIndexResponse{Path: path, Worker: id, Status: "indexing"})
}

type fileRecord struct {
	Path     string `json:"path"`
	Format   string `json:"format"`
	State    string `json:"state"`
	Size     int64  `json:"size"`
	Lines    int64  `json:"lines"`
	Indexed  bool   `json:"indexed"`
	Indexing bool   `json:"indexing"`
	Entries  int    `json:"entries"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request) {
	files := s.pool.Files()
	out := make([]fileRecord, 0, len(files))
	for _, f := range files {
		out = append(out, fileRecord{
			Path:     f.Path,
			Format:   f.Stats.Format.String(),
			State:    f.Stats.State.String(),
			Size:     f.Stats.Size,
			Lines:    f.Stats.Lines,
			Indexed:  f.Stats.Indexed,
			Indexing: f.Indexing,
			Entries:  f.Stats.Entries,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvict(w http.ResponseWriter, r *http.Request) {
	path, err := s.resolvePath(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !s.pool.Evict(path) {
		s.respondError(w, r, errNotFound("file is not open"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intParam(v string, def int64) (int64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", slog.Any("error", err))
	}
}
