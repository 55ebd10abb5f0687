// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/filecove/filecove/internal/archive"
	"github.com/filecove/filecove/internal/auth"
	"github.com/filecove/filecove/internal/config"
	"github.com/filecove/filecove/internal/fsops"
	"github.com/filecove/filecove/internal/logging"
	"github.com/filecove/filecove/internal/metrics"
	"github.com/filecove/filecove/internal/protocol"
	"github.com/filecove/filecove/internal/sandbox"
)

// Pool gzip writers to reduce allocations on listing responses.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Server is the HTTP server.
type Server struct {
	sessions *auth.Sessions
	resolver *sandbox.Resolver
	engine   *fsops.Engine
	archiver *archive.Archiver

	maxUploadBytes int64
	logins         *loginLimiter
	heavyOps       chan struct{}
}

// NewServer creates a new server.
func NewServer(
	sessions *auth.Sessions,
	resolver *sandbox.Resolver,
	engine *fsops.Engine,
	archiver *archive.Archiver,
	cfg *config.Config,
) *Server {
	return &Server{
		sessions:       sessions,
		resolver:       resolver,
		engine:         engine,
		archiver:       archiver,
		maxUploadBytes: cfg.MaxUploadBytes,
		logins:         newLoginLimiter(cfg.LoginRatePerMin),
		heavyOps:       make(chan struct{}, cfg.MaxHeavyOps),
	}
}

// Handler returns the HTTP handler with auth and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/v1/login", s.handleLogin)

	// Protected endpoints
	protected := http.NewServeMux()
	protected.HandleFunc("GET /api/v1/files/{path...}", s.handleList)
	protected.HandleFunc("GET /api/v1/download/{path...}", s.handleDownload)
	protected.HandleFunc("GET /api/v1/zip/{path...}", s.handleZip)
	protected.HandleFunc("POST /api/v1/dirs/{path...}", s.handleCreateDir)
	protected.HandleFunc("DELETE /api/v1/files/{path...}", s.handleDelete)
	protected.HandleFunc("POST /api/v1/upload/{path...}", s.handleUpload)
	protected.HandleFunc("POST /api/v1/unpack/{path...}", s.handleUnpack)

	mux.Handle("/api/v1/", s.sessions.Middleware(protected))

	// Apply logging and metrics middleware
	return metrics.Middleware(logging.Middleware(mux))
}

// tenantPath authorizes the request's token for the path parameter and
// resolves it inside the sandbox.
func (s *Server) tenantPath(r *http.Request) (sandbox.ResolvedPath, error) {
	rel := r.PathValue("path")
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		return sandbox.ResolvedPath{}, auth.ErrAuthFailure
	}
	if _, err := s.sessions.Authorize(claims.Token, rel); err != nil {
		return sandbox.ResolvedPath{}, err
	}
	return s.resolver.Resolve(rel)
}

// acquireHeavy takes a slot for zip/unpack/upload work, answering 503
// when the cap is reached. The returned release gives the slot back.
func (s *Server) acquireHeavy(w http.ResponseWriter, r *http.Request) (func(), bool) {
	select {
	case s.heavyOps <- struct{}{}:
		metrics.HeavyOpStarted()
		return func() {
			<-s.heavyOps
			metrics.HeavyOpFinished()
		}, true
	case <-r.Context().Done():
		return nil, false
	default:
		s.sendError(w, http.StatusServiceUnavailable, "server busy")
		return nil, false
	}
}

// sendFault maps an operation error onto an HTTP error response.
func (s *Server) sendFault(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, auth.ErrAuthFailure):
		s.sendError(w, http.StatusUnauthorized, "access denied")
	case errors.Is(err, sandbox.ErrInvalidPath):
		s.sendError(w, http.StatusBadRequest, "invalid path")
	case errors.Is(err, fsops.ErrInvalidInput):
		s.sendError(w, http.StatusBadRequest, "invalid name")
	case errors.Is(err, fsops.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "not found")
	case errors.Is(err, fsops.ErrAlreadyExists):
		s.sendError(w, http.StatusConflict, "already exists")
	case errors.Is(err, fsops.ErrForbidden), errors.Is(err, fs.ErrPermission):
		s.sendError(w, http.StatusForbidden, "forbidden")
	case errors.As(err, &tooLarge):
		s.sendError(w, http.StatusRequestEntityTooLarge, "upload too large")
	case errors.Is(err, archive.ErrZip), errors.Is(err, archive.ErrUnpack):
		s.sendError(w, http.StatusBadGateway, "archive tool failed")
	default:
		logging.WithContext(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// loginLimiter throttles login attempts per client IP.
type loginLimiter struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	clients map[string]*rate.Limiter
}

func newLoginLimiter(perMinute int) *loginLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &loginLimiter{
		perSec:  rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
		clients: make(map[string]*rate.Limiter),
	}
}

func (l *loginLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.clients[ip]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.clients[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
