package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joescharf/scoutsync/internal/models"
	"github.com/joescharf/scoutsync/internal/normalize"
	"github.com/joescharf/scoutsync/internal/state"
)

// SyncPath is the single relay resource.
const SyncPath = "/sync-state"

// DefaultMaxBodyBytes caps PUT bodies.
const DefaultMaxBodyBytes = 1 << 20

// Server provides the relay HTTP handlers.
type Server struct {
	store   *state.Store
	token   string
	maxBody int64
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires every sync request to carry token. An empty token leaves
// the endpoint open.
func WithToken(token string) Option {
	return func(s *Server) { s.token = strings.TrimSpace(token) }
}

// WithMaxBodyBytes overrides the PUT body limit.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock overrides the time used for timestamps the sender omitted.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer creates a relay server backed by st.
func NewServer(st *state.Store, opts ...Option) *Server {
	s := &Server{
		store:   st,
		maxBody: DefaultMaxBodyBytes,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns an http.Handler for the relay routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.health)
	mux.HandleFunc(SyncPath, s.syncState)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Sync-Token")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
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

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) syncState(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getState(w, r)
	case http.MethodPut:
		s.putState(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// authorized accepts the token verbatim in X-Sync-Token or as a bearer token.
func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	if r.Header.Get("X-Sync-Token") == s.token {
		return true
	}
	auth := r.Header.Get("Authorization")
	if bearer, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(bearer) == s.token
	}
	return false
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot(includeLog(r)))
}

func (s *Server) putState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	update, err := normalize.Envelope(body, s.now().UnixMilli())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, lockResult, err := s.store.Apply(update)
	if err != nil {
		s.logger.Error("persist sync state", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist state")
		return
	}
	snap.LockResult = lockResult
	if includeLog(r) {
		full := s.store.Snapshot(true)
		snap.ActivityLog = full.ActivityLog
	}
	s.logger.Debug("sync state updated",
		"targets", update.Targets != nil,
		"control", update.Control != nil,
		"activity", update.Activity != nil,
		"coords", len(update.Coords),
		"lock", lockCode(lockResult),
	)
	writeJSON(w, http.StatusOK, snap)
}

func includeLog(r *http.Request) bool {
	q := r.URL.Query()
	for _, key := range []string{"includeLog", "includeActivity"} {
		switch strings.ToLower(q.Get(key)) {
		case "1", "true", "yes":
			return true
		}
	}
	return false
}

func lockCode(res *models.LockResult) string {
	if res == nil {
		return ""
	}
	return string(res.Code)
}
