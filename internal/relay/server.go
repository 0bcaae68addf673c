// Package relay is a development backend for the console: the chat HTTP
// API, the chat socket and a health check, backed by SQLite history.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/wardline/internal/clock"
	"github.com/ashureev/wardline/internal/domain"
	"github.com/ashureev/wardline/internal/identity"
	"github.com/ashureev/wardline/internal/middleware"
	"github.com/ashureev/wardline/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	// APIPrefix is the versioned API root.
	APIPrefix = "/api/v1"
	// SocketPath is the fixed chat socket endpoint.
	SocketPath = "/ws"

	defaultHistoryLimit = 500
	healthPingTimeout   = 2 * time.Second
	maxBodySize         = 1 << 20
)

var (
	errMissingDepartment = errors.New("receiverDepartmentId is required")
	errMissingText       = errors.New("text is required")
)

// Config holds relay dependencies.
type Config struct {
	Repo          store.Repository
	Departments   []domain.Department
	HistoryLimit  int
	APIToken      string
	AllowedOrigin string
	IsDev         bool
	Clock         clock.Clock
	Logger        *slog.Logger
}

// Server owns the relay routes and the socket hub.
type Server struct {
	repo         store.Repository
	departments  []domain.Department
	historyLimit int
	apiToken     string
	clock        clock.Clock
	logger       *slog.Logger
	hub          *Hub
	socket       *SocketHandler
}

// NewServer validates cfg and returns a Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("relay: repository is required")
	}
	s := &Server{
		repo:         cfg.Repo,
		departments:  cfg.Departments,
		historyLimit: cfg.HistoryLimit,
		apiToken:     cfg.APIToken,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	if s.historyLimit <= 0 {
		s.historyLimit = defaultHistoryLimit
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.departments == nil {
		s.departments = []domain.Department{}
	}
	s.hub = NewHub(s.logger)
	s.socket = &SocketHandler{srv: s, allowedOrigin: cfg.AllowedOrigin, isDev: cfg.IsDev}
	return s, nil
}

// Hub returns the socket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.accessLog)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))

	r.Route(APIPrefix, func(r chi.Router) {
		r.Head("/health-check", s.handleHealth)
		r.Get("/health-check", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(identity.Middleware(s.apiToken))
			r.Get("/departments", s.handleDepartments)
			r.Get("/messages", s.handleListMessages)
			r.Post("/messages", s.handlePostMessage)
			// Present only so failures on auth paths can be observed by
			// clients; authentication itself is out of scope.
			r.HandleFunc("/auth/*", func(w http.ResponseWriter, _ *http.Request) {
				Error(w, http.StatusNotFound, "authentication is not served by the relay")
			})
		})
	})

	r.Get(SocketPath, s.socket.ServeHTTP)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	status, body := http.StatusOK, map[string]any{"status": "ok", "sockets": s.hub.Count()}
	if err := s.repo.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed", "error", err)
		status, body = http.StatusServiceUnavailable, map[string]any{"status": "unavailable"}
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	JSON(w, status, body)
}

func (s *Server) handleDepartments(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, s.departments)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	dept := strings.TrimSpace(r.URL.Query().Get("departmentId"))
	if dept == "" {
		Error(w, http.StatusBadRequest, "departmentId is required")
		return
	}
	msgs, err := s.repo.ListMessages(r.Context(), domain.ID(dept), s.historyLimit)
	if err != nil {
		s.logger.Error("Failed to list messages", "error", err, "department_id", dept)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	JSON(w, http.StatusOK, msgs)
}

// handlePostMessage stores a message without broadcasting it. Inbound
// socket traffic may be re-posted by clients, so broadcasting here would
// echo forever.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var m domain.Message
	if err := json.Unmarshal(data, &m); err != nil {
		Error(w, http.StatusBadRequest, "invalid message body")
		return
	}
	if err := s.accept(r.Context(), &m); err != nil {
		if errors.Is(err, errMissingDepartment) || errors.Is(err, errMissingText) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Failed to store message", "error", err)
		Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	JSON(w, http.StatusCreated, &m)
}

// accept validates m, assigns an id and creation time when missing, and
// stores it.
func (s *Server) accept(ctx context.Context, m *domain.Message) error {
	if m.ReceiverDepartmentID == "" {
		return errMissingDepartment
	}
	if strings.TrimSpace(m.Text) == "" {
		return errMissingText
	}
	if m.ID == "" {
		m.ID = domain.ID(uuid.NewString())
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = domain.At(s.clock.Now())
	}
	return s.repo.InsertMessage(ctx, m)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		}
		if callID := r.Header.Get(identity.RequestIDHeader); callID != "" {
			attrs = append(attrs, "call_id", callID, "retry_count", r.Header.Get(identity.RetryCountHeader))
		}
		s.logger.Debug("HTTP request", attrs...)
	})
}
