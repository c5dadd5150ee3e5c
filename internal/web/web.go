package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"evcal/internal/calendar"
	"evcal/internal/config"
	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/model"
)

// Error codes returned in JSON error bodies.
const (
	codeNotFound     = "not_found"
	codeInvalidParam = "invalid_param"
	codeUnauthorized = "unauthorized"
	codeInternal     = "internal_error"
)

// EventWriter is the mutable side of the event store used by the write API.
type EventWriter interface {
	Get(ctx context.Context, id int64) (model.Event, error)
	Create(ctx context.Context, ev model.Event) (model.Event, error)
	Update(ctx context.Context, ev model.Event) (model.Event, error)
	Delete(ctx context.Context, id int64) error
	SetCategories(ctx context.Context, id int64, categories []string) error
}

// FavoriteToggler flips a user's favorite flag on an event.
type FavoriteToggler interface {
	Toggle(ctx context.Context, userID string, eventID int64) bool
}

// Server exposes the occurrence API over HTTP.
type Server struct {
	cfg       *config.Config
	svc       *calendar.Service
	writer    EventWriter
	favorites FavoriteToggler
	ics       *ics.Serializer
	validate  *validator.Validate
	router    chi.Router
}

// Deps are the collaborators of a Server. Writer and Favorites may be nil,
// in which case the corresponding routes are not mounted.
type Deps struct {
	Service   *calendar.Service
	Writer    EventWriter
	Favorites FavoriteToggler
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:       cfg,
		svc:       deps.Service,
		writer:    deps.Writer,
		favorites: deps.Favorites,
		ics:       ics.NewSerializer(),
		validate:  validator.New(),
		router:    chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-User-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-WP-Total", "X-WP-TotalPages"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "no route")
	})

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.svc.Metrics().Handler())

	r.Get("/events", s.handleEvents)
	r.Get("/events.ics", s.handleEventsICS)
	r.Get("/event/{id:[0-9]+}", s.handleEvent)

	if s.writer == nil {
		return
	}
	if !s.basicAuthEnabled() {
		appLog.Warn("write API disabled: basic auth not configured")
		return
	}
	appLog.Info("write API enabled", "listen", "http://"+s.cfg.Listen)

	r.Group(func(r chi.Router) {
		r.Use(s.basicAuthMiddleware)
		r.Post("/events", s.handleCreate)
		r.Put("/event/{id:[0-9]+}", s.handleUpdate)
		r.Delete("/event/{id:[0-9]+}", s.handleDelete)
		r.Put("/event/{id:[0-9]+}/categories", s.handleSetCategories)
		if s.favorites != nil {
			r.Put("/event/{id:[0-9]+}/favorite", s.handleToggleFavorite)
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// observe records request metrics and logs one line per request.
func (s *Server) observe(next http.Handler) http.Handler {
	m := s.svc.Metrics()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		appLog.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", elapsed,
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	return s.cfg != nil && s.cfg.WriteEnabled()
}

// basicAuthMiddleware guards the write routes.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.authenticated(r); !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="evcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticated returns the basic-auth user if the credentials match.
func (s *Server) authenticated(r *http.Request) (string, bool) {
	if !s.basicAuthEnabled() {
		return "", false
	}
	u, p, ok := r.BasicAuth()
	if !ok || !secureCompare(u, s.cfg.BasicAuth.Username) || !secureCompare(p, s.cfg.BasicAuth.Password) {
		return "", false
	}
	return u, true
}

// userID identifies the caller for favorites. A verified basic-auth user
// always wins; X-User-ID only names anonymous readers.
func (s *Server) userID(r *http.Request) string {
	if u, ok := s.authenticated(r); ok {
		return u
	}
	return r.Header.Get("X-User-ID")
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	type errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	writeJSON(w, status, errResp{Code: code, Message: msg})
}
