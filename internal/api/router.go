package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/psigestao/plansync/internal/auth"
	"github.com/psigestao/plansync/internal/session"
)

// Config wires the HTTP surface.
type Config struct {
	Sessions *session.Manager
	// Verifier checks bearer tokens on sign-in. When nil the sign-in body
	// carries the identity directly, which is only meant for development.
	Verifier       auth.TokenVerifier
	AllowedOrigins []string
	Version        string
	Logger         zerolog.Logger
}

// Handler serves the session and subscription endpoints.
type Handler struct {
	sessions       *session.Manager
	verifier       auth.TokenVerifier
	allowedOrigins []string
	version        string
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
}

// NewHandler builds a Handler from cfg.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		sessions:       cfg.Sessions,
		verifier:       cfg.Verifier,
		allowedOrigins: cfg.AllowedOrigins,
		version:        cfg.Version,
		logger:         cfg.Logger.With().Str("component", "api").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024 * 16,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(h.allowedOrigins, r)
		},
	}
	return h
}

// NewRouter registers every route of h.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(requestMiddleware(h.logger))
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, _ string) bool {
			return originAllowed(h.allowedOrigins, r)
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(h.rejectForeignOrigins)

	r.Get("/health", h.handleHealth)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.handleOpenSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Delete("/", h.handleCloseSession)
			r.Put("/auth", h.handleSignIn)
			r.Delete("/auth", h.handleSignOut)

			r.Route("/subscription", func(r chi.Router) {
				r.Get("/", h.handleGetSubscription)
				r.With(middleware.Timeout(2*time.Minute)).Post("/check", h.handleCheck)
				r.With(middleware.Timeout(2*time.Minute)).Post("/sync", h.handleForceSync)
				r.Get("/stream", h.handleStream)
			})
		})
	})

	return r
}

// rejectForeignOrigins refuses cross-site requests from origins that CORS
// would not admit. Simple requests skip preflight, so CORS headers alone do
// not stop them from reaching a handler.
func (h *Handler) rejectForeignOrigins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !originAllowed(h.allowedOrigins, r) {
			writeErrorResponse(w, http.StatusForbidden, "origin_not_allowed", "Origin not allowed", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
