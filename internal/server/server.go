package server

import (
	"database/sql"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/fortrock/internal/dcf"
	"github.com/dukerupert/fortrock/internal/email"
	"github.com/dukerupert/fortrock/internal/gate"
	"github.com/dukerupert/fortrock/internal/guard"
	"github.com/dukerupert/fortrock/internal/handler"
	"github.com/dukerupert/fortrock/internal/identity"
	"github.com/dukerupert/fortrock/internal/middleware"
	"github.com/dukerupert/fortrock/internal/store"
	ws "github.com/dukerupert/fortrock/internal/websocket"
	"github.com/dukerupert/fortrock/web"
)

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	provider     *identity.Provider
	resolver     *gate.Resolver
	evaluator    *guard.Evaluator
	authH        *handler.AuthHandler
	pageH        *handler.PageHandler
	dcfH         *handler.DCFHandler
	sessionStore *store.SessionStore
	rateLimiter  *middleware.RateLimiter
	static       http.Handler
	logger       *slog.Logger
}

// Config wires the server. A nil Mailer becomes an unconfigured Postmark
// client, which logs links instead of sending them. A nil Templates uses the
// embedded page templates.
type Config struct {
	Identity        identity.Config
	Mailer          identity.Mailer
	LookupTimeout   time.Duration
	Templates       map[string]*template.Template
	IdentityOptions []identity.Option
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	accountStore := store.NewAccountStore(db)
	sessionStore := store.NewSessionStore(db)
	profileStore := store.NewProfileStore(db)
	subscriptionStore := store.NewSubscriptionStore(db)

	mailer := cfg.Mailer
	if mailer == nil {
		mailer = email.NewClient("", "", cfg.Identity.BaseURL)
	}
	provider := identity.New(accountStore, sessionStore, mailer, cfg.Identity,
		logger.With("component", "identity"), cfg.IdentityOptions...)
	resolver := gate.NewResolver(profileStore, cfg.Identity.DevMode, cfg.LookupTimeout, logger.With("component", "gate"))
	evaluator := guard.NewEvaluator(resolver, subscriptionStore, logger.With("component", "guard"))

	templates := cfg.Templates
	if templates == nil {
		templates = web.MustTemplates()
	}

	return &Server{
		db:           db,
		hub:          hub,
		provider:     provider,
		resolver:     resolver,
		evaluator:    evaluator,
		authH:        handler.NewAuthHandler(provider, profileStore, resolver, evaluator, hub, templates, logger.With("component", "auth")),
		pageH:        handler.NewPageHandler(evaluator, provider, profileStore, subscriptionStore, hub, templates, logger.With("component", "pages")),
		dcfH:         handler.NewDCFHandler(dcf.NewEstimator(nil), logger.With("component", "dcf")),
		sessionStore: sessionStore,
		rateLimiter:  middleware.NewRateLimiter(),
		static:       web.Static(),
		logger:       logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the websocket hub that carries the session streams.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /{$}", s.pageH.Home)
	mux.HandleFunc("GET /health", s.healthCheck)
	mux.Handle("GET /static/", http.StripPrefix("/static/", s.static))
	mux.HandleFunc("GET /verify-email", s.authH.VerifyEmailPage)
	mux.HandleFunc("POST /verify-email/resend", s.rateLimitedHandler(s.authH.ResendConfirmation))
	mux.HandleFunc("GET /auth/confirm", s.authH.ConfirmEmail)
	mux.HandleFunc("GET /auth/google", s.authH.GoogleStart)
	mux.HandleFunc("GET /auth/callback", s.authH.GoogleCallback)
	mux.HandleFunc("GET /password/reset", s.authH.PasswordResetPage)
	mux.HandleFunc("POST /password/reset", s.rateLimitedHandler(s.authH.RequestPasswordReset))
	mux.HandleFunc("GET /password/update", s.authH.PasswordUpdatePage)
	mux.HandleFunc("POST /password/update", s.rateLimitedHandler(s.authH.UpdatePassword))
	mux.HandleFunc("POST /logout", s.authH.Logout)

	// Auth-only routes
	mux.HandleFunc("GET /login", s.authH.LoginPage)
	mux.HandleFunc("POST /login", s.rateLimitedHandler(s.authH.Login))
	mux.HandleFunc("GET /signup", s.authH.SignupPage)
	mux.HandleFunc("POST /signup", s.rateLimitedHandler(s.authH.Signup))

	// Protected portal routes
	mux.HandleFunc("GET /dashboard", s.pageH.Dashboard)
	mux.HandleFunc("GET /dcf", s.pageH.DCF)
	mux.HandleFunc("GET /profile", s.pageH.Profile)
	mux.HandleFunc("POST /profile/password", s.pageH.ChangePassword)
	mux.HandleFunc("POST /profile/email", s.pageH.ChangeEmail)
	mux.HandleFunc("POST /profile/delete", s.pageH.DeleteAccount)

	// API
	mux.HandleFunc("GET /api/session", s.pageH.SessionState)
	mux.HandleFunc("POST /api/dcf", s.rateLimitedHandler(s.dcfH.Estimate))
	mux.HandleFunc("GET /ws/session", ws.HandleSession(s.hub, s.evaluator, s.provider, middleware.SessionToken))

	var h http.Handler = mux
	h = middleware.Gate(s.provider, s.resolver, s.logger.With("component", "gate"))(h)
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	h = middleware.Recover(s.logger.With("component", "http"))(h)
	return h
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// formLimit caps credential and DCF submissions per route and client.
var formLimit = middleware.Limit{Requests: 10, Window: time.Minute}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	return middleware.RateLimit(s.rateLimiter, middleware.ByRouteAndIP, formLimit)(h).ServeHTTP
}
