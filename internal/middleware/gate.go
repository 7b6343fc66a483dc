package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/dukerupert/fortrock/internal/auth"
	"github.com/dukerupert/fortrock/internal/gate"
	"github.com/dukerupert/fortrock/internal/model"
)

const SessionCookieName = "fortrock_session"

// SessionLookup resolves a session cookie value.
type SessionLookup interface {
	Session(ctx context.Context, token string) (*model.Session, error)
}

var assetExtensions = map[string]struct{}{
	".svg": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".ico": {},
}

// skipGate reports paths that never carry page content worth gating.
func skipGate(p string) bool {
	if strings.HasPrefix(p, "/static/") || p == "/favicon.ico" {
		return true
	}
	_, ok := assetExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// Gate runs every navigation through the decision table before any handler
// writes a byte. Allowed requests carry the session in their context.
// HTMX-aware: returns HX-Redirect header instead of 303 redirect for HTMX requests.
func Gate(sessions SessionLookup, resolver *gate.Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipGate(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			sess := sessionFromCookie(w, r, sessions, logger)
			route := gate.ClassifyRoute(r.URL.Path)
			decision := gate.Decide(resolver.Signals(r.Context(), sess, route))

			if !decision.Allowed() {
				logger.Debug("gate redirect", "path", r.URL.Path, "route", route, "target", decision.Target)
				redirectTo(w, r, decision.Target)
				return
			}

			if sess != nil {
				r = r.WithContext(auth.WithSession(r.Context(), sess))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sessionFromCookie treats a failed lookup as no session and clears a cookie
// whose session is gone.
func sessionFromCookie(w http.ResponseWriter, r *http.Request, sessions SessionLookup, logger *slog.Logger) *model.Session {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	sess, err := sessions.Session(r.Context(), cookie.Value)
	if err != nil {
		logger.Warn("session lookup failed", "error", err)
		return nil
	}
	if sess == nil {
		ClearSessionCookie(w, r)
	}
	return sess
}

// SetSessionCookie stores a session token for the lifetime of the session.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, sess *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

func ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

// SessionToken returns the raw session cookie value, if any.
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func redirectTo(w http.ResponseWriter, r *http.Request, target string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
