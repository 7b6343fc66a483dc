package handler

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/dukerupert/fortrock/internal/auth"
	"github.com/dukerupert/fortrock/internal/gate"
	"github.com/dukerupert/fortrock/internal/guard"
	"github.com/dukerupert/fortrock/internal/identity"
	"github.com/dukerupert/fortrock/internal/model"
	"github.com/dukerupert/fortrock/internal/store"
	ws "github.com/dukerupert/fortrock/internal/websocket"
)

// PageHandler serves the marketing page and the client portal. Portal pages
// render only for a user the guard reports as authenticated.
type PageHandler struct {
	renderer
	evaluator     *guard.Evaluator
	provider      *identity.Provider
	profiles      *store.ProfileStore
	subscriptions *store.SubscriptionStore
	hub           *ws.Hub
}

func NewPageHandler(
	evaluator *guard.Evaluator,
	p *identity.Provider,
	ps *store.ProfileStore,
	ss *store.SubscriptionStore,
	hub *ws.Hub,
	tmpl map[string]*template.Template,
	logger *slog.Logger,
) *PageHandler {
	return &PageHandler{
		renderer:      renderer{templates: tmpl, logger: logger},
		evaluator:     evaluator,
		provider:      p,
		profiles:      ps,
		subscriptions: ss,
		hub:           hub,
	}
}

func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"ActiveNav": "home"}
	if sess, ok := auth.SessionFromContext(r.Context()); ok {
		data["User"] = &guard.User{ID: sess.UserID, Email: sess.Email}
	}
	h.render(w, http.StatusOK, "index.html", data)
}

// portalState evaluates the visitor and redirects to the login page when
// the guard does not report an authenticated user.
func (h *PageHandler) portalState(w http.ResponseWriter, r *http.Request) (guard.State, bool) {
	sess, _ := auth.SessionFromContext(r.Context())
	st := h.evaluator.Evaluate(r.Context(), sess)
	if st.AuthenticatedUser == nil {
		redirect(w, r, gate.PathLogin)
		return st, false
	}
	return st, true
}

func (h *PageHandler) portalData(st guard.State, nav, title string) map[string]any {
	return map[string]any{
		"Title":        title,
		"ActiveNav":    nav,
		"Portal":       true,
		"User":         st.AuthenticatedUser,
		"IsSubscriber": st.IsSubscriber,
	}
}

// profileFor returns the profile of userID, or nil when it cannot be read.
func (h *PageHandler) profileFor(r *http.Request, userID string) *model.Profile {
	p, err := h.profiles.GetByAuthID(r.Context(), userID)
	if err != nil && store.KindOf(err) != store.KindSchemaMissing {
		h.logger.Warn("load profile", "user_id", userID, "error", err)
	}
	return p
}

func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	st, ok := h.portalState(w, r)
	if !ok {
		return
	}
	data := h.portalData(st, "dashboard", "Dashboard")
	data["Profile"] = h.profileFor(r, st.AuthenticatedUser.ID)
	h.render(w, http.StatusOK, "dashboard.html", data)
}

func (h *PageHandler) DCF(w http.ResponseWriter, r *http.Request) {
	st, ok := h.portalState(w, r)
	if !ok {
		return
	}
	h.render(w, http.StatusOK, "dcf.html", h.portalData(st, "dcf", "DCF Analysis"))
}

func (h *PageHandler) Profile(w http.ResponseWriter, r *http.Request) {
	st, ok := h.portalState(w, r)
	if !ok {
		return
	}
	data := h.portalData(st, "profile", "Profile")
	switch r.URL.Query().Get("updated") {
	case "password":
		data["Success"] = "Your password has been updated."
	case "email":
		data["Success"] = "Your email address has been updated."
	case "email-pending":
		data["Success"] = "Check your new email address for a confirmation link."
	}
	h.renderProfile(w, r, http.StatusOK, st, data)
}

func (h *PageHandler) renderProfile(w http.ResponseWriter, r *http.Request, status int, st guard.State, data map[string]any) {
	data["Profile"] = h.profileFor(r, st.AuthenticatedUser.ID)
	h.render(w, status, "profile.html", data)
}

// SessionState reports the guard state of the requesting session as JSON.
func (h *PageHandler) SessionState(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, h.evaluator.Evaluate(r.Context(), sess))
}
