package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dukerupert/fortrock/internal/guard"
	"github.com/dukerupert/fortrock/internal/identity"
	"github.com/dukerupert/fortrock/internal/middleware"
	"github.com/dukerupert/fortrock/internal/store"
	ws "github.com/dukerupert/fortrock/internal/websocket"
)

func (h *PageHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	st, ok := h.portalState(w, r)
	if !ok {
		return
	}
	fail := func(status int, msg string) {
		data := h.portalData(st, "profile", "Profile")
		data["Error"] = msg
		h.renderProfile(w, r, status, st, data)
	}

	password := r.FormValue("password")
	if password != r.FormValue("confirm_password") {
		fail(http.StatusBadRequest, "Passwords do not match")
		return
	}
	err := h.provider.UpdatePassword(r.Context(), st.AuthenticatedUser.ID, password)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrWeakPassword):
		fail(http.StatusBadRequest, "Password must be at least 6 characters long")
		return
	default:
		h.logger.Error("update password", "user_id", st.AuthenticatedUser.ID, "error", err)
		fail(http.StatusInternalServerError, msgSomethingWrong)
		return
	}
	redirect(w, r, "/profile?updated=password")
}

// ChangeEmail moves the account to a new address and keeps the profile copy
// in step when the profile store exists.
func (h *PageHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	st, ok := h.portalState(w, r)
	if !ok {
		return
	}
	userID := st.AuthenticatedUser.ID
	fail := func(status int, msg string) {
		data := h.portalData(st, "profile", "Profile")
		data["Error"] = msg
		h.renderProfile(w, r, status, st, data)
	}

	addr := strings.TrimSpace(r.FormValue("email"))
	err := h.provider.UpdateEmail(r.Context(), userID, addr)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrInvalidEmail):
		fail(http.StatusBadRequest, "Please enter a valid email address")
		return
	case errors.Is(err, identity.ErrEmailTaken):
		fail(http.StatusConflict, "An account with this email already exists")
		return
	default:
		h.logger.Error("update email", "user_id", userID, "error", err)
		fail(http.StatusInternalServerError, msgSomethingWrong)
		return
	}

	if err := h.profiles.UpdateEmail(r.Context(), userID, strings.ToLower(addr)); err != nil && store.KindOf(err) != store.KindSchemaMissing {
		h.logger.Error("update profile email", "user_id", userID, "error", err)
	}

	sess, err := h.provider.Session(r.Context(), middleware.SessionToken(r))
	if err == nil && sess != nil && !sess.EmailConfirmed() {
		redirect(w, r, "/profile?updated=email-pending")
		return
	}
	redirect(w, r, "/profile?updated=email")
}

// DeleteAccount removes the profile, subscriptions, account, and sessions
// of the signed-in user, then signs every open page out.
func (h *PageHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	st, ok := h.portalState(w, r)
	if !ok {
		return
	}
	userID := st.AuthenticatedUser.ID
	ctx := r.Context()

	if err := h.profiles.DeleteByAuthID(ctx, userID); err != nil && store.KindOf(err) != store.KindSchemaMissing {
		h.logger.Error("delete profile", "user_id", userID, "error", err)
		h.deleteFailed(w, r, st)
		return
	}
	if err := h.subscriptions.DeleteByUserID(ctx, userID); err != nil && store.KindOf(err) != store.KindSchemaMissing {
		h.logger.Error("delete subscriptions", "user_id", userID, "error", err)
		h.deleteFailed(w, r, st)
		return
	}

	h.hub.BroadcastUser(userID, ws.Message{Type: ws.TypeCleanup})
	if err := h.provider.DeleteUser(ctx, userID); err != nil {
		h.logger.Error("delete user", "user_id", userID, "error", err)
		h.deleteFailed(w, r, st)
		return
	}

	middleware.ClearSessionCookie(w, r)
	redirect(w, r, "/")
}

func (h *PageHandler) deleteFailed(w http.ResponseWriter, r *http.Request, st guard.State) {
	data := h.portalData(st, "profile", "Profile")
	data["Error"] = "We could not delete your account. Please try again."
	h.renderProfile(w, r, http.StatusInternalServerError, st, data)
}
