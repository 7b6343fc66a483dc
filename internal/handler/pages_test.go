package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/fortrock/internal/guard"
	"github.com/dukerupert/fortrock/internal/model"
)

func TestHome(t *testing.T) {
	env := setupEnv(t, true, false)
	rec := serve(env.pageH.Home, newFormRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	assertBodyContains(t, rec, "Investment Firm")
	assertBodyContains(t, rec, `href="/signup"`)
	if strings.Contains(rec.Body.String(), "session.js") {
		t.Error("marketing page loads the session stream")
	}
}

func TestPortalPagesRequireAuthenticatedUser(t *testing.T) {
	env := setupEnv(t, true, false)
	unconfirmedNoProfile := env.newUser(t, "late@example.com", false, false)

	pages := map[string]http.HandlerFunc{
		"/dashboard": env.pageH.Dashboard,
		"/dcf":       env.pageH.DCF,
		"/profile":   env.pageH.Profile,
	}
	for path, h := range pages {
		rec := serve(h, newFormRequest(http.MethodGet, path, nil))
		assertRedirect(t, rec, "/login")

		rec = serve(h, withSession(newFormRequest(http.MethodGet, path, nil), unconfirmedNoProfile))
		assertRedirect(t, rec, "/login")
	}
}

func TestPortalPages(t *testing.T) {
	env := setupEnv(t, true, false)
	sess := env.newUser(t, "ada@example.com", true, true)

	tests := []struct {
		path string
		h    http.HandlerFunc
		want []string
	}{
		{"/dashboard", env.pageH.Dashboard, []string{"Welcome back, Ada", "ada@example.com", "You do not have an active subscription."}},
		{"/dcf", env.pageH.DCF, []string{`id="dcf-form"`, "/static/js/dcf.js"}},
		{"/profile", env.pageH.Profile, []string{"Ada Lovelace", `action="/profile/password"`}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(tt.h, withSession(newFormRequest(http.MethodGet, tt.path, nil), sess))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
			}
			for _, want := range tt.want {
				assertBodyContains(t, rec, want)
			}
			assertBodyContains(t, rec, "/static/js/session.js")
		})
	}
}

func TestPortalPagesUnprovisioned(t *testing.T) {
	env := setupEnv(t, false, false)
	sess := env.newUser(t, "ada@example.com", true, false)

	rec := serve(env.pageH.Dashboard, withSession(newFormRequest(http.MethodGet, "/dashboard", nil), sess))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	assertBodyContains(t, rec, "Welcome back")
}

func TestDashboardSubscriber(t *testing.T) {
	env := setupEnv(t, true, false)
	sess := env.newUser(t, "ada@example.com", true, true)
	end := time.Now().Add(30 * 24 * time.Hour)
	if _, err := env.subscriptions.Create(context.Background(), sess.UserID, "portal", model.SubscriptionActive, &end); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	rec := serve(env.pageH.Dashboard, withSession(newFormRequest(http.MethodGet, "/dashboard", nil), sess))
	assertBodyContains(t, rec, "Your portal subscription is active.")
}

func TestSessionState(t *testing.T) {
	env := setupEnv(t, true, false)
	sess := env.newUser(t, "ada@example.com", true, true)

	decode := func(t *testing.T, req *http.Request) guard.State {
		t.Helper()
		rec := serve(env.pageH.SessionState, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var st guard.State
		if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return st
	}

	t.Run("anonymous", func(t *testing.T) {
		st := decode(t, newFormRequest(http.MethodGet, "/api/session", nil))
		if !st.Ready || st.AuthenticatedUser != nil || st.Redirect != "/login" {
			t.Errorf("state = %+v", st)
		}
	})

	t.Run("signed in", func(t *testing.T) {
		st := decode(t, withSession(newFormRequest(http.MethodGet, "/api/session", nil), sess))
		if st.AuthenticatedUser == nil || st.AuthenticatedUser.ID != sess.UserID {
			t.Fatalf("state = %+v", st)
		}
		if !st.IsEmailVerified || st.IsSubscriber || st.Redirect != "" {
			t.Errorf("state = %+v", st)
		}
	})
}

func TestSessionStateDeniedUserHasNoFlags(t *testing.T) {
	env := setupEnv(t, true, false)
	sess := env.newUser(t, "ada@example.com", true, false)
	end := time.Now().Add(30 * 24 * time.Hour)
	if _, err := env.subscriptions.Create(context.Background(), sess.UserID, "portal", model.SubscriptionActive, &end); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	rec := serve(env.pageH.SessionState, withSession(newFormRequest(http.MethodGet, "/api/session", nil), sess))
	var st guard.State
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.AuthenticatedUser != nil || st.IsEmailVerified || st.IsSubscriber {
		t.Errorf("state = %+v, want no user and no flags", st)
	}
	if st.Redirect != "/verify-email" {
		t.Errorf("redirect = %q, want /verify-email", st.Redirect)
	}
}

func TestChangePassword(t *testing.T) {
	env := setupEnv(t, true, false)
	sess := env.newUser(t, "ada@example.com", true, true)

	mismatch := serve(env.pageH.ChangePassword, withSession(newFormRequest(http.MethodPost, "/profile/password", url.Values{
		"password": {"new-password"}, "confirm_password": {"nope-nope"},
	}), sess))
	if mismatch.Code != http.StatusBadRequest {
		t.Errorf("mismatch status = %d, want 400", mismatch.Code)
	}
	assertBodyContains(t, mismatch, "Passwords do not match")

	short := serve(env.pageH.ChangePassword, withSession(newFormRequest(http.MethodPost, "/profile/password", url.Values{
		"password": {"abc"}, "confirm_password": {"abc"},
	}), sess))
	if short.Code != http.StatusBadRequest {
		t.Errorf("short status = %d, want 400", short.Code)
	}

	rec := serve(env.pageH.ChangePassword, withSession(newFormRequest(http.MethodPost, "/profile/password", url.Values{
		"password": {"new-password"}, "confirm_password": {"new-password"},
	}), sess))
	assertRedirect(t, rec, "/profile?updated=password")

	if _, err := env.provider.SignInWithPassword(context.Background(), "ada@example.com", "new-password"); err != nil {
		t.Errorf("sign in with new password: %v", err)
	}
}

func TestChangeEmail(t *testing.T) {
	tests := []struct {
		name         string
		devMode      bool
		wantLocation string
	}{
		{"production", false, "/profile?updated=email-pending"},
		{"development", true, "/profile?updated=email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t, true, tt.devMode)
			sess := env.newUser(t, "ada@example.com", true, true)

			rec := serve(env.pageH.ChangeEmail, withSession(newFormRequest(http.MethodPost, "/profile/email", url.Values{
				"email": {"Ada.New@Example.com"},
			}), sess))
			assertRedirect(t, rec, tt.wantLocation)

			p, err := env.profiles.GetByAuthID(context.Background(), sess.UserID)
			if err != nil || p == nil {
				t.Fatalf("profile: %v", err)
			}
			if p.Email != "ada.new@example.com" {
				t.Errorf("profile email = %q", p.Email)
			}
		})
	}
}

func TestChangeEmailTaken(t *testing.T) {
	env := setupEnv(t, true, false)
	sess := env.newUser(t, "ada@example.com", true, true)
	env.newUser(t, "grace@example.com", true, true)

	rec := serve(env.pageH.ChangeEmail, withSession(newFormRequest(http.MethodPost, "/profile/email", url.Values{
		"email": {"grace@example.com"},
	}), sess))
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestDeleteAccount(t *testing.T) {
	for _, provision := range []bool{true, false} {
		env := setupEnv(t, provision, false)
		sess := env.newUser(t, "ada@example.com", true, provision)

		rec := serve(env.pageH.DeleteAccount, withSession(newFormRequest(http.MethodPost, "/profile/delete", nil), sess))
		assertRedirect(t, rec, "/")

		ctx := context.Background()
		if got, err := env.provider.Session(ctx, sess.Token); err != nil || got != nil {
			t.Errorf("provision=%v: session survives delete: %+v, %v", provision, got, err)
		}
		if a, err := env.accounts.GetByID(ctx, sess.UserID); err != nil || a != nil {
			t.Errorf("provision=%v: account survives delete: %+v, %v", provision, a, err)
		}
		if provision {
			if p, err := env.profiles.GetByAuthID(ctx, sess.UserID); err != nil || p != nil {
				t.Errorf("profile survives delete: %+v, %v", p, err)
			}
		}
	}
}
