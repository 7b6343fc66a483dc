package handler

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/fortrock/internal/auth"
	"github.com/dukerupert/fortrock/internal/gate"
	"github.com/dukerupert/fortrock/internal/guard"
	"github.com/dukerupert/fortrock/internal/identity"
	"github.com/dukerupert/fortrock/internal/middleware"
	"github.com/dukerupert/fortrock/internal/model"
	"github.com/dukerupert/fortrock/internal/store"
	ws "github.com/dukerupert/fortrock/internal/websocket"
)

const oauthStateCookie = "fortrock_oauth_state"

const (
	msgVerifyBeforeSignIn = "Please verify your email address before signing in. Check your email for a verification link."
	msgCompleteSignup     = "Please complete your signup process. Check your email for verification instructions."
	msgInvalidLink        = "This link is invalid or has expired."
	msgCheckInbox         = "If an account exists for that address, we sent it a link. Check your email."
	msgSomethingWrong     = "Something went wrong. Please try again."
)

type AuthHandler struct {
	renderer
	provider  *identity.Provider
	profiles  *store.ProfileStore
	resolver  *gate.Resolver
	evaluator *guard.Evaluator
	hub       *ws.Hub
	validate  *validator.Validate
}

func NewAuthHandler(
	p *identity.Provider,
	ps *store.ProfileStore,
	resolver *gate.Resolver,
	evaluator *guard.Evaluator,
	hub *ws.Hub,
	tmpl map[string]*template.Template,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		renderer:  renderer{templates: tmpl, logger: logger},
		provider:  p,
		profiles:  ps,
		resolver:  resolver,
		evaluator: evaluator,
		hub:       hub,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *AuthHandler) loginData(data map[string]any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	data["Title"] = "Client Login"
	data["GoogleEnabled"] = h.provider.OAuthEnabled()
	return data
}

func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "login.html", h.loginData(nil))
}

// Login signs in with email and password, then checks that signup was
// completed before handing out the session cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, http.StatusBadRequest, "login.html", h.loginData(map[string]any{"Error": "Invalid form data"}))
		return
	}
	addr := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if addr == "" || password == "" {
		h.render(w, http.StatusBadRequest, "login.html", h.loginData(map[string]any{
			"Error": "Email and password are required",
			"Email": addr,
		}))
		return
	}

	sess, err := h.provider.SignInWithPassword(r.Context(), addr, password)
	if err != nil {
		status, msg := http.StatusUnauthorized, "Invalid email or password"
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			h.logger.Error("sign in", "error", err)
			status, msg = http.StatusInternalServerError, msgSomethingWrong
		}
		h.render(w, status, "login.html", h.loginData(map[string]any{"Error": msg, "Email": addr}))
		return
	}

	if msg := h.checkSignup(r.Context(), sess); msg != "" {
		if err := h.provider.SignOut(r.Context(), sess.Token); err != nil {
			h.logger.Error("sign out after failed check", "user_id", sess.UserID, "error", err)
		}
		h.render(w, http.StatusForbidden, "login.html", h.loginData(map[string]any{"Error": msg, "Email": addr}))
		return
	}

	middleware.SetSessionCookie(w, r, sess)
	redirect(w, r, gate.PathPortal)
}

// checkSignup returns the message that keeps sess from signing in, or "".
// An unusable profile lookup falls back to email confirmation; a missing
// profile means signup never finished.
func (h *AuthHandler) checkSignup(ctx context.Context, sess *model.Session) string {
	s := h.resolver.Signals(ctx, sess, gate.RouteProtected)
	switch {
	case s.Profile.Degraded():
		if !s.EmailConfirmed {
			return msgVerifyBeforeSignIn
		}
	case s.Profile == gate.ProfileNotFound:
		return msgCompleteSignup
	}
	return ""
}

type signupForm struct {
	FirstName       string `validate:"required"`
	LastName        string `validate:"required"`
	Email           string `validate:"required,email"`
	Phone           string `validate:"omitempty,max=32"`
	Password        string `validate:"required,min=6"`
	ConfirmPassword string `validate:"eqfield=Password"`
}

// signupError maps validation failures onto one message, checked in the
// order the form is read back to the user.
func signupError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid form data"
	}
	failed := make(map[string]bool, len(verrs))
	for _, fe := range verrs {
		failed[fe.Field()] = true
	}
	switch {
	case failed["ConfirmPassword"]:
		return "Passwords do not match"
	case failed["Password"]:
		return "Password must be at least 6 characters long"
	case failed["FirstName"], failed["LastName"]:
		return "First name and last name are required"
	case failed["Email"]:
		return "Please enter a valid email address"
	case failed["Phone"]:
		return "Phone number is too long"
	}
	return "Invalid form data"
}

func (h *AuthHandler) signupData(form signupForm, data map[string]any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	form.Password, form.ConfirmPassword = "", ""
	data["Title"] = "Open Your Account"
	data["Form"] = form
	data["GoogleEnabled"] = h.provider.OAuthEnabled()
	return data
}

func (h *AuthHandler) SignupPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "signup.html", h.signupData(signupForm{}, nil))
}

// Signup creates the account and its profile. When the profile store is not
// provisioned the account alone is enough and the gate falls back to email
// confirmation.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, http.StatusBadRequest, "signup.html", h.signupData(signupForm{}, map[string]any{"Error": "Invalid form data"}))
		return
	}
	form := signupForm{
		FirstName:       strings.TrimSpace(r.FormValue("first_name")),
		LastName:        strings.TrimSpace(r.FormValue("last_name")),
		Email:           strings.TrimSpace(r.FormValue("email")),
		Phone:           strings.TrimSpace(r.FormValue("phone")),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirm_password"),
	}
	if err := h.validate.Struct(form); err != nil {
		h.render(w, http.StatusBadRequest, "signup.html", h.signupData(form, map[string]any{"Error": signupError(err)}))
		return
	}

	account, sess, err := h.provider.SignUp(r.Context(), form.Email, form.Password)
	if err != nil {
		status, msg := http.StatusBadRequest, err.Error()
		switch {
		case errors.Is(err, identity.ErrEmailTaken):
			status, msg = http.StatusConflict, "An account with this email already exists"
		case errors.Is(err, identity.ErrInvalidEmail):
			msg = "Please enter a valid email address"
		case errors.Is(err, identity.ErrWeakPassword):
			msg = "Password must be at least 6 characters long"
		default:
			h.logger.Error("sign up", "error", err)
			status, msg = http.StatusInternalServerError, msgSomethingWrong
		}
		h.render(w, status, "signup.html", h.signupData(form, map[string]any{"Error": msg}))
		return
	}

	profile := &model.Profile{
		AuthID:    account.ID,
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Email:     account.Email,
	}
	if form.Phone != "" {
		profile.PhoneNumber = &form.Phone
	}
	_, err = h.profiles.Create(r.Context(), profile)
	switch store.KindOf(err) {
	case store.KindNone:
		h.logger.Info("profile created", "user_id", account.ID)
	case store.KindSchemaMissing:
		h.logger.Warn("profiles table missing, account-only signup", "user_id", account.ID)
	default:
		h.logger.Error("create profile", "user_id", account.ID, "error", err)
		if sess != nil {
			if err := h.provider.SignOut(r.Context(), sess.Token); err != nil {
				h.logger.Error("sign out after failed signup", "user_id", account.ID, "error", err)
			}
		}
		h.render(w, http.StatusInternalServerError, "signup.html", h.signupData(form, map[string]any{
			"Error": "Failed to create user profile: Database error",
		}))
		return
	}

	if sess == nil {
		redirect(w, r, gate.PathVerifyEmail+"?email="+url.QueryEscape(account.Email))
		return
	}
	middleware.SetSessionCookie(w, r, sess)
	redirect(w, r, gate.PathPortal)
}

func (h *AuthHandler) VerifyEmailPage(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"Title": "Verify Your Email",
		"Email": r.URL.Query().Get("email"),
	}
	if sess, ok := auth.SessionFromContext(r.Context()); ok && data["Email"] == "" {
		data["Email"] = sess.Email
	}
	h.render(w, http.StatusOK, "verify_email.html", data)
}

// ResendConfirmation always reports success so the form cannot be used to
// probe for accounts.
func (h *AuthHandler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.FormValue("email"))
	if addr == "" {
		h.render(w, http.StatusBadRequest, "verify_email.html", map[string]any{
			"Title": "Verify Your Email",
			"Error": "Email is required",
		})
		return
	}
	if err := h.provider.ResendConfirmation(r.Context(), addr); err != nil {
		h.logger.Error("resend confirmation", "error", err)
	}
	h.render(w, http.StatusOK, "verify_email.html", map[string]any{
		"Title":   "Verify Your Email",
		"Email":   addr,
		"Success": msgCheckInbox,
	})
}

// ConfirmEmail follows a confirmation link and signs the visitor in.
func (h *AuthHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	sess, err := h.provider.ConfirmEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidToken) {
			h.logger.Error("confirm email", "error", err)
		}
		h.render(w, http.StatusBadRequest, "verify_email.html", map[string]any{
			"Title": "Verify Your Email",
			"Error": msgInvalidLink,
		})
		return
	}
	middleware.SetSessionCookie(w, r, sess)
	redirect(w, r, gate.PathPortal)
}

// GoogleStart sends the visitor to the Google consent screen.
func (h *AuthHandler) GoogleStart(w http.ResponseWriter, r *http.Request) {
	if !h.provider.OAuthEnabled() {
		h.render(w, http.StatusNotFound, "login.html", h.loginData(map[string]any{"Error": "Google sign-in is not available"}))
		return
	}
	state, err := identity.NewOAuthState()
	if err != nil {
		h.logger.Error("oauth state", "error", err)
		h.render(w, http.StatusInternalServerError, "login.html", h.loginData(map[string]any{"Error": msgSomethingWrong}))
		return
	}
	target, err := h.provider.OAuthURL(state)
	if err != nil {
		h.logger.Error("oauth url", "error", err)
		h.render(w, http.StatusInternalServerError, "login.html", h.loginData(map[string]any{"Error": msgSomethingWrong}))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/auth/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

// GoogleCallback completes Google sign-in. The gate decides where the new
// session may go from the portal entry point.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(oauthStateCookie)
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/auth/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	q := r.URL.Query()
	if err != nil || cookie.Value == "" || q.Get("state") != cookie.Value {
		h.render(w, http.StatusBadRequest, "login.html", h.loginData(map[string]any{"Error": "Google sign-in failed. Please try again."}))
		return
	}
	if reason := q.Get("error"); reason != "" {
		h.logger.Info("google sign-in declined", "reason", reason)
		h.render(w, http.StatusUnauthorized, "login.html", h.loginData(map[string]any{"Error": "Google sign-in was cancelled."}))
		return
	}

	sess, err := h.provider.CompleteOAuth(r.Context(), q.Get("code"))
	if err != nil {
		msg := "Google sign-in failed. Please try again."
		if errors.Is(err, identity.ErrUnverifiedEmail) {
			msg = "Your Google account email is not verified."
		} else {
			h.logger.Error("complete oauth", "error", err)
		}
		h.render(w, http.StatusUnauthorized, "login.html", h.loginData(map[string]any{"Error": msg}))
		return
	}
	middleware.SetSessionCookie(w, r, sess)
	redirect(w, r, gate.PathPortal)
}

func (h *AuthHandler) PasswordResetPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "password_reset.html", map[string]any{"Title": "Reset Password"})
}

// RequestPasswordReset always reports success so the form cannot be used to
// probe for accounts.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.FormValue("email"))
	if addr == "" {
		h.render(w, http.StatusBadRequest, "password_reset.html", map[string]any{
			"Title": "Reset Password",
			"Error": "Email is required",
		})
		return
	}
	if err := h.provider.SendPasswordReset(r.Context(), addr); err != nil {
		h.logger.Error("send password reset", "error", err)
	}
	h.render(w, http.StatusOK, "password_reset.html", map[string]any{
		"Title":   "Reset Password",
		"Email":   addr,
		"Success": msgCheckInbox,
	})
}

func (h *AuthHandler) PasswordUpdatePage(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.render(w, http.StatusBadRequest, "password_reset.html", map[string]any{
			"Title": "Reset Password",
			"Error": msgInvalidLink,
		})
		return
	}
	h.render(w, http.StatusOK, "password_update.html", map[string]any{
		"Title": "Choose a New Password",
		"Token": token,
	})
}

type passwordForm struct {
	Password        string `validate:"required,min=6"`
	ConfirmPassword string `validate:"eqfield=Password"`
}

func passwordError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "ConfirmPassword" {
				return "Passwords do not match"
			}
		}
	}
	return "Password must be at least 6 characters long"
}

// UpdatePassword sets a new password from a reset link.
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	token := r.FormValue("token")
	form := passwordForm{
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirm_password"),
	}
	fail := func(status int, msg string) {
		h.render(w, status, "password_update.html", map[string]any{
			"Title": "Choose a New Password",
			"Token": token,
			"Error": msg,
		})
	}
	if err := h.validate.Struct(form); err != nil {
		fail(http.StatusBadRequest, passwordError(err))
		return
	}

	err := h.provider.ResetPassword(r.Context(), token, form.Password)
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrInvalidToken):
		h.render(w, http.StatusBadRequest, "password_reset.html", map[string]any{
			"Title": "Reset Password",
			"Error": msgInvalidLink,
		})
		return
	case errors.Is(err, identity.ErrWeakPassword):
		fail(http.StatusBadRequest, "Password must be at least 6 characters long")
		return
	default:
		h.logger.Error("reset password", "error", err)
		fail(http.StatusInternalServerError, msgSomethingWrong)
		return
	}

	h.render(w, http.StatusOK, "login.html", h.loginData(map[string]any{
		"Success": "Your password has been updated. Sign in with your new password.",
	}))
}

// Logout tells the user's open pages to clean up, ends the session, and
// always lands on the login page with a full navigation.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.SessionToken(r)
	userID := auth.UserID(r.Context())

	var opts []guard.Option
	if userID != "" {
		opts = append(opts, guard.OnCleanup(func() {
			h.hub.BroadcastUser(userID, ws.Message{Type: ws.TypeCleanup})
		}))
	}
	g := guard.New(h.evaluator, h.provider, token, h.logger.With("user_id", userID), opts...)
	target := g.SignOut(r.Context())

	middleware.ClearSessionCookie(w, r)
	redirect(w, r, target)
}
