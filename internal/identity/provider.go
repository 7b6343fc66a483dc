// Package identity is the in-process identity provider: password and Google
// sign-in, opaque sessions, email confirmation and password reset links, and
// a per-session change stream.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/dukerupert/fortrock/internal/model"
	"github.com/dukerupert/fortrock/internal/store"
)

const MinPasswordLength = 6

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrAccountNotFound    = errors.New("account not found")
	ErrOAuthDisabled      = errors.New("google sign-in is not configured")
)

// Mailer delivers confirmation and reset links.
type Mailer interface {
	Configured() bool
	ConfirmationLink(token string) string
	ResetLink(token string) string
	SendConfirmation(ctx context.Context, toEmail, token string) error
	SendPasswordReset(ctx context.Context, toEmail, token string) error
}

type Config struct {
	TokenSecret        string
	BaseURL            string
	DevMode            bool
	GoogleClientID     string
	GoogleClientSecret string
}

type Provider struct {
	accounts *store.AccountStore
	sessions *store.SessionStore
	mailer   Mailer
	tokens   *tokenSigner
	broker   *broker
	devMode  bool
	logger   *slog.Logger

	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	bcryptCost  int
	now         func() time.Time
}

type Option func(*Provider)

// WithOAuthEndpoint points Google sign-in at a different authorization
// server and userinfo endpoint.
func WithOAuthEndpoint(endpoint oauth2.Endpoint, userInfoURL string) Option {
	return func(p *Provider) {
		if p.oauth != nil {
			p.oauth.Endpoint = endpoint
		}
		p.userInfoURL = userInfoURL
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

func WithBcryptCost(cost int) Option {
	return func(p *Provider) {
		p.bcryptCost = cost
	}
}

func New(accounts *store.AccountStore, sessions *store.SessionStore, mailer Mailer, cfg Config, logger *slog.Logger, opts ...Option) *Provider {
	p := &Provider{
		accounts:    accounts,
		sessions:    sessions,
		mailer:      mailer,
		tokens:      newTokenSigner(cfg.TokenSecret),
		broker:      newBroker(),
		devMode:     cfg.DevMode,
		logger:      logger,
		oauth:       googleConfig(cfg),
		userInfoURL: googleUserInfoURL,
		httpClient:  http.DefaultClient,
		bcryptCost:  bcrypt.DefaultCost,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Session returns the live session for token, or nil when there is none.
func (p *Provider) Session(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}
	return p.sessions.GetByToken(ctx, token)
}

// Subscribe streams the session behind token: first its current value, then
// every change. nil means signed out. The stop func releases the stream and
// closes the channel.
func (p *Provider) Subscribe(ctx context.Context, token string) (<-chan *model.Session, func(), error) {
	sub := p.broker.subscribe(token)
	stop := func() { p.broker.unsubscribe(token, sub) }

	sess, err := p.Session(ctx, token)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	p.broker.offer(token, sub, sess)
	return sub.ch, stop, nil
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	account, err := p.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if account == nil || account.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	sess, err := p.sessions.Create(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	p.logger.Info("signed in", "user_id", account.ID, "provider", model.ProviderEmail)
	return sess, nil
}

// SignUp creates an email account. A session is returned only when the
// account starts out confirmed, which happens in development mode; otherwise
// a confirmation link is sent and the session is nil.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*model.Account, *model.Session, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, nil, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return nil, nil, ErrWeakPassword
	}

	existing, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, nil, fmt.Errorf("sign up: %w", err)
	}
	if existing != nil {
		return nil, nil, ErrEmailTaken
	}

	hash, err := p.hashPassword(password)
	if err != nil {
		return nil, nil, err
	}
	a := &model.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: &hash,
		Provider:     model.ProviderEmail,
	}
	if p.devMode {
		now := p.now()
		a.EmailConfirmedAt = &now
	}
	account, err := p.accounts.Create(ctx, a)
	if err != nil {
		return nil, nil, fmt.Errorf("sign up: %w", err)
	}
	p.logger.Info("account created", "user_id", account.ID, "confirmed", account.EmailConfirmedAt != nil)

	if account.EmailConfirmedAt == nil {
		p.sendConfirmation(ctx, account)
		return account, nil, nil
	}

	sess, err := p.sessions.Create(ctx, account.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("sign up: %w", err)
	}
	return account, sess, nil
}

// SignOut ends the session behind token and tells its subscribers.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := p.sessions.DeleteByToken(ctx, token); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	p.broker.publish(token, nil)
	return nil
}

func (p *Provider) UpdatePassword(ctx context.Context, userID, password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := p.hashPassword(password)
	if err != nil {
		return err
	}
	if err := p.accounts.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// UpdateEmail changes the account address. Outside development mode the new
// address is unconfirmed until its link is followed.
func (p *Provider) UpdateEmail(ctx context.Context, userID, email string) error {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return ErrInvalidEmail
	}

	existing, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	if existing != nil {
		if existing.ID == userID {
			return nil
		}
		return ErrEmailTaken
	}

	if err := p.accounts.UpdateEmail(ctx, userID, email); err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	if p.devMode {
		if err := p.accounts.ConfirmEmail(ctx, userID, p.now()); err != nil {
			return fmt.Errorf("update email: %w", err)
		}
	}

	account, err := p.accounts.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("update email: %w", err)
	}
	if account == nil {
		return ErrAccountNotFound
	}
	if account.EmailConfirmedAt == nil {
		p.sendConfirmation(ctx, account)
	}
	p.notifyAccount(ctx, userID)
	return nil
}

// ConfirmEmail follows a confirmation link and opens a session for the
// confirmed account.
func (p *Provider) ConfirmEmail(ctx context.Context, token string) (*model.Session, error) {
	claims, err := p.tokens.parse(token, purposeConfirm)
	if err != nil {
		return nil, err
	}
	account, err := p.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("confirm email: %w", err)
	}
	if account == nil || !strings.EqualFold(account.Email, claims.Email) {
		return nil, ErrInvalidToken
	}

	if account.EmailConfirmedAt == nil {
		if err := p.accounts.ConfirmEmail(ctx, account.ID, p.now()); err != nil {
			return nil, fmt.Errorf("confirm email: %w", err)
		}
		p.logger.Info("email confirmed", "user_id", account.ID)
		p.notifyAccount(ctx, account.ID)
	}

	sess, err := p.sessions.Create(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("confirm email: %w", err)
	}
	return sess, nil
}

// ResendConfirmation sends a new link to an unconfirmed account. Unknown or
// already confirmed addresses are ignored so callers cannot probe accounts.
func (p *Provider) ResendConfirmation(ctx context.Context, email string) error {
	account, err := p.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("resend confirmation: %w", err)
	}
	if account == nil || account.EmailConfirmedAt != nil {
		return nil
	}
	p.sendConfirmation(ctx, account)
	return nil
}

// SendPasswordReset mails a reset link when the address belongs to an
// account. Unknown addresses are ignored.
func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	account, err := p.accounts.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}
	if account == nil {
		return nil
	}

	token, err := p.tokens.issue(purposeReset, account.ID, account.Email, passwordFingerprint(account.PasswordHash), ResetTokenTTL)
	if err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}
	if !p.mailer.Configured() {
		p.logger.Info("email not configured, password reset link", "email", account.Email, "link", p.mailer.ResetLink(token))
		return nil
	}
	if err := p.mailer.SendPasswordReset(ctx, account.Email, token); err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}
	return nil
}

// ResetPassword sets a new password from a reset link. A link stops working
// once the password it was issued for has changed.
func (p *Provider) ResetPassword(ctx context.Context, token, password string) error {
	claims, err := p.tokens.parse(token, purposeReset)
	if err != nil {
		return err
	}
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	account, err := p.accounts.GetByID(ctx, claims.Subject)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if account == nil || passwordFingerprint(account.PasswordHash) != claims.Fingerprint {
		return ErrInvalidToken
	}
	return p.UpdatePassword(ctx, account.ID, password)
}

// DeleteUser removes the account and every session it holds. Application
// rows keyed by the user id are removed by the caller beforehand.
func (p *Provider) DeleteUser(ctx context.Context, userID string) error {
	tokens, err := p.sessions.TokensForAccount(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if err := p.sessions.DeleteByAccountID(ctx, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if err := p.accounts.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	for _, tok := range tokens {
		p.broker.publish(tok, nil)
	}
	p.logger.Info("account deleted", "user_id", userID)
	return nil
}

// notifyAccount republishes every live session of an account after the
// account changed.
func (p *Provider) notifyAccount(ctx context.Context, userID string) {
	tokens, err := p.sessions.TokensForAccount(ctx, userID)
	if err != nil {
		p.logger.Warn("list sessions for notify", "user_id", userID, "error", err)
		return
	}
	for _, tok := range tokens {
		sess, err := p.sessions.GetByToken(ctx, tok)
		if err != nil {
			p.logger.Warn("reload session for notify", "user_id", userID, "error", err)
			continue
		}
		p.broker.publish(tok, sess)
	}
}

// sendConfirmation failures are logged; the account already exists and the
// visitor can ask for another link.
func (p *Provider) sendConfirmation(ctx context.Context, account *model.Account) {
	token, err := p.tokens.issue(purposeConfirm, account.ID, account.Email, "", ConfirmTokenTTL)
	if err != nil {
		p.logger.Error("issue confirmation token", "user_id", account.ID, "error", err)
		return
	}
	if !p.mailer.Configured() {
		p.logger.Info("email not configured, confirmation link", "email", account.Email, "link", p.mailer.ConfirmationLink(token))
		return
	}
	if err := p.mailer.SendConfirmation(ctx, account.Email, token); err != nil {
		p.logger.Error("send confirmation", "user_id", account.ID, "error", err)
	}
}

func (p *Provider) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail accepts a bare address only, not "Name <addr>".
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
