package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/dukerupert/fortrock/internal/model"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

var ErrUnverifiedEmail = errors.New("google account email is not verified")

func googleConfig(cfg Config) *oauth2.Config {
	if cfg.GoogleClientID == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.BaseURL + "/auth/callback",
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     endpoints.Google,
	}
}

func (p *Provider) OAuthEnabled() bool {
	return p.oauth != nil
}

// NewOAuthState returns a random value to round-trip through the consent
// screen.
func NewOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// OAuthURL is the Google consent screen address for state.
func (p *Provider) OAuthURL(state string) (string, error) {
	if p.oauth == nil {
		return "", ErrOAuthDisabled
	}
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

type googleUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// CompleteOAuth exchanges an authorization code, finds or creates the
// matching account, and opens a session. Google has verified the address, so
// the account is confirmed.
func (p *Provider) CompleteOAuth(ctx context.Context, code string) (*model.Session, error) {
	if p.oauth == nil {
		return nil, ErrOAuthDisabled
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	user, err := p.fetchGoogleUser(ctx, tok)
	if err != nil {
		return nil, err
	}
	if !user.EmailVerified {
		return nil, ErrUnverifiedEmail
	}
	email := normalizeEmail(user.Email)

	account, err := p.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("oauth lookup: %w", err)
	}
	now := p.now()
	switch {
	case account == nil:
		account, err = p.accounts.Create(ctx, &model.Account{
			ID:               uuid.NewString(),
			Email:            email,
			Provider:         model.ProviderGoogle,
			EmailConfirmedAt: &now,
		})
		if err != nil {
			return nil, fmt.Errorf("oauth create account: %w", err)
		}
		p.logger.Info("account created", "user_id", account.ID, "provider", model.ProviderGoogle)
	case account.EmailConfirmedAt == nil:
		if err := p.accounts.ConfirmEmail(ctx, account.ID, now); err != nil {
			return nil, fmt.Errorf("oauth confirm email: %w", err)
		}
		p.notifyAccount(ctx, account.ID)
	}

	sess, err := p.sessions.Create(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("oauth session: %w", err)
	}
	p.logger.Info("signed in", "user_id", account.ID, "provider", model.ProviderGoogle)
	return sess, nil
}

func (p *Provider) fetchGoogleUser(ctx context.Context, tok *oauth2.Token) (*googleUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create userinfo request: %w", err)
	}
	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo API error: status %d", resp.StatusCode)
	}
	var user googleUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if user.Email == "" {
		return nil, errors.New("userinfo response has no email")
	}
	return &user, nil
}
