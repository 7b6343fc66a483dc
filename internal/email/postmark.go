package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

const postmarkURL = "https://api.postmarkapp.com/email"

var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

// ConfirmationLink is the address a confirmation email points at.
func (c *Client) ConfirmationLink(token string) string {
	return fmt.Sprintf("%s/auth/confirm?token=%s", c.baseURL, url.QueryEscape(token))
}

// ResetLink is the address a password reset email points at.
func (c *Client) ResetLink(token string) string {
	return fmt.Sprintf("%s/password/update?token=%s", c.baseURL, url.QueryEscape(token))
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendConfirmation asks the recipient to confirm their email address.
func (c *Client) SendConfirmation(ctx context.Context, toEmail, token string) error {
	return c.sendLink(ctx, toEmail, "Confirm your FortRock Capital account",
		"confirm your email address", c.ConfirmationLink(token), "24 hours")
}

// SendPasswordReset sends a link to choose a new password.
func (c *Client) SendPasswordReset(ctx context.Context, toEmail, token string) error {
	return c.sendLink(ctx, toEmail, "Reset your FortRock Capital password",
		"reset your password", c.ResetLink(token), "1 hour")
}

func (c *Client) sendLink(ctx context.Context, toEmail, subject, action, link, expiry string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	textBody := fmt.Sprintf("Click the link below to %s:\n\n%s\n\nThis link expires in %s.", action, link, expiry)
	htmlBody := fmt.Sprintf(
		`<p>Click the link below to %s:</p><p><a href="%s">%s</a></p><p>This link expires in %s.</p>`,
		action, link, action, expiry,
	)

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
