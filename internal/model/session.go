package model

import "time"

// Session is a read-only view of a signed-in identity. EmailConfirmedAt is
// copied from the owning account when the session is loaded.
type Session struct {
	ID               int64      `json:"id"`
	Token            string     `json:"-"`
	UserID           string     `json:"user_id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

func (s *Session) EmailConfirmed() bool {
	return s != nil && s.EmailConfirmedAt != nil
}
