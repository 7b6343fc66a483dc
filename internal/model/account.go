package model

import "time"

const (
	ProviderEmail  = "email"
	ProviderGoogle = "google"
)

type Account struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	PasswordHash     *string    `json:"-"`
	Provider         string     `json:"provider"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
