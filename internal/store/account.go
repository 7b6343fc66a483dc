package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/fortrock/internal/model"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var hash sql.NullString
	var confirmedAt sql.NullTime
	err := scanner.Scan(&a.ID, &a.Email, &hash, &a.Provider, &confirmedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if hash.Valid {
		a.PasswordHash = &hash.String
	}
	if confirmedAt.Valid {
		a.EmailConfirmedAt = &confirmedAt.Time
	}
	return &a, nil
}

const accountCols = `id, email, password_hash, provider, email_confirmed_at, created_at, updated_at`

// Create inserts an account. passwordHash is nil for accounts that only sign
// in through an OAuth provider.
func (s *AccountStore) Create(ctx context.Context, a *model.Account) (*model.Account, error) {
	var hash sql.NullString
	if a.PasswordHash != nil {
		hash = sql.NullString{String: *a.PasswordHash, Valid: true}
	}
	var confirmedAt sql.NullTime
	if a.EmailConfirmedAt != nil {
		confirmedAt = sql.NullTime{Time: a.EmailConfirmedAt.UTC(), Valid: true}
	}
	provider := a.Provider
	if provider == "" {
		provider = model.ProviderEmail
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, provider, email_confirmed_at) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Email, hash, provider, confirmedAt,
	)
	if err != nil {
		return nil, wrap("insert account", err)
	}
	return s.GetByID(ctx, a.ID)
}

func (s *AccountStore) GetByID(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get account", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get account by email", err)
	}
	return a, nil
}

func (s *AccountStore) ConfirmEmail(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET email_confirmed_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at.UTC(), id,
	)
	if err != nil {
		return wrap("confirm email", err)
	}
	return nil
}

func (s *AccountStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		passwordHash, id,
	)
	if err != nil {
		return wrap("update password", err)
	}
	return nil
}

// UpdateEmail changes the address and clears its confirmation; the new
// address has to be confirmed again.
func (s *AccountStore) UpdateEmail(ctx context.Context, id, email string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET email = ?, email_confirmed_at = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		email, id,
	)
	if err != nil {
		return wrap("update email", err)
	}
	return nil
}

func (s *AccountStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}
