package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/fortrock/internal/model"
)

// SessionTTL is how long a session stays valid after sign-in.
const SessionTTL = 30 * 24 * time.Hour

type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

func scanSession(scanner interface{ Scan(...any) error }) (*model.Session, error) {
	var s model.Session
	var confirmedAt sql.NullTime
	err := scanner.Scan(&s.ID, &s.Token, &s.UserID, &s.Email, &confirmedAt, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	if confirmedAt.Valid {
		s.EmailConfirmedAt = &confirmedAt.Time
	}
	return &s, nil
}

const sessionSelect = `SELECT s.id, s.token, s.account_id, a.email, a.email_confirmed_at, s.expires_at, s.created_at
	FROM sessions s JOIN accounts a ON a.id = s.account_id`

// Create generates a new session with a crypto-random token.
func (s *SessionStore) Create(ctx context.Context, accountID string) (*model.Session, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)
	expiresAt := s.now().UTC().Add(SessionTTL)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, account_id, expires_at) VALUES (?, ?, ?)`,
		token, accountID, expiresAt,
	)
	if err != nil {
		return nil, wrap("insert session", err)
	}
	row := s.db.QueryRowContext(ctx, sessionSelect+` WHERE s.token = ?`, token)
	sess, err := scanSession(row)
	if err != nil {
		return nil, wrap("load session", err)
	}
	return sess, nil
}

// GetByToken returns the session for the given token, or nil if expired or not found.
func (s *SessionStore) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		sessionSelect+` WHERE s.token = ? AND s.expires_at > ?`,
		token, s.now().UTC(),
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get session by token", err)
	}
	return sess, nil
}

// TokensForAccount lists the live session tokens of an account.
func (s *SessionStore) TokensForAccount(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token FROM sessions WHERE account_id = ? AND expires_at > ?`,
		accountID, s.now().UTC(),
	)
	if err != nil {
		return nil, wrap("list session tokens", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, fmt.Errorf("scan session token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

func (s *SessionStore) DeleteByToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return wrap("delete session", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().UTC())
	if err != nil {
		return 0, wrap("delete expired sessions", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

func (s *SessionStore) DeleteByAccountID(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = ?`, accountID)
	if err != nil {
		return wrap("delete sessions by account", err)
	}
	return nil
}
