package store

import (
	"context"
	"database/sql"

	"github.com/dukerupert/fortrock/internal/model"
)

// ProfileStore reads and writes signup profiles. Every error it returns is
// classified: errors.Is(err, ErrSchemaMissing) holds when the profiles table
// has not been provisioned.
type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func scanProfile(scanner interface{ Scan(...any) error }) (*model.Profile, error) {
	var p model.Profile
	var phone sql.NullString
	err := scanner.Scan(&p.ID, &p.AuthID, &p.FirstName, &p.LastName, &p.Email, &phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if phone.Valid {
		p.PhoneNumber = &phone.String
	}
	return &p, nil
}

const profileCols = `id, auth_id, first_name, last_name, email, phone_number, created_at, updated_at`

func (s *ProfileStore) Create(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	var phone sql.NullString
	if p.PhoneNumber != nil && *p.PhoneNumber != "" {
		phone = sql.NullString{String: *p.PhoneNumber, Valid: true}
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (auth_id, first_name, last_name, email, phone_number) VALUES (?, ?, ?, ?, ?)`,
		p.AuthID, p.FirstName, p.LastName, p.Email, phone,
	)
	if err != nil {
		return nil, wrap("insert profile", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, wrap("last insert id", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE id = ?`, id)
	created, err := scanProfile(row)
	if err != nil {
		return nil, wrap("load profile", err)
	}
	return created, nil
}

// GetByAuthID returns the profile owned by the identity authID, or nil if
// signup never completed.
func (s *ProfileStore) GetByAuthID(ctx context.Context, authID string) (*model.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE auth_id = ?`, authID)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get profile by auth id", err)
	}
	return p, nil
}

func (s *ProfileStore) UpdateEmail(ctx context.Context, authID, email string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET email = ?, updated_at = CURRENT_TIMESTAMP WHERE auth_id = ?`,
		email, authID,
	)
	if err != nil {
		return wrap("update profile email", err)
	}
	return nil
}

func (s *ProfileStore) DeleteByAuthID(ctx context.Context, authID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE auth_id = ?`, authID)
	if err != nil {
		return wrap("delete profile", err)
	}
	return nil
}
