package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/dukerupert/fortrock/internal/model"
)

type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var periodEnd sql.NullTime
	err := scanner.Scan(
		&sub.ID, &sub.UserID, &sub.Plan, &sub.Status,
		&periodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	return &sub, nil
}

const subscriptionCols = `id, user_id, plan, status, current_period_end, created_at, updated_at`

func (s *SubscriptionStore) Create(ctx context.Context, userID, plan, status string, periodEnd *time.Time) (*model.Subscription, error) {
	var end sql.NullTime
	if periodEnd != nil {
		end = sql.NullTime{Time: periodEnd.UTC(), Valid: true}
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, plan, status, current_period_end) VALUES (?, ?, ?, ?)`,
		userID, plan, status, end,
	)
	if err != nil {
		return nil, wrap("insert subscription", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, wrap("last insert id", err)
	}
	return s.GetByID(ctx, id)
}

func (s *SubscriptionStore) GetByID(ctx context.Context, id int64) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionCols+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get subscription", err)
	}
	return sub, nil
}

// GetCurrent returns the newest active or trialing subscription of a user.
// The period end is not checked here; see model.Subscription.ActiveAt.
func (s *SubscriptionStore) GetCurrent(ctx context.Context, userID string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions
		WHERE user_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID, model.SubscriptionActive, model.SubscriptionTrialing,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get current subscription", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return wrap("delete subscriptions", err)
	}
	return nil
}
