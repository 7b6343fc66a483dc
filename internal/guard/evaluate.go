// Package guard keeps a render-time view of a session in step with the edge
// gate. It evaluates the same signals through the same decision table, so a
// user it reports as authenticated is exactly a user the edge gate lets onto
// a protected page.
package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/fortrock/internal/gate"
	"github.com/dukerupert/fortrock/internal/model"
	"github.com/dukerupert/fortrock/internal/store"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// State is what a page needs to know about its visitor. Redirect is set when
// AuthenticatedUser is nil and a session exists or is required.
type State struct {
	Ready             bool   `json:"ready"`
	AuthenticatedUser *User  `json:"authenticatedUser"`
	IsEmailVerified   bool   `json:"isEmailVerified"`
	IsSubscriber      bool   `json:"isSubscriber"`
	Redirect          string `json:"redirect,omitempty"`
}

type SubscriptionFinder interface {
	GetCurrent(ctx context.Context, userID string) (*model.Subscription, error)
}

type Evaluator struct {
	resolver      *gate.Resolver
	subscriptions SubscriptionFinder
	logger        *slog.Logger
	now           func() time.Time
}

func NewEvaluator(resolver *gate.Resolver, subscriptions SubscriptionFinder, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		resolver:      resolver,
		subscriptions: subscriptions,
		logger:        logger,
		now:           time.Now,
	}
}

// Evaluate computes the State for sess, which may be nil.
func (e *Evaluator) Evaluate(ctx context.Context, sess *model.Session) State {
	signals := e.resolver.Signals(ctx, sess, gate.RouteProtected)
	decision := gate.Decide(signals)

	// Verification and subscription only describe a user the gate admits.
	st := State{Ready: true}
	if !decision.Allowed() {
		st.Redirect = decision.Target
		return st
	}
	st.AuthenticatedUser = &User{ID: sess.UserID, Email: sess.Email}
	st.IsEmailVerified = true
	st.IsSubscriber = e.isSubscriber(ctx, sess.UserID)
	return st
}

// isSubscriber treats every lookup failure, including an unprovisioned
// store, as no subscription.
func (e *Evaluator) isSubscriber(ctx context.Context, userID string) bool {
	sub, err := gate.CallWithTimeout(ctx, e.resolver.Timeout(), func(ctx context.Context) (*model.Subscription, error) {
		return e.subscriptions.GetCurrent(ctx, userID)
	})
	switch store.KindOf(err) {
	case store.KindSchemaMissing:
		e.logger.Debug("subscription store unprovisioned", "user_id", userID)
		return false
	case store.KindTransient:
		e.logger.Warn("subscription lookup failed", "user_id", userID, "error", err)
		return false
	}
	return sub.ActiveAt(e.now())
}
