package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukerupert/fortrock/internal/model"
	"github.com/dukerupert/fortrock/internal/store"
)

const DefaultLookupTimeout = 2 * time.Second

type ProfileFinder interface {
	GetByAuthID(ctx context.Context, authID string) (*model.Profile, error)
}

// Resolver gathers gate signals. Both enforcement points build their
// Signals through the same Resolver so they cannot drift apart.
type Resolver struct {
	profiles ProfileFinder
	devMode  bool
	timeout  time.Duration
	logger   *slog.Logger
}

// NewResolver returns a Resolver. In devMode every session counts as email
// confirmed.
func NewResolver(profiles ProfileFinder, devMode bool, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Resolver{
		profiles: profiles,
		devMode:  devMode,
		timeout:  timeout,
		logger:   logger,
	}
}

// Signals builds the gate inputs for sess on a route of the given class.
// The profile lookup only runs for a session on a non-public route.
func (r *Resolver) Signals(ctx context.Context, sess *model.Session, route RouteClass) Signals {
	s := Signals{Route: route, HasSession: sess != nil}
	if sess == nil {
		return s
	}
	s.EmailConfirmed = r.devMode || sess.EmailConfirmed()
	if route == RoutePublic {
		return s
	}
	s.Profile = r.LookupProfile(ctx, sess.UserID)
	return s
}

// LookupProfile fetches the profile of userID and classifies the result. A
// lookup that outlives the resolver timeout counts as LookupFailed.
func (r *Resolver) LookupProfile(ctx context.Context, userID string) ProfileLookup {
	p, err := CallWithTimeout(ctx, r.timeout, func(ctx context.Context) (*model.Profile, error) {
		return r.profiles.GetByAuthID(ctx, userID)
	})
	lookup := ClassifyProfile(p, err)
	if lookup == LookupFailed {
		r.logger.Warn("profile lookup failed", "user_id", userID, "error", err)
	}
	return lookup
}

func (r *Resolver) Timeout() time.Duration {
	return r.timeout
}

// CallWithTimeout runs fn and gives up after timeout even when fn ignores its
// context. An abandoned fn finishes in the background.
func CallWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ClassifyProfile maps a profile store result onto a ProfileLookup.
func ClassifyProfile(p *model.Profile, err error) ProfileLookup {
	switch store.KindOf(err) {
	case store.KindSchemaMissing:
		return StoreUnprovisioned
	case store.KindTransient:
		return LookupFailed
	}
	if p == nil {
		return ProfileNotFound
	}
	return ProfileFound
}
