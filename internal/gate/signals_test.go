package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/fortrock/internal/model"
	"github.com/dukerupert/fortrock/internal/store"
)

type fakeFinder struct {
	profile *model.Profile
	err     error
	block   bool
	calls   int
}

func (f *fakeFinder) GetByAuthID(ctx context.Context, authID string) (*model.Profile, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return &model.Profile{AuthID: authID}, nil
	}
	return f.profile, f.err
}

func testSession(confirmed bool) *model.Session {
	s := &model.Session{UserID: "user-1", Email: "alice@example.com"}
	if confirmed {
		now := time.Now()
		s.EmailConfirmedAt = &now
	}
	return s
}

func TestClassifyProfile(t *testing.T) {
	schemaErr := fmt.Errorf("get profile: %w", store.ErrSchemaMissing)
	tests := []struct {
		name    string
		profile *model.Profile
		err     error
		want    ProfileLookup
	}{
		{"found", &model.Profile{ID: 1}, nil, ProfileFound},
		{"not found", nil, nil, ProfileNotFound},
		{"schema missing", nil, schemaErr, StoreUnprovisioned},
		{"other error", nil, errors.New("disk I/O error"), LookupFailed},
		{"timeout", nil, context.DeadlineExceeded, LookupFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyProfile(tt.profile, tt.err); got != tt.want {
				t.Errorf("ClassifyProfile = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSignalsNoSession(t *testing.T) {
	f := &fakeFinder{}
	r := NewResolver(f, false, time.Second, slog.Default())

	s := r.Signals(context.Background(), nil, RouteProtected)
	if s.HasSession {
		t.Error("expected HasSession = false")
	}
	if f.calls != 0 {
		t.Errorf("profile lookups = %d, want 0", f.calls)
	}
}

func TestSignalsPublicSkipsLookup(t *testing.T) {
	f := &fakeFinder{}
	r := NewResolver(f, false, time.Second, slog.Default())

	s := r.Signals(context.Background(), testSession(true), RoutePublic)
	if !s.HasSession || !s.EmailConfirmed {
		t.Errorf("signals = %+v, want session and confirmed", s)
	}
	if f.calls != 0 {
		t.Errorf("profile lookups = %d, want 0", f.calls)
	}
}

func TestSignalsProtectedLooksUpProfile(t *testing.T) {
	f := &fakeFinder{profile: &model.Profile{ID: 7}}
	r := NewResolver(f, false, time.Second, slog.Default())

	s := r.Signals(context.Background(), testSession(false), RouteProtected)
	if s.Profile != ProfileFound {
		t.Errorf("profile = %q, want %q", s.Profile, ProfileFound)
	}
	if s.EmailConfirmed {
		t.Error("expected unconfirmed email")
	}
}

func TestSignalsDevModeConfirmsEmail(t *testing.T) {
	f := &fakeFinder{err: fmt.Errorf("wrapped: %w", store.ErrSchemaMissing)}
	r := NewResolver(f, true, time.Second, slog.Default())

	s := r.Signals(context.Background(), testSession(false), RouteProtected)
	if !s.EmailConfirmed {
		t.Error("expected dev mode to treat email as confirmed")
	}
	if s.Profile != StoreUnprovisioned {
		t.Errorf("profile = %q, want %q", s.Profile, StoreUnprovisioned)
	}
	if !Decide(s).Allowed() {
		t.Error("expected dev mode session to be allowed")
	}
}

func TestLookupProfileTimeout(t *testing.T) {
	f := &fakeFinder{block: true}
	r := NewResolver(f, false, 20*time.Millisecond, slog.Default())

	start := time.Now()
	got := r.LookupProfile(context.Background(), "user-1")
	if got != LookupFailed {
		t.Errorf("lookup = %q, want %q", got, LookupFailed)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("lookup took %v, want bounded by timeout", elapsed)
	}
}

func TestCallWithTimeoutReturnsResult(t *testing.T) {
	got, err := CallWithTimeout(context.Background(), time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Errorf("got %d, %v; want 42, nil", got, err)
	}
}

func TestCallWithTimeoutIgnoredContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	_, err := CallWithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}
