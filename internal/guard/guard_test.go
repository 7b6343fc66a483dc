package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/fortrock/internal/gate"
	"github.com/dukerupert/fortrock/internal/model"
	"github.com/dukerupert/fortrock/internal/store"
)

type fakeProfiles struct {
	mu      sync.Mutex
	profile *model.Profile
	err     error
	delay   map[string]time.Duration
}

func (f *fakeProfiles) GetByAuthID(ctx context.Context, authID string) (*model.Profile, error) {
	f.mu.Lock()
	d := f.delay[authID]
	p, err := f.profile, f.err
	f.mu.Unlock()
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p, err
}

type fakeSubscriptions struct {
	sub *model.Subscription
	err error
}

func (f *fakeSubscriptions) GetCurrent(ctx context.Context, userID string) (*model.Subscription, error) {
	return f.sub, f.err
}

type fakeSource struct {
	ch         chan *model.Session
	signOutErr error

	mu         sync.Mutex
	signedOut  []string
	subscribed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan *model.Session, 4), subscribed: make(chan struct{})}
}

func (f *fakeSource) Subscribe(ctx context.Context, token string) (<-chan *model.Session, func(), error) {
	close(f.subscribed)
	return f.ch, func() {}, nil
}

func (f *fakeSource) SignOut(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedOut = append(f.signedOut, token)
	return f.signOutErr
}

func newEvaluator(profiles gate.ProfileFinder, subs SubscriptionFinder, devMode bool) *Evaluator {
	r := gate.NewResolver(profiles, devMode, 200*time.Millisecond, slog.Default())
	return NewEvaluator(r, subs, slog.Default())
}

func session(userID string, confirmed bool) *model.Session {
	s := &model.Session{UserID: userID, Email: userID + "@example.com", Token: "tok-" + userID}
	if confirmed {
		now := time.Now()
		s.EmailConfirmedAt = &now
	}
	return s
}

func TestEvaluateNoSession(t *testing.T) {
	e := newEvaluator(&fakeProfiles{}, &fakeSubscriptions{}, false)
	st := e.Evaluate(context.Background(), nil)
	if !st.Ready || st.AuthenticatedUser != nil || st.IsSubscriber {
		t.Errorf("state = %+v, want ready and signed out", st)
	}
	if st.Redirect != gate.PathLogin {
		t.Errorf("redirect = %q, want %q", st.Redirect, gate.PathLogin)
	}
}

func TestEvaluate(t *testing.T) {
	schemaErr := fmt.Errorf("get profile: %w", store.ErrSchemaMissing)
	future := time.Now().Add(24 * time.Hour)
	active := &model.Subscription{Status: model.SubscriptionActive, CurrentPeriodEnd: &future}

	tests := []struct {
		name         string
		profiles     *fakeProfiles
		subs         *fakeSubscriptions
		confirmed    bool
		wantUser     bool
		wantVerified bool
		wantSub      bool
		wantRedirect string
	}{
		{"profile found", &fakeProfiles{profile: &model.Profile{ID: 1}}, &fakeSubscriptions{sub: active}, false, true, true, true, ""},
		{"profile missing", &fakeProfiles{}, &fakeSubscriptions{}, true, false, false, false, gate.PathVerifyEmail},
		{"profile missing with active subscription", &fakeProfiles{}, &fakeSubscriptions{sub: active}, true, false, false, false, gate.PathVerifyEmail},
		{"unprovisioned unconfirmed with active subscription", &fakeProfiles{err: schemaErr}, &fakeSubscriptions{sub: active}, false, false, false, false, gate.PathVerifyEmail},
		{"unprovisioned confirmed", &fakeProfiles{err: schemaErr}, &fakeSubscriptions{err: schemaErr}, true, true, true, false, ""},
		{"unprovisioned unconfirmed", &fakeProfiles{err: schemaErr}, &fakeSubscriptions{err: schemaErr}, false, false, false, false, gate.PathVerifyEmail},
		{"lookup failed confirmed", &fakeProfiles{err: errors.New("database is locked")}, &fakeSubscriptions{err: errors.New("database is locked")}, true, true, true, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEvaluator(tt.profiles, tt.subs, false)
			st := e.Evaluate(context.Background(), session("u1", tt.confirmed))
			if (st.AuthenticatedUser != nil) != tt.wantUser {
				t.Errorf("authenticated = %v, want %v", st.AuthenticatedUser != nil, tt.wantUser)
			}
			if st.IsEmailVerified != tt.wantVerified {
				t.Errorf("verified = %v, want %v", st.IsEmailVerified, tt.wantVerified)
			}
			if st.IsSubscriber != tt.wantSub {
				t.Errorf("subscriber = %v, want %v", st.IsSubscriber, tt.wantSub)
			}
			if st.Redirect != tt.wantRedirect {
				t.Errorf("redirect = %q, want %q", st.Redirect, tt.wantRedirect)
			}
		})
	}
}

// TestEvaluateFlagsFollowAuthentication checks that verification and
// subscription are only ever reported for a user the gate admits.
func TestEvaluateFlagsFollowAuthentication(t *testing.T) {
	future := time.Now().Add(24 * time.Hour)
	active := &model.Subscription{Status: model.SubscriptionActive, CurrentPeriodEnd: &future}

	profiles := map[string]*fakeProfiles{
		"found":         {profile: &model.Profile{ID: 1}},
		"not found":     {},
		"unprovisioned": {err: fmt.Errorf("get profile: %w", store.ErrSchemaMissing)},
		"failed":        {err: errors.New("disk I/O error")},
	}
	for name, profile := range profiles {
		for _, confirmed := range []bool{false, true} {
			for _, devMode := range []bool{false, true} {
				for _, withSession := range []bool{false, true} {
					e := newEvaluator(profile, &fakeSubscriptions{sub: active}, devMode)
					var sess *model.Session
					if withSession {
						sess = session("u1", confirmed)
					}
					st := e.Evaluate(context.Background(), sess)
					authed := st.AuthenticatedUser != nil
					if st.IsEmailVerified != authed || st.IsSubscriber != authed {
						t.Errorf("profile=%s confirmed=%v dev=%v session=%v: state = %+v",
							name, confirmed, devMode, withSession, st)
					}
					if authed == (st.Redirect != "") {
						t.Errorf("profile=%s confirmed=%v dev=%v session=%v: redirect %q with authenticated=%v",
							name, confirmed, devMode, withSession, st.Redirect, authed)
					}
				}
			}
		}
	}
}

func TestEvaluateExpiredSubscription(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	subs := &fakeSubscriptions{sub: &model.Subscription{Status: model.SubscriptionTrialing, CurrentPeriodEnd: &past}}
	e := newEvaluator(&fakeProfiles{profile: &model.Profile{ID: 1}}, subs, false)

	if st := e.Evaluate(context.Background(), session("u1", true)); st.IsSubscriber {
		t.Error("expected expired trial to not count as subscriber")
	}
}

func TestEvaluateDevMode(t *testing.T) {
	e := newEvaluator(&fakeProfiles{err: fmt.Errorf("x: %w", store.ErrSchemaMissing)}, &fakeSubscriptions{}, true)
	st := e.Evaluate(context.Background(), session("u1", false))
	if st.AuthenticatedUser == nil || !st.IsEmailVerified {
		t.Errorf("state = %+v, want authenticated and verified in dev mode", st)
	}
}

func waitForState(t *testing.T, g *Guard, pred func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := g.State(); pred(st) {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never matched, last = %+v", g.State())
	return State{}
}

func TestGuardRunFollowsSession(t *testing.T) {
	profiles := &fakeProfiles{profile: &model.Profile{ID: 1}}
	src := newFakeSource()

	var mu sync.Mutex
	var changes []State
	g := New(newEvaluator(profiles, &fakeSubscriptions{}, false), src, "tok-u1", slog.Default(),
		OnChange(func(st State) {
			mu.Lock()
			changes = append(changes, st)
			mu.Unlock()
		}))

	if g.State().Ready {
		t.Fatal("expected guard not ready before first evaluation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	src.ch <- session("u1", true)
	waitForState(t, g, func(st State) bool { return st.AuthenticatedUser != nil })

	src.ch <- nil
	st := waitForState(t, g, func(st State) bool { return st.AuthenticatedUser == nil })
	if !st.Ready || st.Redirect != gate.PathLogin {
		t.Errorf("signed out state = %+v", st)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 {
		t.Errorf("changes = %d, want 2", len(changes))
	}
}

func TestGuardDropsStaleEvaluation(t *testing.T) {
	profiles := &fakeProfiles{
		profile: &model.Profile{ID: 1},
		delay:   map[string]time.Duration{"slow": 100 * time.Millisecond},
	}
	src := newFakeSource()

	var mu sync.Mutex
	var seen []string
	g := New(newEvaluator(profiles, &fakeSubscriptions{}, false), src, "tok", slog.Default(),
		OnChange(func(st State) {
			mu.Lock()
			defer mu.Unlock()
			if st.AuthenticatedUser != nil {
				seen = append(seen, st.AuthenticatedUser.ID)
			} else {
				seen = append(seen, "")
			}
		}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)
	<-src.subscribed

	src.ch <- session("slow", true)
	src.ch <- session("fast", true)

	waitForState(t, g, func(st State) bool { return st.AuthenticatedUser != nil && st.AuthenticatedUser.ID == "fast" })
	time.Sleep(200 * time.Millisecond)

	if st := g.State(); st.AuthenticatedUser == nil || st.AuthenticatedUser.ID != "fast" {
		t.Errorf("final state = %+v, want the newest session", st)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, id := range seen {
		if id == "slow" {
			t.Errorf("stale evaluation was applied: %v", seen)
		}
	}
}

func TestGuardStreamClosed(t *testing.T) {
	src := newFakeSource()
	g := New(newEvaluator(&fakeProfiles{}, &fakeSubscriptions{}, false), src, "tok", slog.Default())
	close(src.ch)

	if err := g.Run(context.Background()); err != nil {
		t.Errorf("Run = %v, want nil on closed stream", err)
	}
}

func TestSignOut(t *testing.T) {
	src := newFakeSource()
	var cleanedAt time.Time
	g := New(newEvaluator(&fakeProfiles{}, &fakeSubscriptions{}, false), src, "tok-1", slog.Default(),
		OnCleanup(func() { cleanedAt = time.Now() }),
		WithCleanupDelay(30*time.Millisecond))

	start := time.Now()
	target := g.SignOut(context.Background())

	if target != gate.PathLogin {
		t.Errorf("target = %q, want %q", target, gate.PathLogin)
	}
	if cleanedAt.IsZero() {
		t.Error("expected cleanup broadcast")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("expected SignOut to wait for the cleanup delay")
	}
	if len(src.signedOut) != 1 || src.signedOut[0] != "tok-1" {
		t.Errorf("signed out = %v, want [tok-1]", src.signedOut)
	}
}

func TestSignOutFailureStillRedirects(t *testing.T) {
	src := newFakeSource()
	src.signOutErr = errors.New("provider unavailable")
	g := New(newEvaluator(&fakeProfiles{}, &fakeSubscriptions{}, false), src, "tok-1", slog.Default(),
		WithCleanupDelay(0))

	if target := g.SignOut(context.Background()); target != gate.PathLogin {
		t.Errorf("target = %q, want %q", target, gate.PathLogin)
	}
}

func TestSignOutCancelledContext(t *testing.T) {
	src := newFakeSource()
	g := New(newEvaluator(&fakeProfiles{}, &fakeSubscriptions{}, false), src, "tok-1", slog.Default(),
		WithCleanupDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if target := g.SignOut(ctx); target != gate.PathLogin {
		t.Errorf("target = %q", target)
	}
	if len(src.signedOut) != 1 {
		t.Error("expected the session to end even with a cancelled request")
	}
}
