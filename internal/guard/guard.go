package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/fortrock/internal/gate"
	"github.com/dukerupert/fortrock/internal/model"
)

// CleanupDelay is how long SignOut waits between the cleanup broadcast and
// ending the session.
const CleanupDelay = 100 * time.Millisecond

// SessionSource streams session changes and ends sessions.
type SessionSource interface {
	Subscribe(ctx context.Context, token string) (<-chan *model.Session, func(), error)
	SignOut(ctx context.Context, token string) error
}

// Guard follows one session token. Every session transition starts a fresh
// evaluation and cancels the one in flight; results of superseded
// evaluations are dropped.
type Guard struct {
	evaluator *Evaluator
	sessions  SessionSource
	token     string
	logger    *slog.Logger

	onChange     func(State)
	onCleanup    func()
	cleanupDelay time.Duration

	mu    sync.RWMutex
	state State
	gen   uint64

	notifyMu sync.Mutex
}

type Option func(*Guard)

// OnChange registers a callback for every applied State.
func OnChange(fn func(State)) Option {
	return func(g *Guard) {
		g.onChange = fn
	}
}

// OnCleanup registers the pre-logout broadcast.
func OnCleanup(fn func()) Option {
	return func(g *Guard) {
		g.onCleanup = fn
	}
}

func WithCleanupDelay(d time.Duration) Option {
	return func(g *Guard) {
		g.cleanupDelay = d
	}
}

func New(evaluator *Evaluator, sessions SessionSource, token string, logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		evaluator:    evaluator,
		sessions:     sessions,
		token:        token,
		logger:       logger,
		cleanupDelay: CleanupDelay,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// State returns the latest applied State. It is not Ready until the first
// evaluation finishes.
func (g *Guard) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Run follows the session until ctx is done or the stream closes.
func (g *Guard) Run(ctx context.Context) error {
	ch, stop, err := g.sessions.Subscribe(ctx, g.token)
	if err != nil {
		return err
	}
	defer stop()

	var wg sync.WaitGroup
	cancelEval := func() {}
	defer func() {
		cancelEval()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sess, ok := <-ch:
			if !ok {
				return nil
			}
			cancelEval()
			var evalCtx context.Context
			evalCtx, cancelEval = context.WithCancel(ctx)

			g.mu.Lock()
			g.gen++
			gen := g.gen
			g.mu.Unlock()

			wg.Add(1)
			go func() {
				defer wg.Done()
				g.apply(gen, g.evaluator.Evaluate(evalCtx, sess))
			}()
		}
	}
}

func (g *Guard) apply(gen uint64, st State) {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		return
	}
	g.state = st
	g.mu.Unlock()

	if g.onChange != nil {
		g.onChange(st)
	}
}

// SignOut broadcasts cleanup, waits CleanupDelay, and ends the session. A
// failure to end the session is logged only; the returned path is always the
// login page and the caller must navigate there with a full page load.
func (g *Guard) SignOut(ctx context.Context) string {
	if g.onCleanup != nil {
		g.onCleanup()
	}

	timer := time.NewTimer(g.cleanupDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	// The request may already be gone; the session still has to end.
	if err := g.sessions.SignOut(context.WithoutCancel(ctx), g.token); err != nil {
		g.logger.Error("sign out failed", "error", err)
	}
	return gate.PathLogin
}
