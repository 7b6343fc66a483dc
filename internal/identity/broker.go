package identity

import (
	"sync"

	"github.com/dukerupert/fortrock/internal/model"
)

type subscription struct {
	ch chan *model.Session
}

// broker fans session changes out to subscribers keyed by session token.
// Each subscriber holds at most one pending value; a newer value replaces an
// unread one.
type broker struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

func newBroker() *broker {
	return &broker{subs: make(map[string]map[*subscription]struct{})}
}

func (b *broker) subscribe(token string) *subscription {
	sub := &subscription{ch: make(chan *model.Session, 1)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[token] == nil {
		b.subs[token] = make(map[*subscription]struct{})
	}
	b.subs[token][sub] = struct{}{}
	return sub
}

func (b *broker) unsubscribe(token string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[token]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, token)
	}
	close(sub.ch)
}

func (b *broker) publish(token string, sess *model.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[token] {
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- sess:
		default:
		}
	}
}

// offer delivers an initial value unless a publish already filled the slot.
func (b *broker) offer(token string, sub *subscription, sess *model.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[token][sub]; !ok {
		return
	}
	select {
	case sub.ch <- sess:
	default:
	}
}

func (b *broker) subscriberCount(token string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[token])
}
