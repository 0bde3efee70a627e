// Package inputtest provides an in-memory keyboard source for tests.
package inputtest

import (
	"sync"

	"github.com/nilszeilon/keystr/internal/input"
)

// Fake is a Source driven by the test.
type Fake struct {
	// SubscribeErr, when set, is returned by Subscribe.
	SubscribeErr error

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

var _ input.Source = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{subs: make(map[*subscription]struct{})}
}

func (f *Fake) Subscribe(h input.Handler) (input.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}
	sub := &subscription{fake: f, handler: h, errs: make(chan error, 1)}
	f.subs[sub] = struct{}{}
	return sub, nil
}

// Press delivers n key presses to every subscriber, synchronously.
func (f *Fake) Press(n int) {
	for _, sub := range f.snapshot() {
		for i := 0; i < n; i++ {
			sub.handler(input.KeyPress{})
		}
	}
}

// Fail reports err on every live subscription.
func (f *Fake) Fail(err error) {
	for _, sub := range f.snapshot() {
		select {
		case sub.errs <- err:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (f *Fake) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Fake) snapshot() []*subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*subscription, 0, len(f.subs))
	for sub := range f.subs {
		out = append(out, sub)
	}
	return out
}

type subscription struct {
	fake    *Fake
	handler input.Handler
	errs    chan error
}

func (s *subscription) Unsubscribe() error {
	s.fake.mu.Lock()
	delete(s.fake.subs, s)
	s.fake.mu.Unlock()
	return nil
}

func (s *subscription) Err() <-chan error {
	return s.errs
}
