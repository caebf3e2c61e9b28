package nats

import (
	"context"
	"sync"

	"github.com/hmlr/titlewatch/service/ledger"
)

// MockFeed is an in-memory Feed for testing. Updates pushed before a
// subscription exists are not delivered to it, like the real feed.
type MockFeed struct {
	mu           sync.Mutex
	identity     ledger.Identity
	identityErr  error
	subscribeErr error
	subs         []*mockSubscription
	subscribed   [][]string
}

// NewMockFeed creates a mock feed reporting the given local identity.
func NewMockFeed(identity ledger.Identity) *MockFeed {
	return &MockFeed{identity: identity}
}

// Subscribe records the requested state types and returns a subscription
// that receives subsequent pushes for them.
func (m *MockFeed) Subscribe(ctx context.Context, stateTypes []string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}

	sub := &mockSubscription{
		stateTypes: make(map[string]bool, len(stateTypes)),
		ch:         make(chan item, 64),
		done:       make(chan struct{}),
	}
	for _, st := range stateTypes {
		sub.stateTypes[st] = true
	}
	m.subs = append(m.subs, sub)
	m.subscribed = append(m.subscribed, stateTypes)
	return sub, nil
}

// Identity returns the configured identity or error.
func (m *MockFeed) Identity(ctx context.Context) (ledger.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity, m.identityErr
}

// Push delivers an update on the stateType subject to every matching subscription.
func (m *MockFeed) Push(stateType string, update *ledger.Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.stateTypes[stateType] {
			sub.ch <- item{update: update}
		}
	}
}

// PushError delivers an error to every subscription.
func (m *MockFeed) PushError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		sub.ch <- item{err: err}
	}
}

// SetIdentityError configures the mock to fail identity lookups.
func (m *MockFeed) SetIdentityError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identityErr = err
}

// SetSubscribeError configures the mock to fail Subscribe.
func (m *MockFeed) SetSubscribeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr = err
}

// Subscriptions returns the state types of each Subscribe call.
func (m *MockFeed) Subscriptions() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.subscribed))
	copy(out, m.subscribed)
	return out
}

type item struct {
	update *ledger.Update
	err    error
}

type mockSubscription struct {
	stateTypes map[string]bool
	ch         chan item
	done       chan struct{}
	once       sync.Once
}

func (s *mockSubscription) Next(ctx context.Context) (*ledger.Update, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrFeedClosed
	case it := <-s.ch:
		return it.update, it.err
	}
}

func (s *mockSubscription) Stop() {
	s.once.Do(func() { close(s.done) })
}
