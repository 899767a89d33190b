// Package memstore is an in-process remote.Store used by tests and by the
// daemon's standalone mode. It keeps full Watch/List semantics so protocol
// code behaves the same against it as against a real backend.
package memstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote"
)

// Store implements remote.Store on top of a map guarded by a mutex.
type Store struct {
	mu       sync.Mutex
	values   map[string][]byte
	watchers map[string][]*subscription
}

var _ remote.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		values:   make(map[string][]byte),
		watchers: make(map[string][]*subscription),
	}
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.values[path] = data
	subs := append([]*subscription(nil), s.watchers[path]...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.notify(data)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string, out any) error {
	s.mu.Lock()
	data, ok := s.values[path]
	s.mu.Unlock()

	if !ok {
		return remote.ErrNotFound
	}
	return json.Unmarshal(data, out)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	delete(s.values, path)
	s.mu.Unlock()
	return nil
}

func (s *Store) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	prefix := path + "/"

	s.mu.Lock()
	defer s.mu.Unlock()

	children := make(map[string]json.RawMessage)
	for p, data := range s.values {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		child := strings.TrimPrefix(p, prefix)
		if strings.Contains(child, "/") {
			// Grandchild; List only reports immediate children.
			continue
		}
		children[child] = append(json.RawMessage(nil), data...)
	}
	return children, nil
}

func (s *Store) Watch(ctx context.Context, path string) (remote.Subscription, error) {
	sub := &subscription{
		store: s,
		path:  path,
		ch:    make(chan json.RawMessage, 16),
	}

	s.mu.Lock()
	s.watchers[path] = append(s.watchers[path], sub)
	data, ok := s.values[path]
	s.mu.Unlock()

	if ok {
		sub.notify(data)
	}
	return sub, nil
}

func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (s *Store) NewChildKey() string {
	return uuid.New().String()
}

type subscription struct {
	store *Store
	path  string

	mu     sync.Mutex
	ch     chan json.RawMessage
	closed bool
}

func (sub *subscription) Changes() <-chan json.RawMessage {
	return sub.ch
}

func (sub *subscription) notify(data []byte) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- append(json.RawMessage(nil), data...):
	default:
		// Slow consumer; drop rather than block a writer.
	}
}

func (sub *subscription) Close() error {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return nil
	}
	sub.closed = true
	close(sub.ch)
	sub.mu.Unlock()

	sub.store.mu.Lock()
	subs := sub.store.watchers[sub.path]
	for i, other := range subs {
		if other == sub {
			sub.store.watchers[sub.path] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	sub.store.mu.Unlock()
	return nil
}
