// Package pgstore implements remote.Store on Postgres: one kv table holding
// JSON documents by path, with change notifications delivered over
// LISTEN/NOTIFY and a fallback poll for anything a dropped connection missed.
package pgstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/sqlc-dev/pqtype"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote"
)

// NotifyChannel is raised by the ar_kv trigger with the changed path as
// payload. cmd/pgsetup installs the trigger.
const NotifyChannel = "ar_kv_changes"

// Config holds connection and watch tuning for the Postgres-backed store.
type Config struct {
	DatabaseURL      string
	FallbackInterval time.Duration // poll cadence for missed notifications
	PingInterval     time.Duration
}

// DefaultConfig returns watch tuning matching a small deployment.
func DefaultConfig(databaseURL string) Config {
	return Config{
		DatabaseURL:      databaseURL,
		FallbackInterval: 15 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// Store implements remote.Store on a Postgres kv table.
type Store struct {
	db  *sql.DB
	cfg Config

	mu       sync.Mutex
	listener *pq.Listener
	watchers map[string][]*subscription
	lastSeen map[string][]byte // last value broadcast per watched path
	stopCh   chan struct{}
}

var _ remote.Store = (*Store)(nil)

// New opens the database and verifies connectivity. The schema must already
// exist (see cmd/pgsetup).
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{
		db:       db,
		cfg:      cfg,
		watchers: make(map[string][]*subscription),
		lastSeen: make(map[string][]byte),
	}, nil
}

// Close detaches the notification listener and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	l := s.listener
	s.listener = nil
	s.mu.Unlock()

	if l != nil {
		if err := l.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close pq listener")
		}
	}
	return s.db.Close()
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value at %s: %w", path, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ar_kv (path, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		path, data,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", path, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string, out any) error {
	var raw pqtype.NullRawMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM ar_kv WHERE path = $1`, path,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select %s: %w", path, err)
	}
	if !raw.Valid {
		return remote.ErrNotFound
	}
	return json.Unmarshal(raw.RawMessage, out)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ar_kv WHERE path = $1`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// likeEscaper neutralizes LIKE metacharacters so a prefix such as
// game_history/ matches literally instead of treating '_' as a wildcard.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}

func (s *Store) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	prefix := path + "/"
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, value FROM ar_kv WHERE path LIKE $1 ESCAPE '\'`, likePrefix(prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	defer rows.Close()

	children := make(map[string]json.RawMessage)
	for rows.Next() {
		var p string
		var raw pqtype.NullRawMessage
		if err := rows.Scan(&p, &raw); err != nil {
			return nil, fmt.Errorf("scan row under %s: %w", path, err)
		}
		child := strings.TrimPrefix(p, prefix)
		if strings.Contains(child, "/") || !raw.Valid {
			continue
		}
		children[child] = append(json.RawMessage(nil), raw.RawMessage...)
	}
	return children, rows.Err()
}

func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.db.QueryRowContext(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("select server time: %w", err)
	}
	return now, nil
}

func (s *Store) NewChildKey() string {
	return uuid.New().String()
}

func (s *Store) Watch(ctx context.Context, path string) (remote.Subscription, error) {
	sub := &subscription{
		store: s,
		path:  path,
		ch:    make(chan json.RawMessage, 16),
	}

	s.mu.Lock()
	if s.listener == nil {
		l := pq.NewListener(
			s.cfg.DatabaseURL,
			10*time.Second,
			time.Minute,
			func(ev pq.ListenerEventType, err error) {
				if err != nil {
					log.Error().Err(err).Msg("kv listener event")
				}
			},
		)
		if err := l.Listen(NotifyChannel); err != nil {
			s.mu.Unlock()
			if cerr := l.Close(); cerr != nil {
				log.Error().Err(cerr).Msg("failed to close pq listener")
			}
			return nil, fmt.Errorf("listen on %s: %w", NotifyChannel, err)
		}
		s.listener = l
		s.stopCh = make(chan struct{})
		go s.dispatch(l, s.stopCh)
	}
	s.watchers[path] = append(s.watchers[path], sub)
	s.mu.Unlock()

	// Deliver the current value so a change landing before the LISTEN was
	// in place is not silently missed.
	var raw json.RawMessage
	switch err := s.Get(ctx, path, &raw); {
	case errors.Is(err, remote.ErrNotFound):
	case err != nil:
		log.Warn().Err(err).Str("path", path).Msg("failed to read current value on subscribe")
	default:
		s.mu.Lock()
		s.lastSeen[path] = append([]byte(nil), raw...)
		s.mu.Unlock()
		sub.notify(raw)
	}
	return sub, nil
}

// dispatch relays notifications to watchers and polls for anything missed
// while the listener connection was down.
func (s *Store) dispatch(l *pq.Listener, stop <-chan struct{}) {
	fallback := time.NewTicker(s.cfg.FallbackInterval)
	ping := time.NewTicker(s.cfg.PingInterval)
	defer fallback.Stop()
	defer ping.Stop()

	for {
		select {
		case <-stop:
			return
		case note := <-l.Notify:
			if note == nil {
				// Connection was lost and re-established; the fallback
				// poll covers the gap.
				continue
			}
			s.broadcast(note.Extra)
		case <-fallback.C:
			for _, path := range s.watchedPaths() {
				s.broadcast(path)
			}
		case <-ping.C:
			if err := l.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping kv listener")
			}
		}
	}
}

func (s *Store) watchedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.watchers))
	for path := range s.watchers {
		paths = append(paths, path)
	}
	return paths
}

// broadcast re-reads path and fans the value out to its watchers when it
// differs from the last value they saw.
func (s *Store) broadcast(path string) {
	s.mu.Lock()
	subs := append([]*subscription(nil), s.watchers[path]...)
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	var raw json.RawMessage
	err := s.Get(context.Background(), path, &raw)
	if errors.Is(err, remote.ErrNotFound) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to read changed value")
		return
	}

	s.mu.Lock()
	if bytes.Equal(s.lastSeen[path], raw) {
		s.mu.Unlock()
		return
	}
	s.lastSeen[path] = append([]byte(nil), raw...)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.notify(raw)
	}
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

func (sub *subscription) notify(data json.RawMessage) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.ch <- append(json.RawMessage(nil), data...):
	default:
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

	s := sub.store
	s.mu.Lock()
	subs := s.watchers[sub.path]
	for i, other := range subs {
		if other == sub {
			s.watchers[sub.path] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(s.watchers[sub.path]) == 0 {
		delete(s.watchers, sub.path)
		delete(s.lastSeen, sub.path)
	}
	s.mu.Unlock()
	return nil
}
