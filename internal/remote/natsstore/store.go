// Package natsstore implements remote.Store on a NATS JetStream key-value
// bucket. Paths are used as bucket keys verbatim ('/' is a legal KV key
// character) and Watch rides on the bucket's native key watcher.
package natsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote"
)

// Config holds connection settings for the NATS-backed store.
type Config struct {
	URL           string
	Bucket        string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns settings suitable for a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Bucket:        "AR_TRAINER",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Store implements remote.Store on a JetStream KV bucket.
type Store struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

var _ remote.Store = (*Store)(nil)

// New connects to NATS and binds (creating if necessary) the KV bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, cfg.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "AR trainer challenge sessions and game history",
			History:     1,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind KV bucket %s: %w", cfg.Bucket, err)
	}

	return &Store{nc: nc, kv: kv}, nil
}

// Close drains the NATS connection.
func (s *Store) Close() {
	s.nc.Close()
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value at %s: %w", path, err)
	}
	if _, err := s.kv.Put(ctx, path, data); err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string, out any) error {
	entry, err := s.kv.Get(ctx, path)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return remote.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	return json.Unmarshal(entry.Value(), out)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	err := s.kv.Delete(ctx, path)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys under %s: %w", path, err)
	}
	defer lister.Stop()

	prefix := path + "/"
	children := make(map[string]json.RawMessage)
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		child := strings.TrimPrefix(key, prefix)
		if strings.Contains(child, "/") {
			continue
		}
		entry, err := s.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			// Deleted between listing and read.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", key, err)
		}
		children[child] = append(json.RawMessage(nil), entry.Value()...)
	}
	return children, nil
}

func (s *Store) Watch(ctx context.Context, path string) (remote.Subscription, error) {
	// jetstream ties the key watcher's subscription to this context and
	// closes its updates channel on cancellation; the remote.Store
	// contract hands that lifetime to Close instead. The default watch
	// (no UpdatesOnly) also replays the key's current value first.
	watcher, err := s.kv.Watch(context.WithoutCancel(ctx), path)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	sub := &subscription{
		watcher: watcher,
		ch:      make(chan json.RawMessage, 16),
	}
	go sub.pump()
	return sub, nil
}

func (s *Store) ServerTime(ctx context.Context) (time.Time, error) {
	// KV buckets expose no server clock; local time is the closest
	// authority this backend has.
	return time.Now(), nil
}

func (s *Store) NewChildKey() string {
	return uuid.New().String()
}

type subscription struct {
	watcher jetstream.KeyWatcher
	ch      chan json.RawMessage

	once sync.Once
}

func (sub *subscription) pump() {
	defer close(sub.ch)
	for entry := range sub.watcher.Updates() {
		if entry == nil {
			// End-of-replay marker.
			continue
		}
		if entry.Operation() != jetstream.KeyValuePut {
			continue
		}
		sub.ch <- append(json.RawMessage(nil), entry.Value()...)
	}
}

func (sub *subscription) Changes() <-chan json.RawMessage {
	return sub.ch
}

func (sub *subscription) Close() error {
	var err error
	sub.once.Do(func() {
		err = sub.watcher.Stop()
	})
	return err
}
