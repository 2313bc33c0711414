package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/touchline/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	DefaultKVBucket = "MATCH_TIMERS"

	natsMaxReconnects = -1
	natsReconnectWait = 2 * time.Second
	kvKeyPrefix       = "match."
)

// KVStore keeps snapshots in a JetStream KeyValue bucket, one key per match.
type KVStore struct {
	nc *nats.Conn
	kv jetstream.KeyValue
}

// ConnectKVStore connects to NATS and opens (or creates) the bucket.
func ConnectKVStore(ctx context.Context, natsURL, bucket string) (*KVStore, error) {
	opts := []nats.Option{
		nats.Name("touchline-timer-store"),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
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

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	s, err := NewKVStore(ctx, js, bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.nc = nc
	return s, nil
}

// NewKVStore opens (or creates) the bucket on an existing JetStream context.
func NewKVStore(ctx context.Context, js jetstream.JetStream, bucket string) (*KVStore, error) {
	if bucket == "" {
		bucket = DefaultKVBucket
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Last timer snapshot per match",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("create key value bucket %s: %w", bucket, err)
	}

	log.Info().Str("bucket", bucket).Msg("using JetStream key value bucket for timer snapshots")
	return &KVStore{kv: kv}, nil
}

func (s *KVStore) GetTimerState(ctx context.Context, matchID string) (*models.TimerState, error) {
	entry, err := s.kv.Get(ctx, kvKey(matchID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get timer snapshot: %w", err)
	}

	var st models.TimerState
	if err := json.Unmarshal(entry.Value(), &st); err != nil {
		return nil, fmt.Errorf("unmarshal timer snapshot: %w", err)
	}
	return &st, nil
}

func (s *KVStore) SaveTimerState(ctx context.Context, state models.TimerState) error {
	if err := validate(state); err != nil {
		return err
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal timer snapshot: %w", err)
	}
	if _, err := s.kv.Put(ctx, kvKey(state.MatchID), data); err != nil {
		return fmt.Errorf("put timer snapshot: %w", err)
	}
	return nil
}

func (s *KVStore) DeleteTimerState(ctx context.Context, matchID string) error {
	if err := s.kv.Delete(ctx, kvKey(matchID)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete timer snapshot: %w", err)
	}
	return nil
}

func (s *KVStore) Ping(ctx context.Context) error {
	if s.nc != nil && !s.nc.IsConnected() {
		return fmt.Errorf("NATS not connected: %s", s.nc.Status())
	}
	_, err := s.kv.Status(ctx)
	return err
}

func (s *KVStore) Close() error {
	if s.nc != nil {
		return s.nc.Drain()
	}
	return nil
}

// kvKey maps a match id onto the restricted KV key alphabet.
func kvKey(matchID string) string {
	return kvKeyPrefix + base64.RawURLEncoding.EncodeToString([]byte(matchID))
}
