// Package redis stores workflow instances and their exported execution
// logs in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/deepnoodle-ai/flow"
	"github.com/redis/go-redis/v9"
)

var (
	_ flow.Store            = (*Store)(nil)
	_ flow.ExecutionLogSink = (*Store)(nil)
)

// DefaultPrefix namespaces every key the store writes
const DefaultPrefix = "flow"

// Options configure a Store
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store is a Redis implementation of flow.Store and flow.ExecutionLogSink.
//
// Keys:
//   - <prefix>:instance:<id> holds the snapshot JSON
//   - <prefix>:instances is a sorted set of instance IDs scored by creation time
//   - <prefix>:log:<id> is a sorted set of log entries scored by sequence
type Store struct {
	client *redis.Client
	prefix string
	owned  bool
}

// New connects to Redis with the given options
func New(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	s := NewWithClient(client, opts.Prefix)
	s.owned = true
	return s, nil
}

// NewWithClient wraps an existing client. Close leaves the client open.
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Close closes the client if the store created it
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) instanceKey(id string) string {
	return s.prefix + ":instance:" + id
}

func (s *Store) indexKey() string {
	return s.prefix + ":instances"
}

func (s *Store) logKey(id string) string {
	return s.prefix + ":log:" + id
}

func (s *Store) SaveInstance(ctx context.Context, snapshot *flow.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.instanceKey(snapshot.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(snapshot.CreatedAt.UnixMilli()),
			Member: snapshot.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", snapshot.ID, err)
	}
	return nil
}

func (s *Store) LoadInstance(ctx context.Context, instanceID string) (*flow.Snapshot, error) {
	data, err := s.client.Get(ctx, s.instanceKey(instanceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}
	var snapshot flow.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

func (s *Store) DeleteInstance(ctx context.Context, instanceID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.instanceKey(instanceID), s.logKey(instanceID))
		pipe.ZRem(ctx, s.indexKey(), instanceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", instanceID, err)
	}
	return nil
}

func (s *Store) ListInstances(ctx context.Context) ([]*flow.InstanceSummary, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.instanceKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load instances: %w", err)
	}
	summaries := make([]*flow.InstanceSummary, 0, len(values))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			continue
		}
		var snapshot flow.Snapshot
		if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", ids[i], err)
		}
		summaries = append(summaries, snapshot.Summary())
	}
	flow.SortSummaries(summaries)
	return summaries, nil
}

// WriteEntries appends exported log entries. Entries are keyed by sequence
// so writing the same batch twice stores it once.
func (s *Store) WriteEntries(ctx context.Context, instanceID string, entries []*flow.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	members := make([]redis.Z, 0, len(entries))
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal log entry: %w", err)
		}
		members = append(members, redis.Z{Score: float64(entry.Sequence), Member: string(data)})
	}
	if err := s.client.ZAddNX(ctx, s.logKey(instanceID), members...).Err(); err != nil {
		return fmt.Errorf("failed to write log entries: %w", err)
	}
	return nil
}

func (s *Store) ReadEntries(ctx context.Context, instanceID string) ([]*flow.LogEntry, error) {
	values, err := s.client.ZRange(ctx, s.logKey(instanceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	entries := make([]*flow.LogEntry, 0, len(values))
	for _, value := range values {
		var entry flow.LogEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal log entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
