package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps snapshots in memory as encoded JSON, so every load
// returns an independent copy exactly as a durable store would.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: map[string][]byte{}}
}

func (s *MemoryStore) SaveInstance(ctx context.Context, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[snapshot.ID] = data
	return nil
}

func (s *MemoryStore) LoadInstance(ctx context.Context, instanceID string) (*Snapshot, error) {
	s.mu.RLock()
	data, ok := s.instances[instanceID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

func (s *MemoryStore) DeleteInstance(ctx context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, instanceID)
	return nil
}

func (s *MemoryStore) ListInstances(ctx context.Context) ([]*InstanceSummary, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	summaries := make([]*InstanceSummary, 0, len(ids))
	for _, id := range ids {
		snapshot, err := s.LoadInstance(ctx, id)
		if err != nil {
			return nil, err
		}
		if snapshot != nil {
			summaries = append(summaries, snapshot.Summary())
		}
	}
	SortSummaries(summaries)
	return summaries, nil
}
