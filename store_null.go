package flow

import "context"

// NullStore is a no-op implementation. Runs using it cannot be resumed
// through the engine.
type NullStore struct{}

func NewNullStore() *NullStore {
	return &NullStore{}
}

func (s *NullStore) SaveInstance(ctx context.Context, snapshot *Snapshot) error {
	return nil
}

func (s *NullStore) LoadInstance(ctx context.Context, instanceID string) (*Snapshot, error) {
	return nil, nil
}

func (s *NullStore) DeleteInstance(ctx context.Context, instanceID string) error {
	return nil
}

func (s *NullStore) ListInstances(ctx context.Context) ([]*InstanceSummary, error) {
	return nil, nil
}
