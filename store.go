package flow

import (
	"context"
	"sort"
)

// Store persists workflow instances. A snapshot is saved in full after every
// pass and loaded in full before every resume.
type Store interface {
	// SaveInstance creates or replaces the snapshot for an instance
	SaveInstance(ctx context.Context, snapshot *Snapshot) error

	// LoadInstance returns the snapshot for an instance, or nil if none exists
	LoadInstance(ctx context.Context, instanceID string) (*Snapshot, error)

	// DeleteInstance removes an instance
	DeleteInstance(ctx context.Context, instanceID string) error

	// ListInstances summarizes every stored instance, newest first
	ListInstances(ctx context.Context) ([]*InstanceSummary, error)
}

// SortSummaries orders summaries newest first.
func SortSummaries(summaries []*InstanceSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].InstanceID > summaries[j].InstanceID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
}
