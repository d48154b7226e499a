package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is a file-based implementation that writes one JSON document per
// instance. Writes go through a temporary file and a rename so a crash never
// leaves a partially written snapshot behind.
type FileStore struct {
	dataDir string
}

// NewFileStore creates a new file-based store
func NewFileStore(dataDir string) (*FileStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".flow", "instances")
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// Dir returns the directory holding instance files
func (s *FileStore) Dir() string {
	return s.dataDir
}

func (s *FileStore) instancePath(instanceID string) string {
	return filepath.Join(s.dataDir, instanceID+".json")
}

// SaveInstance saves the instance snapshot to disk
func (s *FileStore) SaveInstance(ctx context.Context, snapshot *Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(s.dataDir, snapshot.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.instancePath(snapshot.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

// LoadInstance loads the snapshot for an instance
func (s *FileStore) LoadInstance(ctx context.Context, instanceID string) (*Snapshot, error) {
	data, err := os.ReadFile(s.instancePath(instanceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No snapshot found
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// DeleteInstance removes the snapshot for an instance
func (s *FileStore) DeleteInstance(ctx context.Context, instanceID string) error {
	if err := os.Remove(s.instancePath(instanceID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}
	return nil
}

// ListInstances returns a summary of every stored instance
func (s *FileStore) ListInstances(ctx context.Context) ([]*InstanceSummary, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*InstanceSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read instances directory: %w", err)
	}

	var summaries []*InstanceSummary
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		snapshot, err := s.LoadInstance(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil || snapshot == nil {
			// Skip instances we can't read
			continue
		}
		summaries = append(summaries, snapshot.Summary())
	}
	SortSummaries(summaries)
	return summaries, nil
}
