package flow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileExecutionLogSink writes one newline-delimited JSON file per instance.
type FileExecutionLogSink struct {
	directory string
}

func NewFileExecutionLogSink(directory string) *FileExecutionLogSink {
	return &FileExecutionLogSink{directory: directory}
}

func (s *FileExecutionLogSink) instanceLogPath(instanceID string) string {
	return filepath.Join(s.directory, fmt.Sprintf("%s.jsonl", instanceID))
}

func (s *FileExecutionLogSink) ReadEntries(ctx context.Context, instanceID string) ([]*LogEntry, error) {
	data, err := os.ReadFile(s.instanceLogPath(instanceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []*LogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, scanner.Err()
}

func (s *FileExecutionLogSink) WriteEntries(ctx context.Context, instanceID string, entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	filePath := s.instanceLogPath(instanceID)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(buf.Bytes()); err != nil {
		return err
	}
	return f.Sync()
}
