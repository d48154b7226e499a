package flow

import "time"

// Snapshot contains the complete serializable state of one workflow run:
// every live activity context, the bookmark registry and the execution log.
type Snapshot struct {
	ID            string                    `json:"id"`
	WorkflowName  string                    `json:"workflow_name"`
	CorrelationID string                    `json:"correlation_id,omitempty"`
	Status        WorkflowStatus            `json:"status"`
	Variables     map[string]any            `json:"variables"`
	Activities    map[string]*ActivityState `json:"activities"`
	Bookmarks     []*Bookmark               `json:"bookmarks"`
	Log           []*LogEntry               `json:"log"`
	Error         *ErrorOutput              `json:"error,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

// Summary returns the listing view of the snapshot.
func (s *Snapshot) Summary() *InstanceSummary {
	summary := &InstanceSummary{
		InstanceID:    s.ID,
		WorkflowName:  s.WorkflowName,
		CorrelationID: s.CorrelationID,
		Status:        s.Status,
		Bookmarks:     len(s.Bookmarks),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.Error != nil {
		summary.Error = s.Error.Cause
	}
	return summary
}

// InstanceSummary provides a summary view of a persisted instance
type InstanceSummary struct {
	InstanceID    string         `json:"instance_id"`
	WorkflowName  string         `json:"workflow_name"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Status        WorkflowStatus `json:"status"`
	Bookmarks     int            `json:"bookmarks"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Error         string         `json:"error,omitempty"`
}
