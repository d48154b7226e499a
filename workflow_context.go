package flow

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.jetify.com/typeid"
)

// NewInstanceID returns a new workflow instance ID.
func NewInstanceID() string {
	return typeid.Must(typeid.WithPrefix("wf")).String()
}

// ActivityState is the persisted part of an activity execution context. The
// workflow context keeps these in an arena keyed by node ID, with the parent
// recorded by ID rather than by reference.
type ActivityState struct {
	NodeID          string         `json:"node_id"`
	ParentID        string         `json:"parent_id,omitempty"`
	Type            string         `json:"type"`
	Status          ActivityStatus `json:"status"`
	Inputs          map[string]any `json:"inputs,omitempty"`
	Properties      map[string]any `json:"properties,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	Output          any            `json:"output,omitempty"`
	Error           *ErrorOutput   `json:"error,omitempty"`
	PendingChildren int            `json:"pending_children,omitempty"`
	StartedAt       time.Time      `json:"started_at,omitzero"`
	EndedAt         time.Time      `json:"ended_at,omitzero"`
}

// Copy returns a copy of the state with its own maps.
func (s *ActivityState) Copy() *ActivityState {
	c := *s
	c.Inputs = copyMap(s.Inputs)
	c.Properties = copyMap(s.Properties)
	c.Variables = copyMap(s.Variables)
	if s.Error != nil {
		e := *s.Error
		c.Error = &e
	}
	return &c
}

// Err returns the fault recorded on the state, if any.
func (s *ActivityState) Err() error {
	return s.Error.Err()
}

// WorkflowContextOptions are used to create a new workflow context.
type WorkflowContextOptions struct {
	Workflow      *Workflow
	ID            string
	CorrelationID string
	Variables     map[string]any
	Clock         Clock
}

// WorkflowContext owns everything about one workflow run: the live activity
// contexts, the bookmark registry, the execution log, workflow-scope
// variables and the overall status. It contains no process-wide state.
type WorkflowContext struct {
	mu            sync.RWMutex
	id            string
	correlationID string
	workflow      *Workflow
	clock         Clock
	status        WorkflowStatus
	variables     map[string]any
	activities    map[string]*ActivityState
	bookmarks     *BookmarkRegistry
	log           *ExecutionLog
	err           *ErrorOutput
	createdAt     time.Time
	updatedAt     time.Time
}

// NewWorkflowContext creates a running workflow context.
func NewWorkflowContext(opts WorkflowContextOptions) (*WorkflowContext, error) {
	if opts.Workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if opts.ID == "" {
		opts.ID = NewInstanceID()
	}
	if opts.CorrelationID == "" {
		opts.CorrelationID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	variables := normalizeMap(opts.Workflow.InitialVariables())
	for k, v := range opts.Variables {
		variables[k] = normalizeValue(v)
	}
	now := opts.Clock()
	return &WorkflowContext{
		id:            opts.ID,
		correlationID: opts.CorrelationID,
		workflow:      opts.Workflow,
		clock:         opts.Clock,
		status:        WorkflowStatusRunning,
		variables:     variables,
		activities:    map[string]*ActivityState{},
		bookmarks:     NewBookmarkRegistry(),
		log:           NewExecutionLog(opts.Clock),
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// RestoreWorkflowContext rehydrates a workflow context from a snapshot. The
// workflow must be the definition the snapshot was taken from.
func RestoreWorkflowContext(wf *Workflow, snapshot *Snapshot, clock Clock) (*WorkflowContext, error) {
	if wf == nil || snapshot == nil {
		return nil, fmt.Errorf("workflow and snapshot are required")
	}
	if snapshot.WorkflowName != wf.Name() {
		return nil, fmt.Errorf("snapshot is for workflow %q, not %q", snapshot.WorkflowName, wf.Name())
	}
	if clock == nil {
		clock = SystemClock
	}
	activities := make(map[string]*ActivityState, len(snapshot.Activities))
	for id, state := range snapshot.Activities {
		if _, ok := wf.Node(id); !ok {
			return nil, fmt.Errorf("snapshot activity %q is not part of workflow %q", id, wf.Name())
		}
		restored := state.Copy()
		if restored.Properties == nil {
			restored.Properties = map[string]any{}
		}
		activities[id] = restored
	}
	bookmarks := NewBookmarkRegistry()
	for _, b := range snapshot.Bookmarks {
		if err := bookmarks.Register(b); err != nil {
			return nil, err
		}
	}
	variables := copyMap(snapshot.Variables)
	return &WorkflowContext{
		id:            snapshot.ID,
		correlationID: snapshot.CorrelationID,
		workflow:      wf,
		clock:         clock,
		status:        snapshot.Status,
		variables:     variables,
		activities:    activities,
		bookmarks:     bookmarks,
		log:           restoreExecutionLog(clock, snapshot.Log),
		err:           snapshot.Error,
		createdAt:     snapshot.CreatedAt,
		updatedAt:     snapshot.UpdatedAt,
	}, nil
}

// ID returns the workflow instance ID
func (wc *WorkflowContext) ID() string {
	return wc.id
}

// CorrelationID returns the correlation ID supplied at start
func (wc *WorkflowContext) CorrelationID() string {
	return wc.correlationID
}

// Workflow returns the workflow definition
func (wc *WorkflowContext) Workflow() *Workflow {
	return wc.workflow
}

// Status returns the overall run status
func (wc *WorkflowContext) Status() WorkflowStatus {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	return wc.status
}

// Err returns the error that faulted the run, if any
func (wc *WorkflowContext) Err() error {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	return wc.err.Err()
}

// Bookmarks returns the run's bookmark registry
func (wc *WorkflowContext) Bookmarks() *BookmarkRegistry {
	return wc.bookmarks
}

// Log returns the run's execution log
func (wc *WorkflowContext) Log() *ExecutionLog {
	return wc.log
}

// Variables returns a copy of the workflow-scope variables
func (wc *WorkflowContext) Variables() map[string]any {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	return copyMap(wc.variables)
}

// Variable returns one workflow-scope variable
func (wc *WorkflowContext) Variable(name string) (any, bool) {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	v, ok := wc.variables[name]
	return v, ok
}

// Activity returns a copy of the live context state for a node
func (wc *WorkflowContext) Activity(nodeID string) (*ActivityState, bool) {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	state, ok := wc.activities[nodeID]
	if !ok {
		return nil, false
	}
	return state.Copy(), true
}

// Activities returns copies of all live context states sorted by node ID
func (wc *WorkflowContext) Activities() []*ActivityState {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	out := make([]*ActivityState, 0, len(wc.activities))
	for _, state := range wc.activities {
		out = append(out, state.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// CreatedAt returns when the run started
func (wc *WorkflowContext) CreatedAt() time.Time {
	return wc.createdAt
}

// UpdatedAt returns when the run last changed status
func (wc *WorkflowContext) UpdatedAt() time.Time {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	return wc.updatedAt
}

// Snapshot returns the serializable form of the whole run.
func (wc *WorkflowContext) Snapshot() *Snapshot {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	activities := make(map[string]*ActivityState, len(wc.activities))
	for id, state := range wc.activities {
		activities[id] = state.Copy()
	}
	return &Snapshot{
		ID:            wc.id,
		WorkflowName:  wc.workflow.Name(),
		CorrelationID: wc.correlationID,
		Status:        wc.status,
		Variables:     copyMap(wc.variables),
		Activities:    activities,
		Bookmarks:     wc.bookmarks.All(),
		Log:           wc.log.Entries(),
		Error:         wc.err,
		CreatedAt:     wc.createdAt,
		UpdatedAt:     wc.updatedAt,
	}
}

func (wc *WorkflowContext) state(nodeID string) *ActivityState {
	wc.mu.RLock()
	defer wc.mu.RUnlock()
	return wc.activities[nodeID]
}

func (wc *WorkflowContext) putState(state *ActivityState) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.activities[state.NodeID] = state
}

func (wc *WorkflowContext) deleteState(nodeID string) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	delete(wc.activities, nodeID)
}

// mutate runs fn while holding the write lock. fn must not call back into
// the workflow context.
func (wc *WorkflowContext) mutate(fn func()) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	fn()
}

func (wc *WorkflowContext) transition(state *ActivityState, to ActivityStatus) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if !state.Status.CanTransitionTo(to) {
		return newTransitionError("activity "+state.NodeID, state.Status, to)
	}
	state.Status = to
	switch to {
	case ActivityStatusRunning:
		if state.StartedAt.IsZero() {
			state.StartedAt = wc.clock()
		}
	case ActivityStatusCompleted, ActivityStatusFaulted:
		state.EndedAt = wc.clock()
	}
	return nil
}

func (wc *WorkflowContext) setStatus(to WorkflowStatus, err *ErrorOutput) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.status == to {
		return nil
	}
	if !wc.status.CanTransitionTo(to) {
		return newTransitionError("workflow "+wc.id, wc.status, to)
	}
	wc.status = to
	wc.err = err
	wc.updatedAt = wc.clock()
	return nil
}

func (wc *WorkflowContext) record(state *ActivityState, event, message, source string, payload any) *LogEntry {
	entry := LogEntry{
		Event:   event,
		Message: message,
		Source:  source,
		Payload: normalizeValue(payload),
	}
	if state != nil {
		entry.ActivityID = state.NodeID
		entry.ActivityType = state.Type
	}
	return wc.log.Append(entry)
}

func (wc *WorkflowContext) removeBookmarks(bookmarks []*Bookmark, reason string) []*Bookmark {
	removed := wc.bookmarks.Unregister(bookmarks...)
	for _, b := range removed {
		wc.log.Append(LogEntry{
			ActivityID:   b.ActivityID,
			ActivityType: wc.typeOf(b.ActivityID),
			Event:        EventBookmarkRemoved,
			Message:      reason,
			Payload:      map[string]any{"bookmark_id": b.ID, "payload": b.Payload},
		})
	}
	return removed
}

func (wc *WorkflowContext) typeOf(nodeID string) string {
	if n, ok := wc.workflow.Node(nodeID); ok {
		return n.Type
	}
	return ""
}

// releaseDescendants garbage-collects the contexts below nodeID. Bookmarks
// of every descendant are removed. Faulted contexts are kept for diagnosis,
// and Completed ones too when keepCompleted is set.
func (wc *WorkflowContext) releaseDescendants(nodeID string, keepCompleted bool) {
	descendants := wc.workflow.Descendants(nodeID)
	if len(descendants) == 0 {
		return
	}
	ids := make([]string, len(descendants))
	for i, n := range descendants {
		ids[i] = n.ID
	}
	wc.removeBookmarks(wc.bookmarks.FindByActivity(ids...), "owner released")
	for _, id := range ids {
		state := wc.state(id)
		if state == nil {
			continue
		}
		switch state.Status {
		case ActivityStatusFaulted:
			continue
		case ActivityStatusCompleted:
			if keepCompleted {
				continue
			}
		default:
			wc.record(state, EventActivityAbandoned, "ancestor "+nodeID+" finished", "", nil)
		}
		wc.deleteState(id)
	}
}

// hasSuspendedDescendants reports whether any descendant of nodeID still
// owns a bookmark.
func (wc *WorkflowContext) hasSuspendedDescendants(nodeID string) bool {
	descendants := wc.workflow.Descendants(nodeID)
	if len(descendants) == 0 {
		return false
	}
	ids := make([]string, len(descendants))
	for i, n := range descendants {
		ids[i] = n.ID
	}
	return len(wc.bookmarks.FindByActivity(ids...)) > 0
}
