package flow

import (
	"fmt"
	"sync"
	"time"

	"go.jetify.com/typeid"
)

// Bookmark is a suspension marker. It ties an activity context to the
// external event, identified by Payload, that will resume it. Metadata is
// opaque to the engine and handed back to the activity on resume.
type Bookmark struct {
	ID         string         `json:"id"`
	ActivityID string         `json:"activity_id"`
	Payload    string         `json:"payload"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewBookmarkID returns a new bookmark ID.
func NewBookmarkID() string {
	return typeid.Must(typeid.WithPrefix("bm")).String()
}

// BookmarkRegistry is the set of outstanding bookmarks for one workflow run.
// Membership is the single source of truth for whether an activity context
// is externally suspended. Iteration follows registration order.
type BookmarkRegistry struct {
	mu      sync.RWMutex
	order   []string
	byID    map[string]*Bookmark
	byOwner map[string][]string
}

// NewBookmarkRegistry returns an empty registry.
func NewBookmarkRegistry() *BookmarkRegistry {
	return &BookmarkRegistry{
		byID:    map[string]*Bookmark{},
		byOwner: map[string][]string{},
	}
}

// Register adds a bookmark. IDs must be unique.
func (r *BookmarkRegistry) Register(b *Bookmark) error {
	if b == nil || b.ID == "" || b.ActivityID == "" {
		return fmt.Errorf("bookmark requires an id and an activity id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[b.ID]; exists {
		return fmt.Errorf("bookmark %q already registered", b.ID)
	}
	r.byID[b.ID] = b
	r.order = append(r.order, b.ID)
	r.byOwner[b.ActivityID] = append(r.byOwner[b.ActivityID], b.ID)
	return nil
}

// Unregister removes the given bookmarks and returns the ones that were
// actually present.
func (r *BookmarkRegistry) Unregister(bookmarks ...*Bookmark) []*Bookmark {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*Bookmark
	for _, b := range bookmarks {
		if b == nil {
			continue
		}
		existing, ok := r.byID[b.ID]
		if !ok {
			continue
		}
		delete(r.byID, b.ID)
		r.byOwner[existing.ActivityID] = without(r.byOwner[existing.ActivityID], b.ID)
		if len(r.byOwner[existing.ActivityID]) == 0 {
			delete(r.byOwner, existing.ActivityID)
		}
		r.order = without(r.order, b.ID)
		removed = append(removed, existing)
	}
	return removed
}

// Contains reports whether a bookmark with the given ID is registered.
func (r *BookmarkRegistry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// FindByActivity returns the bookmarks owned by any of the given activities.
func (r *BookmarkRegistry) FindByActivity(activityIDs ...string) []*Bookmark {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wanted := make(map[string]bool, len(activityIDs))
	for _, id := range activityIDs {
		wanted[id] = true
	}
	var found []*Bookmark
	for _, id := range r.order {
		if b := r.byID[id]; wanted[b.ActivityID] {
			found = append(found, b)
		}
	}
	return found
}

// FindByPayload returns every bookmark waiting on the given payload key.
func (r *BookmarkRegistry) FindByPayload(payload string) []*Bookmark {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found []*Bookmark
	for _, id := range r.order {
		if b := r.byID[id]; b.Payload == payload {
			found = append(found, b)
		}
	}
	return found
}

// HasBookmarks reports whether the activity owns at least one bookmark.
func (r *BookmarkRegistry) HasBookmarks(activityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOwner[activityID]) > 0
}

// All returns every registered bookmark in registration order.
func (r *BookmarkRegistry) All() []*Bookmark {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Bookmark, 0, len(r.order))
	for _, id := range r.order {
		all = append(all, r.byID[id])
	}
	return all
}

// Len returns the number of registered bookmarks.
func (r *BookmarkRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func without(ids []string, id string) []string {
	for i, existing := range ids {
		if existing == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}
