// Package issue provides the domain model for the liteboard sync layer:
// issues, descriptions and comments, the entry key scheme they are stored
// under, and the filter/order machinery the client view state uses.
//
// Values are stored in the entry table as opaque JSON payloads. The flat,
// last-write-wins field layout keeps merge semantics simple: every committed
// write replaces the whole value at its key.
package issue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority levels, lowest to highest urgency.
const (
	PriorityNone   = "NONE"
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

// Workflow statuses.
const (
	StatusBacklog    = "BACKLOG"
	StatusTodo       = "TODO"
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusCanceled   = "CANCELED"
)

// Issue is the lightweight, metadata-sized record for a single issue.
// Heavier payloads (description text, comments) live under their own keys
// so that an initial sync can deliver issue summaries first.
type Issue struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Status   string `json:"status"`

	// Created and Modified are Unix millisecond timestamps. They drive the
	// client-side sort order and resolve last-write-wins conflicts.
	Created  int64 `json:"created"`
	Modified int64 `json:"modified"`

	CreatorID string `json:"creatorID,omitempty"`

	// KanbanOrder positions the issue on board views. Opaque to this layer.
	KanbanOrder string `json:"kanbanOrder,omitempty"`
}

// Description is the long-form body of an issue, stored separately from the
// issue summary so full-sync paging can defer it.
type Description struct {
	IssueID string `json:"issueID"`
	Body    string `json:"body"`
}

// Comment is a single comment on an issue.
type Comment struct {
	ID       string `json:"id"`
	IssueID  string `json:"issueID"`
	Body     string `json:"body"`
	Created  int64  `json:"created"`
	AuthorID string `json:"authorID,omitempty"`
}

// Validate checks that the issue has valid field values.
func (i *Issue) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("id is required")
	}
	if i.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(i.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(i.Title))
	}
	switch i.Priority {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
	default:
		return fmt.Errorf("invalid priority %q", i.Priority)
	}
	switch i.Status {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusDone, StatusCanceled:
	default:
		return fmt.Errorf("invalid status %q", i.Status)
	}
	if i.Created == 0 {
		return fmt.Errorf("created is required")
	}
	if i.Modified == 0 {
		return fmt.Errorf("modified is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (i *Issue) SetDefaults() {
	now := time.Now().UnixMilli()
	if i.Priority == "" {
		i.Priority = PriorityNone
	}
	if i.Status == "" {
		i.Status = StatusBacklog
	}
	if i.Created == 0 {
		i.Created = now
	}
	if i.Modified == 0 {
		i.Modified = now
	}
}

// Touch sets Modified to the current time. Call on every field change.
func (i *Issue) Touch() {
	i.Modified = time.Now().UnixMilli()
}

// Marshal serializes the issue for storage as an entry value.
func (i *Issue) Marshal() ([]byte, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal issue %s: %w", i.ID, err)
	}
	return data, nil
}

// Unmarshal parses an issue from a stored entry value.
func Unmarshal(data []byte) (Issue, error) {
	var i Issue
	if err := json.Unmarshal(data, &i); err != nil {
		return Issue{}, fmt.Errorf("failed to parse issue value: %w", err)
	}
	return i, nil
}

// Order selects which timestamp drives the issue list sort.
type Order string

const (
	// OrderCreated sorts newest-created first.
	OrderCreated Order = "CREATED"
	// OrderModified sorts most-recently-modified first.
	OrderModified Order = "MODIFIED"
)

// maxOrderTimestamp bounds the reverse-timestamp component of order keys.
// 14 decimal digits of milliseconds is comfortably past year 5000.
const maxOrderTimestamp = int64(99999999999999)

// OrderKey derives the composite sort key for an issue under the given
// order. Keys sort ascending lexicographically, which yields descending
// timestamp order with the issue ID as a stable tie-breaker.
func (i Issue) OrderKey(o Order) string {
	ts := i.Modified
	if o == OrderCreated {
		ts = i.Created
	}
	if ts < 0 {
		ts = 0
	}
	if ts > maxOrderTimestamp {
		ts = maxOrderTimestamp
	}
	return fmt.Sprintf("%014d/%s", maxOrderTimestamp-ts, i.ID)
}
