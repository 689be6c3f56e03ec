// Package reducer maintains the client-local view state for an issue list:
// a map of all known issues, a derived sorted-and-filtered slice for
// display, and a count of issues matching the current view. Incoming sync
// diffs update all three incrementally; only a filter change forces a full
// recomputation.
//
// The reducer is a synchronous, single-threaded state machine with no error
// path: the enclosing subscription delivers diffs well-formed and in commit
// order, and never invokes it concurrently with itself.
package reducer

import (
	"sort"

	"github.com/liteboard/liteboard/internal/issue"
)

// DiffOp is one operation of a sync diff. The variant set is closed: Add,
// Del and Change are the only implementations, and applyOp handles them
// exhaustively.
type DiffOp interface {
	diffOp()
}

// Add introduces a value at a key that was absent.
type Add struct {
	Key string
	New issue.Issue
}

// Del removes the value at a key.
type Del struct {
	Key string
	Old issue.Issue
}

// Change replaces the value at a key.
type Change struct {
	Key string
	Old issue.Issue
	New issue.Issue
}

func (Add) diffOp()    {}
func (Del) diffOp()    {}
func (Change) diffOp() {}

// State is the reducer's view state. Create with New, load with Init, then
// feed diffs through ApplyDiff.
type State struct {
	issues    map[string]issue.Issue
	filtered  []issue.Issue
	viewCount int

	view   issue.View
	filter issue.Filter
	order  issue.Order
}

// New creates an empty state with the given view, filter and order.
func New(view issue.View, filter issue.Filter, order issue.Order) *State {
	return &State{
		issues: make(map[string]issue.Issue),
		view:   view,
		filter: filter,
		order:  order,
	}
}

// Init replaces the state from a full snapshot of issues keyed by ID and
// recomputes the view count and filtered list from scratch.
func (s *State) Init(issues map[string]issue.Issue) {
	s.issues = make(map[string]issue.Issue, len(issues))
	for id, iss := range issues {
		s.issues[id] = iss
	}
	s.recompute()
}

// ApplyDiff applies a stream of diff operations in order. Non-issue keys
// are ignored; the heavier description/comment entries have no place in
// the issue list.
func (s *State) ApplyDiff(ops []DiffOp) {
	for _, op := range ops {
		s.applyOp(op)
	}
}

func (s *State) applyOp(op DiffOp) {
	switch o := op.(type) {
	case Add:
		if _, ok := issue.IDFromKey(o.Key); !ok {
			return
		}
		s.add(o.New)
	case Del:
		if _, ok := issue.IDFromKey(o.Key); !ok {
			return
		}
		s.remove(o.Old)
	case Change:
		if _, ok := issue.IDFromKey(o.Key); !ok {
			return
		}
		s.remove(o.Old)
		s.add(o.New)
	}
}

// add inserts an issue into the map and, where it matches, into the view
// count and the sorted list. A re-delivered add for a known issue is
// treated as a change so duplicate patch keys apply idempotently.
func (s *State) add(iss issue.Issue) {
	if old, ok := s.issues[iss.ID]; ok {
		s.remove(old)
	}

	s.issues[iss.ID] = iss
	if s.view.Matches(iss) {
		s.viewCount++
	}
	if s.matchesAll(iss) {
		idx := s.searchPos(iss.OrderKey(s.order))
		s.filtered = append(s.filtered, issue.Issue{})
		copy(s.filtered[idx+1:], s.filtered[idx:])
		s.filtered[idx] = iss
	}
}

// remove drops an issue from the map, view count and sorted list. The old
// value recorded in the map is authoritative; the list element at the old
// value's sort position is only spliced out if it matches by identity, as
// a defensive check against drift.
func (s *State) remove(old issue.Issue) {
	stored, ok := s.issues[old.ID]
	if !ok {
		return
	}
	delete(s.issues, old.ID)

	if s.view.Matches(stored) {
		s.viewCount--
	}
	if s.matchesAll(stored) {
		idx := s.searchPos(stored.OrderKey(s.order))
		if idx < len(s.filtered) && s.filtered[idx].ID == stored.ID {
			s.filtered = append(s.filtered[:idx], s.filtered[idx+1:]...)
		}
	}
}

// SetFilters replaces the view and additional filter, recomputing the view
// count and filtered list in full from the map. Filter changes are rare and
// user-driven; full recomputation is cheap next to diff volume.
func (s *State) SetFilters(view issue.View, filter issue.Filter) {
	s.view = view
	s.filter = filter
	s.recompute()
}

// SetOrder re-sorts the existing filtered list under the new order without
// touching the map or filter results.
func (s *State) SetOrder(order issue.Order) {
	if order == s.order {
		return
	}
	s.order = order
	sort.SliceStable(s.filtered, func(i, j int) bool {
		return s.filtered[i].OrderKey(order) < s.filtered[j].OrderKey(order)
	})
}

// ViewCount returns the number of issues matching the view filter.
func (s *State) ViewCount() int {
	return s.viewCount
}

// Filtered returns the sorted, filtered issue list. The caller must not
// mutate the returned slice.
func (s *State) Filtered() []issue.Issue {
	return s.filtered
}

// Get returns the issue with the given ID from the map.
func (s *State) Get(id string) (issue.Issue, bool) {
	iss, ok := s.issues[id]
	return iss, ok
}

// Len returns the number of issues in the map.
func (s *State) Len() int {
	return len(s.issues)
}

func (s *State) matchesAll(iss issue.Issue) bool {
	return s.view.Matches(iss) && s.filter.Matches(iss)
}

// searchPos binary-searches the sorted position for an order key.
func (s *State) searchPos(key string) int {
	return sort.Search(len(s.filtered), func(i int) bool {
		return s.filtered[i].OrderKey(s.order) >= key
	})
}

// recompute rebuilds the view count and filtered list from the map.
func (s *State) recompute() {
	s.viewCount = 0
	s.filtered = s.filtered[:0]
	for _, iss := range s.issues {
		if s.view.Matches(iss) {
			s.viewCount++
		}
		if s.matchesAll(iss) {
			s.filtered = append(s.filtered, iss)
		}
	}
	sort.Slice(s.filtered, func(i, j int) bool {
		return s.filtered[i].OrderKey(s.order) < s.filtered[j].OrderKey(s.order)
	})
}
