package issue

// View selects which slice of the issue set a page is looking at. The view
// filter drives the headline issue count; additional status/priority
// filters narrow the displayed list further.
type View string

const (
	ViewAll     View = "ALL"
	ViewActive  View = "ACTIVE"
	ViewBacklog View = "BACKLOG"
)

// Matches reports whether an issue belongs to the view.
func (v View) Matches(i Issue) bool {
	switch v {
	case ViewActive:
		return i.Status == StatusTodo || i.Status == StatusInProgress
	case ViewBacklog:
		return i.Status == StatusBacklog
	default:
		return true
	}
}

// Filter narrows an issue list by status and/or priority. A nil or empty
// set places no constraint on that dimension.
type Filter struct {
	Statuses   []string
	Priorities []string
}

// Matches reports whether an issue passes the filter.
func (f Filter) Matches(i Issue) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, i.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, i.Priority) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
