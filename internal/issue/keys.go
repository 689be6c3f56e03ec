package issue

import (
	"fmt"
	"strings"
)

// Entry key prefixes. An issue's summary, long description, and comments are
// stored under separate keys so that sync can prioritize the summaries.
const (
	issueKeyPrefix       = "issue/"
	descriptionKeyPrefix = "description/"
	commentKeyPrefix     = "comment/"
	controlKeyPrefix     = "control/"
)

// ControlPartialSyncKey is the synthetic entry key appended to a pull patch
// when an initial full sync still has pages of non-metadata entries to
// fetch. Its value carries the next endKey.
const ControlPartialSyncKey = "control/partialSync"

// Key returns the entry key for an issue summary.
func Key(id string) string {
	return issueKeyPrefix + id
}

// DescriptionKey returns the entry key for an issue description.
func DescriptionKey(issueID string) string {
	return descriptionKeyPrefix + issueID
}

// CommentKey returns the entry key for a comment, scoped under its issue so
// related comments cluster in key order.
func CommentKey(issueID, commentID string) string {
	return fmt.Sprintf("%s%s/%s", commentKeyPrefix, issueID, commentID)
}

// IDFromKey extracts the issue ID from an issue summary key. Returns false
// if the key is not an issue key.
func IDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, issueKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, issueKeyPrefix), true
}

// IsMetadataKey reports whether an entry key belongs to the metadata subset
// delivered first during full sync. Issue summaries and control entries are
// metadata; descriptions and comments are the heavy tail paged in later.
func IsMetadataKey(key string) bool {
	return strings.HasPrefix(key, issueKeyPrefix) || strings.HasPrefix(key, controlKeyPrefix)
}
