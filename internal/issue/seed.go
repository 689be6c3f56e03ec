package issue

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

// SeedEntry is one key/value pair of the sample dataset.
type SeedEntry struct {
	Key   string
	Value []byte
}

type seedFile struct {
	Issues []seedIssue `yaml:"issues"`
}

type seedIssue struct {
	ID          string        `yaml:"id"`
	Title       string        `yaml:"title"`
	Priority    string        `yaml:"priority"`
	Status      string        `yaml:"status"`
	Created     int64         `yaml:"created"`
	Modified    int64         `yaml:"modified"`
	CreatorID   string        `yaml:"creatorID"`
	Description string        `yaml:"description"`
	Comments    []seedComment `yaml:"comments"`
}

type seedComment struct {
	ID       string `yaml:"id"`
	Body     string `yaml:"body"`
	Created  int64  `yaml:"created"`
	AuthorID string `yaml:"authorID"`
}

// SeedEntries parses the embedded sample dataset into entry key/value
// pairs ready for a bulk write into the template space.
func SeedEntries() ([]SeedEntry, error) {
	var f seedFile
	if err := yaml.Unmarshal(seedYAML, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed dataset: %w", err)
	}

	var entries []SeedEntry
	for _, si := range f.Issues {
		iss := Issue{
			ID:        si.ID,
			Title:     si.Title,
			Priority:  si.Priority,
			Status:    si.Status,
			Created:   si.Created,
			Modified:  si.Modified,
			CreatorID: si.CreatorID,
		}
		iss.SetDefaults()
		if err := iss.Validate(); err != nil {
			return nil, fmt.Errorf("invalid seed issue %s: %w", si.ID, err)
		}

		value, err := iss.Marshal()
		if err != nil {
			return nil, err
		}
		entries = append(entries, SeedEntry{Key: Key(iss.ID), Value: value})

		if si.Description != "" {
			desc := Description{IssueID: si.ID, Body: si.Description}
			dv, err := json.Marshal(desc)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal seed description %s: %w", si.ID, err)
			}
			entries = append(entries, SeedEntry{Key: DescriptionKey(si.ID), Value: dv})
		}

		for _, sc := range si.Comments {
			c := Comment{
				ID:       sc.ID,
				IssueID:  si.ID,
				Body:     sc.Body,
				Created:  sc.Created,
				AuthorID: sc.AuthorID,
			}
			cv, err := json.Marshal(c)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal seed comment %s/%s: %w", si.ID, sc.ID, err)
			}
			entries = append(entries, SeedEntry{Key: CommentKey(si.ID, c.ID), Value: cv})
		}
	}

	return entries, nil
}

// GenerateEntries produces count synthetic issues (with descriptions) for
// load-style seeding. IDs are random; timestamps walk backwards from now so
// the generated issues interleave plausibly in sorted views.
func GenerateEntries(count int) ([]SeedEntry, error) {
	now := time.Now().UnixMilli()
	priorities := []string{PriorityNone, PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}
	statuses := []string{StatusBacklog, StatusTodo, StatusInProgress, StatusDone, StatusCanceled}

	var entries []SeedEntry
	for n := 0; n < count; n++ {
		id := uuid.NewString()
		created := now - int64(n)*60_000
		iss := Issue{
			ID:       id,
			Title:    fmt.Sprintf("Generated issue %d", n+1),
			Priority: priorities[n%len(priorities)],
			Status:   statuses[n%len(statuses)],
			Created:  created,
			Modified: created,
		}
		value, err := iss.Marshal()
		if err != nil {
			return nil, err
		}
		entries = append(entries, SeedEntry{Key: Key(id), Value: value})

		desc := Description{IssueID: id, Body: fmt.Sprintf("Body of generated issue %d.", n+1)}
		dv, err := json.Marshal(desc)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal generated description %s: %w", id, err)
		}
		entries = append(entries, SeedEntry{Key: DescriptionKey(id), Value: dv})
	}
	return entries, nil
}
