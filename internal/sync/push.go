package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/liteboard/liteboard/internal/issue"
	"github.com/liteboard/liteboard/internal/store"
)

// ErrMutationFromFuture is returned when a push contains a mutation ID
// beyond the next expected one, indicating the client and server have
// diverged. The client must resync.
var ErrMutationFromFuture = errors.New("mutation id is from the future")

// Pusher applies client mutation batches to a space. Mutations are applied
// at most once: IDs at or below the client's recorded last mutation ID are
// skipped, and a gap above it fails the whole push.
type Pusher struct {
	db     *store.DB
	logger *log.Logger
}

// NewPusher creates a push handler over an opened store. If logger is nil,
// a default logger writing to stderr is used.
func NewPusher(db *store.DB, logger *log.Logger) *Pusher {
	if logger == nil {
		logger = log.New(os.Stderr, "[push] ", log.LstdFlags)
	}
	return &Pusher{db: db, logger: logger}
}

// Push applies a batch of mutations inside one storage transaction. All
// writes are stamped with the space's next version; the space cookie and
// the client's last mutation ID advance together with the commit. Any
// failure rolls the whole batch back and surfaces to the caller.
func (p *Pusher) Push(ctx context.Context, spaceID string, req *PushRequest) error {
	if spaceID == "" {
		return fmt.Errorf("spaceID is required")
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid push request: %w", err)
	}

	return p.db.Transact(ctx, func(tx *store.Tx) error {
		version, ok, err := tx.GetCookie(ctx, spaceID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("unknown space %s", spaceID)
		}

		last, err := tx.GetLastMutationID(ctx, req.ClientID)
		if err != nil {
			return err
		}

		wt := NewWriteTx(tx, spaceID, version+1)
		applied := 0
		for _, m := range req.Mutations {
			if m.ID <= last {
				p.logger.Printf("Skipping mutation %d for client %s (already applied)", m.ID, req.ClientID)
				continue
			}
			if m.ID > last+1 {
				return fmt.Errorf("mutation %d for client %s (expected %d): %w",
					m.ID, req.ClientID, last+1, ErrMutationFromFuture)
			}
			if err := p.apply(ctx, wt, m); err != nil {
				return fmt.Errorf("failed to apply mutation %d (%s): %w", m.ID, m.Name, err)
			}
			last = m.ID
			applied++
		}

		if applied == 0 {
			return nil
		}

		if err := wt.Flush(ctx); err != nil {
			return err
		}
		if err := tx.SetCookie(ctx, spaceID, version+1); err != nil {
			return err
		}
		if err := tx.SetLastMutationID(ctx, req.ClientID, last); err != nil {
			return err
		}

		p.logger.Printf("Applied %d mutations for client %s in space %s (version %d)",
			applied, req.ClientID, spaceID, version+1)
		return nil
	})
}

// apply dispatches one mutation to its named mutator.
func (p *Pusher) apply(ctx context.Context, wt *WriteTx, m Mutation) error {
	switch m.Name {
	case "createIssue":
		return createIssue(wt, m.Args)
	case "updateIssue":
		return updateIssue(ctx, wt, m.Args)
	case "deleteIssue":
		return deleteIssue(ctx, wt, m.Args)
	case "putIssueComment":
		return putIssueComment(wt, m.Args)
	case "putIssueDescription":
		return putIssueDescription(wt, m.Args)
	default:
		return fmt.Errorf("unknown mutation %q", m.Name)
	}
}

type createIssueArgs struct {
	Issue       issue.Issue `json:"issue"`
	Description string      `json:"description,omitempty"`
}

func createIssue(wt *WriteTx, args json.RawMessage) error {
	var a createIssueArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("bad createIssue args: %w", err)
	}
	a.Issue.SetDefaults()
	if err := a.Issue.Validate(); err != nil {
		return err
	}

	value, err := a.Issue.Marshal()
	if err != nil {
		return err
	}
	wt.Put(issue.Key(a.Issue.ID), value)

	if a.Description != "" {
		dv, err := json.Marshal(issue.Description{IssueID: a.Issue.ID, Body: a.Description})
		if err != nil {
			return fmt.Errorf("failed to marshal description: %w", err)
		}
		wt.Put(issue.DescriptionKey(a.Issue.ID), dv)
	}
	return nil
}

type updateIssueArgs struct {
	ID      string          `json:"id"`
	Changes json.RawMessage `json:"changes"`
}

func updateIssue(ctx context.Context, wt *WriteTx, args json.RawMessage) error {
	var a updateIssueArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("bad updateIssue args: %w", err)
	}
	if a.ID == "" {
		return fmt.Errorf("updateIssue: id is required")
	}

	value, ok, err := wt.Get(ctx, issue.Key(a.ID))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("updateIssue: issue %s not found", a.ID)
	}

	iss, err := issue.Unmarshal(value)
	if err != nil {
		return err
	}
	// Partial update: unmarshal the change set onto the existing value.
	if len(a.Changes) > 0 {
		if err := json.Unmarshal(a.Changes, &iss); err != nil {
			return fmt.Errorf("bad updateIssue changes: %w", err)
		}
	}
	iss.ID = a.ID
	iss.Touch()
	if err := iss.Validate(); err != nil {
		return err
	}

	updated, err := iss.Marshal()
	if err != nil {
		return err
	}
	wt.Put(issue.Key(a.ID), updated)
	return nil
}

type deleteIssueArgs struct {
	ID string `json:"id"`
}

func deleteIssue(ctx context.Context, wt *WriteTx, args json.RawMessage) error {
	var a deleteIssueArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("bad deleteIssue args: %w", err)
	}
	if a.ID == "" {
		return fmt.Errorf("deleteIssue: id is required")
	}

	if _, err := wt.Del(ctx, issue.Key(a.ID)); err != nil {
		return err
	}
	// The description shares the issue's lifetime. Comments stay behind;
	// without range scans this layer cannot enumerate them.
	if _, err := wt.Del(ctx, issue.DescriptionKey(a.ID)); err != nil {
		return err
	}
	return nil
}

func putIssueComment(wt *WriteTx, args json.RawMessage) error {
	var c issue.Comment
	if err := json.Unmarshal(args, &c); err != nil {
		return fmt.Errorf("bad putIssueComment args: %w", err)
	}
	if c.ID == "" || c.IssueID == "" {
		return fmt.Errorf("putIssueComment: id and issueID are required")
	}

	value, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal comment: %w", err)
	}
	wt.Put(issue.CommentKey(c.IssueID, c.ID), value)
	return nil
}

func putIssueDescription(wt *WriteTx, args json.RawMessage) error {
	var d issue.Description
	if err := json.Unmarshal(args, &d); err != nil {
		return fmt.Errorf("bad putIssueDescription args: %w", err)
	}
	if d.IssueID == "" {
		return fmt.Errorf("putIssueDescription: issueID is required")
	}

	value, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal description: %w", err)
	}
	wt.Put(issue.DescriptionKey(d.IssueID), value)
	return nil
}
