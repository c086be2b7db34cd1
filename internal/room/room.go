// Package room resolves wire-level room tokens into typed descriptors and
// manages membership of the conversations behind them.
package room

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/crewdeck/crewdeck/internal/models"
	"github.com/crewdeck/crewdeck/internal/store"
)

// Sentinel errors matched with errors.Is at the event boundary.
var (
	ErrInvalidToken = errors.New("room: invalid room token")
	ErrAccessDenied = errors.New("room: access denied")
)

// Kind discriminates the descriptor variants.
type Kind int

const (
	// KindDirect is a 1:1 chat between two users.
	KindDirect Kind = iota
	// KindTask is a comment thread scoped to a task.
	KindTask
)

// Descriptor identifies a logical room. For KindDirect the user pair is
// canonical (UserLow < UserHigh); for KindTask the project and task ids are
// both carried so authorization never needs a second parse.
type Descriptor struct {
	Kind      Kind
	UserLow   uint
	UserHigh  uint
	ProjectID uint
	TaskID    uint
}

// Parse resolves a wire token ("direct-<a>-<b>" or "task-<project>-<task>")
// into a Descriptor. Parsing is pure and deterministic, and malformed tokens
// are rejected before any persistence call can happen.
func Parse(token string) (Descriptor, error) {
	switch {
	case strings.HasPrefix(token, "direct-"):
		a, b, err := parsePair(strings.TrimPrefix(token, "direct-"))
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidToken, token)
		}
		low, high := a, b
		if low > high {
			low, high = high, low
		}
		return Descriptor{Kind: KindDirect, UserLow: low, UserHigh: high}, nil

	case strings.HasPrefix(token, "task-"):
		projectID, taskID, err := parsePair(strings.TrimPrefix(token, "task-"))
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidToken, token)
		}
		return Descriptor{Kind: KindTask, ProjectID: projectID, TaskID: taskID}, nil

	default:
		return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
}

// parsePair splits "<n>-<m>" into two positive numeric ids.
func parsePair(s string) (uint, uint, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return 0, 0, errors.New("expected two segments")
	}
	a, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	if a == 0 || b == 0 {
		return 0, 0, errors.New("ids must be positive")
	}
	return uint(a), uint(b), nil
}

// Token re-derives the canonical wire token for the descriptor.
func (d Descriptor) Token() string {
	if d.Kind == KindTask {
		return fmt.Sprintf("task-%d-%d", d.ProjectID, d.TaskID)
	}
	return fmt.Sprintf("direct-%d-%d", d.UserLow, d.UserHigh)
}

// RoomType returns the wire-level room type string.
func (d Descriptor) RoomType() string {
	if d.Kind == KindTask {
		return "task"
	}
	return "direct"
}

// Scope is the durable conversation behind a room, produced by JoinOrCreate.
type Scope struct {
	Kind               Kind
	ConversationID     uint // set when Kind == KindDirect
	TaskConversationID uint // set when Kind == KindTask
}

// Router authorizes room access and materializes conversation records.
type Router struct {
	store              *store.Store
	directHistoryLimit int
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Store              *store.Store
	DirectHistoryLimit int // defaults to 50
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("room: router: store is required")
	}
	limit := opts.DirectHistoryLimit
	if limit <= 0 {
		limit = 50
	}
	return &Router{store: opts.Store, directHistoryLimit: limit}, nil
}

// Authorize reports whether userID may join the room. Direct rooms admit
// only the two users of the pair; task rooms admit members of the owning
// project. An unauthorized join must not create any record, so this runs
// strictly before JoinOrCreate.
func (r *Router) Authorize(d Descriptor, userID uint) error {
	switch d.Kind {
	case KindDirect:
		if userID != d.UserLow && userID != d.UserHigh {
			return fmt.Errorf("%w: user %d not in pair %s", ErrAccessDenied, userID, d.Token())
		}
		return nil
	case KindTask:
		// The token names both ids; the task row is the authority on which
		// project actually owns it.
		projectID, err := r.store.TaskProject(d.TaskID)
		if err != nil {
			return err
		}
		if projectID != d.ProjectID {
			return fmt.Errorf("%w: task %d not in project %d", ErrAccessDenied, d.TaskID, d.ProjectID)
		}
		ok, err := r.store.ProjectHasMember(d.ProjectID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: user %d not in project %d", ErrAccessDenied, userID, d.ProjectID)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidToken, d.Kind)
	}
}

// JoinOrCreate finds or lazily creates the conversation behind the room.
// Concurrent first-joins converge on one record via the storage uniqueness
// constraint.
func (r *Router) JoinOrCreate(d Descriptor) (Scope, error) {
	switch d.Kind {
	case KindDirect:
		conv, err := r.store.FindOrCreateConversation(d.UserLow, d.UserHigh)
		if err != nil {
			return Scope{}, err
		}
		return Scope{Kind: KindDirect, ConversationID: conv.ID}, nil
	case KindTask:
		tc, err := r.store.FindOrCreateTaskConversation(d.TaskID)
		if err != nil {
			return Scope{}, err
		}
		return Scope{Kind: KindTask, TaskConversationID: tc.ID}, nil
	default:
		return Scope{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidToken, d.Kind)
	}
}

// History returns the room's messages in ascending creation order. Direct
// history is capped at the configured page size; task history is uncapped,
// which the shipped behavior relies on but will not scale to long threads.
func (r *Router) History(scope Scope) ([]models.Message, error) {
	if scope.Kind == KindTask {
		return r.store.TaskHistory(scope.TaskConversationID)
	}
	return r.store.ConversationHistory(scope.ConversationID, r.directHistoryLimit)
}
