// Package conversation owns message history, alternative-answer
// bookkeeping, the streaming reveal and durable persistence of
// conversations.
package conversation

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hoshi0/hoshi/internal/retrieval"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnState is the lifecycle state of an assistant turn.
// User turns are always Settled.
type TurnState string

const (
	// StatePending: placeholder created, answer not yet available.
	StatePending TurnState = "pending"
	// StateStreaming: answer available, reveal in progress.
	StateStreaming TurnState = "streaming"
	// StateSettled: reveal finished or cancelled; content is final.
	StateSettled TurnState = "settled"
)

// Sentinel errors for conversation operations.
var (
	// ErrTurnInFlight indicates the conversation already has a streaming turn.
	ErrTurnInFlight = errors.New("a turn is already in flight")

	// ErrTurnNotFound indicates the turn id does not exist in the conversation.
	ErrTurnNotFound = errors.New("turn not found")

	// ErrNotStreaming indicates a cancel on a turn that is not revealing.
	ErrNotStreaming = errors.New("turn is not streaming")

	// ErrNotRegenerable indicates regeneration was requested on a turn that
	// is not a settled assistant turn with a preceding user turn.
	ErrNotRegenerable = errors.New("turn cannot be regenerated")

	// ErrNoAlternatives indicates alternative navigation on a turn without
	// alternatives.
	ErrNoAlternatives = errors.New("turn has no alternatives")

	// ErrAnswerFailed wraps a retrieval failure during submit or regenerate.
	// The failure is fatal for that call only; prior history is unchanged
	// except for the already-appended user turn.
	ErrAnswerFailed = errors.New("failed to produce answer")
)

// Turn is one message within a conversation.
//
// Invariants: ActiveAlternative is always valid when Alternatives is
// non-empty; Content equals Alternatives[ActiveAlternative] once settled;
// Alternatives is append-only.
type Turn struct {
	ID                uuid.UUID
	ConversationID    uuid.UUID
	Role              Role
	Content           string
	Alternatives      []string
	ActiveAlternative int
	Citations         []retrieval.Citation
	ModelID           string
	State             TurnState
	SequenceNumber    int
	CreatedAt         time.Time
}

// clone returns a snapshot safe to hand to callers while the machine keeps
// mutating the original during a reveal.
func (t *Turn) clone() *Turn {
	c := *t
	c.Alternatives = slices.Clone(t.Alternatives)
	c.Citations = slices.Clone(t.Citations)
	return &c
}

// Conversation is an ordered list of turns owned by one user.
type Conversation struct {
	ID        uuid.UUID
	Title     string
	Turns     []*Turn
	CreatedAt time.Time
	UpdatedAt time.Time
}
