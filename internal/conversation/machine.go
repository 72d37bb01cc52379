package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/hoshi0/hoshi/internal/retrieval"
)

const (
	// defaultTickInterval and defaultRunesPerTick pace the reveal at roughly
	// 100 runes per second, fast enough to read along, slow enough to cancel.
	defaultTickInterval = 30 * time.Millisecond
	defaultRunesPerTick = 3
	maxAutoTitleLength  = 60
	persistTimeout      = 10 * time.Second
)

// Answerer is the retrieval capability the machine consumes.
// *retrieval.Orchestrator satisfies this; tests substitute a stub.
type Answerer interface {
	Answer(ctx context.Context, question string, history []*ai.Message, tenant retrieval.TenantContext) (*retrieval.Answer, error)
}

// Store is the persistence the machine consumes. *PostgresStore satisfies
// this.
type Store interface {
	Conversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	SetTitle(ctx context.Context, id uuid.UUID, title string) error
	AppendTurn(ctx context.Context, turn *Turn) error
	UpdateTurn(ctx context.Context, turn *Turn) error
	DeleteTurn(ctx context.Context, id uuid.UUID) error
}

// Config contains all required parameters for the machine.
type Config struct {
	Answerer Answerer
	Store    Store
	Logger   *slog.Logger

	// TickInterval and RunesPerTick override the reveal pacing when positive.
	TickInterval time.Duration
	RunesPerTick int
}

// Machine drives the turn lifecycle: append user turn, produce an answer,
// reveal it tick by tick, settle it as an alternative. One turn may be in
// flight per conversation at a time.
type Machine struct {
	answerer Answerer
	store    Store
	logger   *slog.Logger

	tickInterval time.Duration
	runesPerTick int

	// newTicker is swapped by tests for a hand-driven tick channel.
	newTicker func(d time.Duration) (<-chan time.Time, func())

	mu       sync.Mutex
	inflight map[uuid.UUID]bool    // conversation id -> turn in flight
	reveals  map[uuid.UUID]*reveal // turn id -> active reveal
}

// reveal tracks one in-progress tick-by-tick disclosure of an answer.
type reveal struct {
	turn      *Turn
	full      []rune
	revealed  int
	cancelled bool
	done      chan struct{}
}

// NewMachine creates a machine.
func NewMachine(cfg Config) (*Machine, error) {
	if cfg.Answerer == nil {
		return nil, fmt.Errorf("answerer is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}
	runes := cfg.RunesPerTick
	if runes <= 0 {
		runes = defaultRunesPerTick
	}

	return &Machine{
		answerer:     cfg.Answerer,
		store:        cfg.Store,
		logger:       cfg.Logger,
		tickInterval: tick,
		runesPerTick: runes,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		inflight: make(map[uuid.UUID]bool),
		reveals:  make(map[uuid.UUID]*reveal),
	}, nil
}

// Submit appends the user's message, produces an answer and starts revealing
// it. The returned turn is a snapshot of the assistant placeholder at the
// moment streaming begins; Wait or View observe its progress.
//
// If answering fails the placeholder is removed and the conversation keeps
// only the user turn, so a retry re-asks the same question cleanly.
func (m *Machine) Submit(ctx context.Context, conversationID uuid.UUID, text string, tenant retrieval.TenantContext) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message is empty")
	}

	if err := m.acquire(conversationID); err != nil {
		return nil, err
	}

	conv, err := m.store.Conversation(ctx, conversationID)
	if err != nil {
		m.release(conversationID)
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	history := historyMessages(conv.Turns)
	nextSeq := nextSequence(conv.Turns)

	userTurn := &Turn{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        text,
		State:          StateSettled,
		SequenceNumber: nextSeq,
		CreatedAt:      time.Now(),
	}
	if err := m.store.AppendTurn(ctx, userTurn); err != nil {
		m.release(conversationID)
		return nil, fmt.Errorf("failed to append user turn: %w", err)
	}

	if conv.Title == "" {
		if err := m.store.SetTitle(ctx, conversationID, autoTitle(text)); err != nil {
			m.logger.Warn("failed to set conversation title", "error", err)
		}
	}

	asst := &Turn{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		State:          StatePending,
		SequenceNumber: nextSeq + 1,
		CreatedAt:      time.Now(),
	}
	if err := m.store.AppendTurn(ctx, asst); err != nil {
		m.release(conversationID)
		return nil, fmt.Errorf("failed to append assistant turn: %w", err)
	}

	answer, err := m.answerer.Answer(ctx, text, history, tenant)
	if err != nil {
		if derr := m.store.DeleteTurn(ctx, asst.ID); derr != nil {
			m.logger.Warn("failed to remove placeholder turn", "error", derr)
		}
		m.release(conversationID)
		return nil, fmt.Errorf("%w: %v", ErrAnswerFailed, err)
	}

	return m.beginReveal(ctx, conversationID, asst, answer)
}

// Regenerate produces a fresh answer for a settled assistant turn, using the
// history truncated to its preceding user turn. The previous answer stays in
// Alternatives; the new one is appended and becomes active once settled.
func (m *Machine) Regenerate(ctx context.Context, conversationID, turnID uuid.UUID, tenant retrieval.TenantContext) (*Turn, error) {
	if err := m.acquire(conversationID); err != nil {
		return nil, err
	}

	conv, err := m.store.Conversation(ctx, conversationID)
	if err != nil {
		m.release(conversationID)
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	idx := turnIndex(conv.Turns, turnID)
	if idx < 0 {
		m.release(conversationID)
		return nil, ErrTurnNotFound
	}
	target := conv.Turns[idx]
	if target.Role != RoleAssistant || target.State != StateSettled {
		m.release(conversationID)
		return nil, ErrNotRegenerable
	}

	userIdx := -1
	for i := idx - 1; i >= 0; i-- {
		if conv.Turns[i].Role == RoleUser {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		m.release(conversationID)
		return nil, ErrNotRegenerable
	}

	question := conv.Turns[userIdx].Content
	history := historyMessages(conv.Turns[:userIdx])

	answer, err := m.answerer.Answer(ctx, question, history, tenant)
	if err != nil {
		m.release(conversationID)
		return nil, fmt.Errorf("%w: %v", ErrAnswerFailed, err)
	}

	return m.beginReveal(ctx, conversationID, target, answer)
}

// beginReveal persists the streaming state and starts the tick loop.
func (m *Machine) beginReveal(ctx context.Context, conversationID uuid.UUID, turn *Turn, answer *retrieval.Answer) (*Turn, error) {
	m.mu.Lock()
	turn.Citations = answer.Citations
	turn.ModelID = answer.ModelID
	turn.State = StateStreaming
	turn.Content = ""

	r := &reveal{
		turn: turn,
		full: []rune(answer.Text),
		done: make(chan struct{}),
	}
	m.reveals[turn.ID] = r
	snapshot := turn.clone()
	m.mu.Unlock()

	if err := m.store.UpdateTurn(ctx, turn); err != nil {
		m.logger.Warn("failed to persist streaming state", "error", err)
	}

	go m.runReveal(conversationID, r)
	return snapshot, nil
}

// runReveal advances the visible prefix each tick until the text is exhausted
// or a cancel lands. Cancellation is observed between ticks only, so the
// frozen prefix is always a whole number of reveal steps.
func (m *Machine) runReveal(conversationID uuid.UUID, r *reveal) {
	tickc, stop := m.newTicker(m.tickInterval)
	defer stop()

	for range tickc {
		m.mu.Lock()
		if r.cancelled {
			final := string(r.full[:r.revealed])
			m.settleLocked(conversationID, r, final)
			m.mu.Unlock()
			return
		}

		r.revealed = min(r.revealed+m.runesPerTick, len(r.full))
		r.turn.Content = string(r.full[:r.revealed])

		if r.revealed >= len(r.full) {
			m.settleLocked(conversationID, r, string(r.full))
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
	}
}

// settleLocked finalizes the turn with the given text, appends it as a new
// alternative and persists. Callers hold m.mu.
func (m *Machine) settleLocked(conversationID uuid.UUID, r *reveal, text string) {
	t := r.turn
	t.Alternatives = append(t.Alternatives, text)
	t.ActiveAlternative = len(t.Alternatives) - 1
	t.Content = text
	t.State = StateSettled

	delete(m.reveals, t.ID)
	m.inflight[conversationID] = false
	close(r.done)

	// The reveal loop outlives the submitting call's context.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.store.UpdateTurn(ctx, t); err != nil {
		m.logger.Error("failed to persist settled turn", "turn_id", t.ID, "error", err)
	}
}

// Cancel freezes the reveal of a streaming turn. The visible prefix at the
// next tick becomes the turn's settled content and a new alternative.
func (m *Machine) Cancel(turnID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reveals[turnID]
	if !ok {
		return ErrNotStreaming
	}
	r.cancelled = true
	return nil
}

// Wait returns a channel closed when the turn's reveal settles. For a turn
// with no active reveal the channel is already closed.
func (m *Machine) Wait(turnID uuid.UUID) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.reveals[turnID]; ok {
		return r.done
	}
	done := make(chan struct{})
	close(done)
	return done
}

// View returns a snapshot of the turn as currently revealed, falling back to
// the store for turns with no active reveal.
func (m *Machine) View(ctx context.Context, conversationID, turnID uuid.UUID) (*Turn, error) {
	m.mu.Lock()
	if r, ok := m.reveals[turnID]; ok {
		snapshot := r.turn.clone()
		m.mu.Unlock()
		return snapshot, nil
	}
	m.mu.Unlock()

	conv, err := m.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if idx := turnIndex(conv.Turns, turnID); idx >= 0 {
		return conv.Turns[idx], nil
	}
	return nil, ErrTurnNotFound
}

// SwitchAlternative moves the active alternative of a settled turn by delta
// with wraparound and updates the visible content. Purely local: it performs
// a single row update and never touches a model or a search source.
func (m *Machine) SwitchAlternative(ctx context.Context, conversationID, turnID uuid.UUID, delta int) (*Turn, error) {
	m.mu.Lock()
	if _, streaming := m.reveals[turnID]; streaming {
		m.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	m.mu.Unlock()

	conv, err := m.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	idx := turnIndex(conv.Turns, turnID)
	if idx < 0 {
		return nil, ErrTurnNotFound
	}
	turn := conv.Turns[idx]
	n := len(turn.Alternatives)
	if n == 0 {
		return nil, ErrNoAlternatives
	}

	turn.ActiveAlternative = ((turn.ActiveAlternative+delta)%n + n) % n
	turn.Content = turn.Alternatives[turn.ActiveAlternative]

	if err := m.store.UpdateTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("failed to persist alternative switch: %w", err)
	}
	return turn, nil
}

func (m *Machine) acquire(conversationID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight[conversationID] {
		return ErrTurnInFlight
	}
	m.inflight[conversationID] = true
	return nil
}

func (m *Machine) release(conversationID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight[conversationID] = false
}

// historyMessages converts settled turns into provider messages, skipping
// placeholders and empty content.
func historyMessages(turns []*Turn) []*ai.Message {
	messages := make([]*ai.Message, 0, len(turns))
	for _, t := range turns {
		if t.State != StateSettled || t.Content == "" {
			continue
		}
		switch t.Role {
		case RoleUser:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(t.Content)))
		case RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(t.Content)))
		}
	}
	return messages
}

func nextSequence(turns []*Turn) int {
	next := 1
	for _, t := range turns {
		if t.SequenceNumber >= next {
			next = t.SequenceNumber + 1
		}
	}
	return next
}

func turnIndex(turns []*Turn, id uuid.UUID) int {
	for i, t := range turns {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// autoTitle derives a conversation title from the first user message.
func autoTitle(text string) string {
	title := strings.TrimSpace(text)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	runes := []rune(title)
	if len(runes) > maxAutoTitleLength {
		title = string(runes[:maxAutoTitleLength]) + "…"
	}
	return title
}
