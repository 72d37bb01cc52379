package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hoshi0/hoshi/internal/retrieval"
)

// ErrConversationNotFound indicates an unknown conversation id.
var ErrConversationNotFound = errors.New("conversation not found")

// PostgresStore persists conversations and turns in PostgreSQL.
//
// PostgresStore is safe for concurrent use by multiple goroutines.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a conversation store.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Create starts an empty conversation.
func (s *PostgresStore) Create(ctx context.Context, title string) (*Conversation, error) {
	conv := &Conversation{ID: uuid.New(), Title: title}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, title) VALUES ($1, $2)
		 RETURNING created_at, updated_at`, conv.ID, title)
	if err := row.Scan(&conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

// Conversation loads one conversation with its turns in sequence order.
func (s *PostgresStore) Conversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	conv := &Conversation{ID: id}
	row := s.pool.QueryRow(ctx,
		`SELECT title, created_at, updated_at FROM conversations WHERE id = $1`, id)
	if err := row.Scan(&conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, alternatives, active_alternative, citations, model_id, state, sequence_number, created_at
		 FROM conversation_turns WHERE conversation_id = $1 ORDER BY sequence_number`, id)
	if err != nil {
		return nil, fmt.Errorf("loading turns for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		t := &Turn{ConversationID: id}
		var (
			role, state   string
			altsJSON      []byte
			citationsJSON []byte
			modelID       *string
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &altsJSON, &t.ActiveAlternative,
			&citationsJSON, &modelID, &state, &t.SequenceNumber, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = Role(role)
		t.State = TurnState(state)
		if modelID != nil {
			t.ModelID = *modelID
		}
		if err := json.Unmarshal(altsJSON, &t.Alternatives); err != nil {
			return nil, fmt.Errorf("decoding alternatives for turn %s: %w", t.ID, err)
		}
		if len(citationsJSON) > 0 {
			if err := json.Unmarshal(citationsJSON, &t.Citations); err != nil {
				return nil, fmt.Errorf("decoding citations for turn %s: %w", t.ID, err)
			}
		}
		conv.Turns = append(conv.Turns, t)
	}
	return conv, rows.Err()
}

// List returns conversations newest first, without their turns.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at, updated_at
		 FROM conversations ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c := &Conversation{}
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// Delete removes a conversation and, via cascade, its turns.
func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// SetTitle updates the conversation title.
func (s *PostgresStore) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("setting title for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// AppendTurn inserts a turn at its sequence number and bumps the
// conversation's updated_at. The unique constraint on (conversation_id,
// sequence_number) rejects concurrent appends racing for the same slot.
func (s *PostgresStore) AppendTurn(ctx context.Context, turn *Turn) error {
	altsJSON, citationsJSON, err := encodeTurnJSON(turn)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning append: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_turns
		   (id, conversation_id, role, content, alternatives, active_alternative, citations, model_id, state, sequence_number, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		turn.ID, turn.ConversationID, string(turn.Role), turn.Content,
		altsJSON, turn.ActiveAlternative, citationsJSON, nullable(turn.ModelID),
		string(turn.State), turn.SequenceNumber, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending turn %d to %s: %w", turn.SequenceNumber, turn.ConversationID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, turn.ConversationID); err != nil {
		return fmt.Errorf("touching conversation %s: %w", turn.ConversationID, err)
	}

	return tx.Commit(ctx)
}

// UpdateTurn rewrites a turn's mutable fields.
func (s *PostgresStore) UpdateTurn(ctx context.Context, turn *Turn) error {
	altsJSON, citationsJSON, err := encodeTurnJSON(turn)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE conversation_turns SET
		   content = $2,
		   alternatives = $3,
		   active_alternative = $4,
		   citations = $5,
		   model_id = $6,
		   state = $7
		 WHERE id = $1`,
		turn.ID, turn.Content, altsJSON, turn.ActiveAlternative,
		citationsJSON, nullable(turn.ModelID), string(turn.State))
	if err != nil {
		return fmt.Errorf("updating turn %s: %w", turn.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTurnNotFound
	}
	return nil
}

// DeleteTurn removes one turn. Used to roll back a placeholder whose answer
// never arrived.
func (s *PostgresStore) DeleteTurn(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversation_turns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting turn %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTurnNotFound
	}
	return nil
}

func encodeTurnJSON(turn *Turn) (alts, citations []byte, err error) {
	a := turn.Alternatives
	if a == nil {
		a = []string{}
	}
	alts, err = json.Marshal(a)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding alternatives: %w", err)
	}

	c := turn.Citations
	if c == nil {
		c = []retrieval.Citation{}
	}
	citations, err = json.Marshal(c)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding citations: %w", err)
	}
	return alts, citations, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
