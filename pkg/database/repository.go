package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// isUndefinedColumn reports whether err is Postgres error 42703
// (undefined_column), the signal to fall back from a wide insert (with
// optional columns) to the narrow form, per spec §6's forward-compatibility
// note on extended columns.
func isUndefinedColumn(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42703"
	}
	return false
}

// InsertTurn appends a conversation turn. It first attempts the wide form
// (including request_id/token_budget/model) and falls back to the narrow
// form if those columns are not yet present in the deployed schema.
func (c *Client) InsertTurn(ctx context.Context, t Turn) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO conversation_turns
			(id, user_id, thread_id, role, content, tokens_est, request_id, token_budget, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		t.ID, t.UserID, t.ThreadID, t.Role, t.Content, t.TokensEst, t.RequestID, t.TokenBudget, t.Model)
	if err != nil && isUndefinedColumn(err) {
		_, err = c.db.ExecContext(ctx, `
			INSERT INTO conversation_turns (id, user_id, thread_id, role, content, created_at)
			VALUES ($1, $2, $3, $4, $5, now())`,
			t.ID, t.UserID, t.ThreadID, t.Role, t.Content)
	}
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// ListRecentTurns returns up to limit of the newest turns for (userID,
// threadID), ordered oldest-first so callers can append directly to a
// context window.
func (c *Client) ListRecentTurns(ctx context.Context, userID, threadID string, limit int) ([]Turn, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, thread_id, role, content, created_at
		FROM conversation_turns
		WHERE user_id = $1 AND thread_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, userID, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.UserID, &t.ThreadID, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// PruneTurns deletes all but the newest maxTurns rows for (userID, threadID).
func (c *Client) PruneTurns(ctx context.Context, userID, threadID string, maxTurns int) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM conversation_turns
		WHERE user_id = $1 AND thread_id = $2 AND id NOT IN (
			SELECT id FROM conversation_turns
			WHERE user_id = $1 AND thread_id = $2
			ORDER BY created_at DESC
			LIMIT $3
		)`, userID, threadID, maxTurns)
	if err != nil {
		return fmt.Errorf("prune turns: %w", err)
	}
	return nil
}

// InsertMemory inserts a new memory row.
func (c *Client) InsertMemory(ctx context.Context, m Memory) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, type, content_json, embedding_json, source, sensitivity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		m.ID, m.UserID, m.Type, m.ContentJSON, m.EmbeddingJSON, m.Source, m.Sensitivity)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// ListPinnedMemories returns up to limit memories of the given types for
// userID, newest-updated-first.
func (c *Client) ListPinnedMemories(ctx context.Context, userID string, types []string, limit int) ([]Memory, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, type, content_json, embedding_json, source, sensitivity, created_at, updated_at
		FROM memories
		WHERE user_id = $1 AND type = ANY($2)
		ORDER BY updated_at DESC
		LIMIT $3`, userID, types, limit)
	if err != nil {
		return nil, fmt.Errorf("list pinned memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// GetMemoriesByIDs loads memories for userID restricted to ids, in no
// particular order; the rows are not sorted by the vector index's score.
func (c *Client) GetMemoriesByIDs(ctx context.Context, userID string, ids []string) ([]Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, type, content_json, embedding_json, source, sensitivity, created_at, updated_at
		FROM memories
		WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("get memories by ids: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var out []Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Type, &m.ContentJSON, &m.EmbeddingJSON, &m.Source, &m.Sensitivity, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneMemories deletes all but the newest-by-updated_at maxMemories rows
// for userID, across all types.
func (c *Client) PruneMemories(ctx context.Context, userID string, maxMemories int) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM memories
		WHERE user_id = $1 AND id NOT IN (
			SELECT id FROM memories
			WHERE user_id = $1
			ORDER BY updated_at DESC
			LIMIT $2
		)`, userID, maxMemories)
	if err != nil {
		return fmt.Errorf("prune memories: %w", err)
	}
	return nil
}

// AppendMemoryEvent inserts an audit row into the append-only memory_events
// log, falling back to the narrow form if source/confidence are absent from
// the deployed schema.
func (c *Client) AppendMemoryEvent(ctx context.Context, e MemoryEvent) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO memory_events (id, user_id, event_type, payload_json, source, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		e.ID, e.UserID, e.EventType, e.PayloadJSON, e.Source, e.Confidence)
	if err != nil && isUndefinedColumn(err) {
		_, err = c.db.ExecContext(ctx, `
			INSERT INTO memory_events (id, user_id, event_type, payload_json, created_at)
			VALUES ($1, $2, $3, $4, now())`,
			e.ID, e.UserID, e.EventType, e.PayloadJSON)
	}
	if err != nil {
		return fmt.Errorf("append memory event: %w", err)
	}
	return nil
}

// InsertToolAudit inserts a tool_audit row, falling back to the narrow form
// if the extended diagnostic columns are absent from the deployed schema.
func (c *Client) InsertToolAudit(ctx context.Context, a ToolAudit) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO tool_audit
			(id, user_id, tool, request_id, status, args_json, duration_ms, redaction_applied, redacted_output_ref, redacted_output_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		a.ID, a.UserID, a.Tool, a.RequestID, a.Status, a.ArgsJSON, a.DurationMS, a.RedactionApplied, a.RedactedOutputRef, a.RedactedOutputJSON)
	if err != nil && isUndefinedColumn(err) {
		_, err = c.db.ExecContext(ctx, `
			INSERT INTO tool_audit (id, user_id, tool, request_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5, now())`,
			a.ID, a.UserID, a.Tool, a.RequestID, a.Status)
	}
	if err != nil {
		return fmt.Errorf("insert tool audit: %w", err)
	}
	return nil
}

// SaveActorState upserts the durable KV blob for userID (spec §9's "durable
// objects abstraction").
func (c *Client) SaveActorState(ctx context.Context, userID string, turnCount int64, workingMemoryJSON string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO actor_state (user_id, turn_count, working_memory_json, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE SET
			turn_count = EXCLUDED.turn_count,
			working_memory_json = EXCLUDED.working_memory_json,
			updated_at = now()`,
		userID, turnCount, workingMemoryJSON)
	if err != nil {
		return fmt.Errorf("save actor state: %w", err)
	}
	return nil
}

// LoadActorState loads the durable KV blob for userID, or (nil, nil) if the
// actor has never been persisted.
func (c *Client) LoadActorState(ctx context.Context, userID string) (*ActorStateRow, error) {
	var row ActorStateRow
	err := c.db.QueryRowContext(ctx, `
		SELECT user_id, turn_count, working_memory_json, updated_at
		FROM actor_state WHERE user_id = $1`, userID).
		Scan(&row.UserID, &row.TurnCount, &row.WorkingMemoryJSON, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load actor state: %w", err)
	}
	return &row, nil
}
