package database

import "time"

// Memory mirrors one row of the memories table.
type Memory struct {
	ID            string
	UserID        string
	Type          string
	ContentJSON   string
	EmbeddingJSON *string
	Source        *string
	Sensitivity   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MemoryEvent mirrors one row of the append-only memory_events table.
type MemoryEvent struct {
	ID          string
	UserID      string
	EventType   string
	PayloadJSON string
	Source      *string
	Confidence  *float64
	CreatedAt   time.Time
}

// Turn mirrors one row of the conversation_turns table.
type Turn struct {
	ID          string
	UserID      string
	ThreadID    string
	Role        string
	Content     string
	TokensEst   *int
	RequestID   *string
	TokenBudget *int
	Model       *string
	CreatedAt   time.Time
}

// ToolAudit mirrors one row of the append-only tool_audit table.
type ToolAudit struct {
	ID                 string
	UserID             string
	Tool               string
	RequestID          string
	Status             string
	ArgsJSON           *string
	DurationMS         *int64
	RedactionApplied   *bool
	RedactedOutputRef  *string
	RedactedOutputJSON *string
	CreatedAt          time.Time
}

// ActorStateRow mirrors one row of the actor_state KV blob table.
type ActorStateRow struct {
	UserID            string
	TurnCount         int64
	WorkingMemoryJSON string
	UpdatedAt         time.Time
}
