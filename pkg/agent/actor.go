package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nebula-assistant/agent-core/pkg/apierr"
	"github.com/nebula-assistant/agent-core/pkg/database"
	"github.com/nebula-assistant/agent-core/pkg/ids"
	"github.com/nebula-assistant/agent-core/pkg/llm"
	"github.com/nebula-assistant/agent-core/pkg/memory"
	"github.com/nebula-assistant/agent-core/pkg/tool"
	"github.com/nebula-assistant/agent-core/pkg/vectorindex"
)

// Store is the subset of the persistence adapter the actor needs, beyond
// what memory.Recaller already uses for recall.
type Store interface {
	memory.Store
	ListRecentTurns(ctx context.Context, userID, threadID string, limit int) ([]database.Turn, error)
	InsertTurn(ctx context.Context, t database.Turn) error
	PruneTurns(ctx context.Context, userID, threadID string, maxTurns int) error
	InsertMemory(ctx context.Context, m database.Memory) error
	PruneMemories(ctx context.Context, userID string, maxMemories int) error
	InsertToolAudit(ctx context.Context, a database.ToolAudit) error
	SaveActorState(ctx context.Context, userID string, turnCount int64, workingMemoryJSON string) error
	LoadActorState(ctx context.Context, userID string) (*database.ActorStateRow, error)
}

// ChatRequest is the decoded body of POST /agent/chat.
type ChatRequest struct {
	Message       string `json:"message"`
	PageContext   string `json:"pageContext"`
	MemoryEnabled *bool  `json:"memoryEnabled"`
}

// ChatResult is the actor's reply to a chat request.
type ChatResult struct {
	Reply string `json:"reply"`
}

// ToolRequest is the decoded body of POST /agent/tool.
type ToolRequest struct {
	Name string `json:"name"`
	Args any    `json:"args"`
}

// ToolResult is the actor's response to a tool request.
type ToolResult struct {
	SafeJSON any `json:"safe_json"`
}

// RequestMeta carries the per-request facts the gateway has already
// established (identity, correlation, capability flags) into the actor.
type RequestMeta struct {
	RequestID            string
	UserID               string
	MemoryAllowedByToken bool
	ToolsAllowed         bool
}

// Actor is a single-threaded handler pinned to one userId. mu serializes
// handleChat/handleTool against each other and against themselves for this
// user; suspension (I/O) is fine, interleaved writes to state are not.
type Actor struct {
	userID             string
	mu                 sync.Mutex
	state              *ActorState
	store              Store // nil when persistence is not configured
	recaller           *memory.Recaller
	chat               *llm.ChatClient
	embedder           memory.Embedder  // nil disables episode embedding
	index              vectorindex.Index // nil disables vector upsert
	toolExec           *tool.Executor
	persistencePresent bool
	logger             *slog.Logger
}

// NewActor builds an Actor for userID. store, embedder, and index may be
// nil; the actor degrades features accordingly rather than failing.
func NewActor(
	userID string,
	store Store,
	recaller *memory.Recaller,
	chatClient *llm.ChatClient,
	embedder memory.Embedder,
	index vectorindex.Index,
	toolExec *tool.Executor,
) *Actor {
	return &Actor{
		userID:             userID,
		state:              &ActorState{workingMemory: make(map[string]string)},
		store:              store,
		recaller:           recaller,
		chat:               chatClient,
		embedder:           embedder,
		index:              index,
		toolExec:           toolExec,
		persistencePresent: store != nil,
		logger:             slog.Default().With("user_id_hash", ids.HashUserID(userID)),
	}
}

// hydrate loads ActorState from persistence on first use for this actor
// instance. Must be called with mu held.
func (a *Actor) hydrate(ctx context.Context) {
	if a.state.loaded {
		return
	}
	a.state.loaded = true
	if !a.persistencePresent {
		return
	}

	if row, err := a.store.LoadActorState(ctx, a.userID); err != nil {
		a.logger.Warn("failed to load actor state, starting fresh", "error", err)
	} else if row != nil {
		a.state.turnCount = row.TurnCount
		var wm map[string]string
		if err := json.Unmarshal([]byte(row.WorkingMemoryJSON), &wm); err == nil {
			a.state.workingMemory = wm
		}
	}

	turns, err := a.store.ListRecentTurns(ctx, a.userID, defaultThreadID, MaxTurns)
	if err != nil {
		a.logger.Warn("failed to seed turns from persistence", "error", err)
		return
	}
	for _, t := range turns {
		a.state.turns = append(a.state.turns, Turn{Role: t.Role, Content: t.Content})
	}
}

// HandleChat implements the full chat flow described for the actor's chat
// endpoint: validate, recall, trim, prompt, invoke the model, persist.
func (a *Actor) HandleChat(ctx context.Context, meta RequestMeta, req ChatRequest) (*ChatResult, error) {
	if l := len(req.Message); l < 1 || l > MaxMsgChars {
		return nil, apierr.New(apierr.KindBadRequest, "message must be between 1 and maximum length")
	}
	if len(req.PageContext) > MaxPageCtxChars {
		return nil, apierr.New(apierr.KindBadRequest, "pageContext exceeds maximum length")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.hydrate(ctx)

	a.state.pushTurn("user", req.Message)
	a.state.turnCount++

	memoryAllowed := a.persistencePresent && meta.MemoryAllowedByToken && (req.MemoryEnabled == nil || *req.MemoryEnabled)

	var recallSnippets []string
	if memoryAllowed && a.recaller != nil {
		snippets, err := a.recaller.Recall(ctx, a.userID, req.Message)
		if err != nil {
			a.logger.Warn("recall failed for chat request", "error", err)
		} else {
			recallSnippets = snippets
		}
	}

	prompt := a.buildPrompt(recallSnippets, req.PageContext)

	resp, err := a.chat.Complete(ctx, llm.ChatRequest{
		System: systemPreamble,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}

	a.state.pushTurn("assistant", resp.Text)

	a.persistTurnPair(ctx, meta, req.Message, resp.Text)

	if memoryAllowed && a.state.turnCount%EpisodeEvery == 0 {
		a.writeEpisode(ctx)
	}

	a.persistActorState(ctx)

	return &ChatResult{Reply: resp.Text}, nil
}

// buildPrompt assembles the deterministic prompt: fixed preamble, recall
// block, page-context block, conversation block, and the literal trailer.
func (a *Actor) buildPrompt(recallSnippets []string, pageContext string) string {
	var recallBlock string
	if len(recallSnippets) > 0 {
		recallBlock = "Recalled memories:\n" + strings.Join(recallSnippets, "\n")
	}

	var pageBlock string
	if pageContext != "" {
		pageBlock = "Page context:\n" + pageContext
	}

	budget := MaxTotalCtxChars - len(recallBlock) - len(pageBlock)
	turns := a.trimTurnsForContext(budget)

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, t.line())
	}
	conversationBlock := "Conversation:\n" + strings.Join(lines, "\n")

	var b strings.Builder
	b.WriteString(systemPreamble)
	for _, block := range []string{recallBlock, pageBlock, conversationBlock} {
		if block == "" {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(block)
	}
	b.WriteString("\n\n")
	b.WriteString(assistantTrailer)
	return b.String()
}

// trimTurnsForContext walks a.state.turns newest-to-oldest, including each
// turn while the running character total stays within budget, then
// restores chronological order.
func (a *Actor) trimTurnsForContext(budget int) []Turn {
	if budget < 0 {
		budget = 0
	}
	all := a.state.turns
	var kept []Turn
	used := 0
	for i := len(all) - 1; i >= 0; i-- {
		cost := len(all[i].line())
		if used+cost > budget {
			break
		}
		used += cost
		kept = append(kept, all[i])
	}
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// persistTurnPair stores the user/assistant turn pair and a write memory
// event, best-effort: a persistence failure here must not fail a response
// that has already been produced.
func (a *Actor) persistTurnPair(ctx context.Context, meta RequestMeta, userMsg, assistantMsg string) {
	if !a.persistencePresent {
		return
	}

	now := time.Now().UTC()
	requestID := meta.RequestID
	rows := []database.Turn{
		{ID: uuid.NewString(), UserID: a.userID, ThreadID: defaultThreadID, Role: "user", Content: userMsg, RequestID: &requestID, CreatedAt: now},
		{ID: uuid.NewString(), UserID: a.userID, ThreadID: defaultThreadID, Role: "assistant", Content: assistantMsg, RequestID: &requestID, CreatedAt: now},
	}
	for _, t := range rows {
		if err := a.store.InsertTurn(ctx, t); err != nil {
			a.logger.Warn("failed to persist turn", "error", err)
		}
	}
	if err := a.store.PruneTurns(ctx, a.userID, defaultThreadID, MaxTurns); err != nil {
		a.logger.Warn("failed to prune turns", "error", err)
	}

	payload, err := json.Marshal(map[string]string{"user": userMsg, "assistant": assistantMsg})
	if err != nil {
		return
	}
	event := database.MemoryEvent{ID: uuid.NewString(), UserID: a.userID, EventType: "write", PayloadJSON: string(payload)}
	if err := a.store.AppendMemoryEvent(ctx, event); err != nil {
		a.logger.Warn("failed to record write memory event", "error", err)
	}
}

// writeEpisode condenses the last EpisodeTurnWindow turns into a single
// episode memory, embeds it if an embedder is configured, and upserts the
// embedding into the vector index if one is configured. All failures are
// best-effort and logged, never returned to the chat caller.
func (a *Actor) writeEpisode(ctx context.Context) {
	window := a.state.recentWindow(EpisodeTurnWindow)
	if len(window) == 0 {
		return
	}
	lines := make([]string, 0, len(window))
	for _, t := range window {
		lines = append(lines, t.line())
	}
	summary := strings.Join(lines, "\n")

	contentJSON, err := json.Marshal(map[string]string{"summary": summary})
	if err != nil {
		return
	}

	memID := uuid.NewString()
	var embeddingJSON *string
	var vec []float64
	if a.embedder != nil {
		if v, err := a.embedder.Embed(ctx, summary); err != nil {
			a.logger.Warn("episode embedding failed", "error", err)
		} else {
			vec = v
			if b, err := json.Marshal(v); err == nil {
				s := string(b)
				embeddingJSON = &s
			}
		}
	}

	mem := database.Memory{
		ID:          memID,
		UserID:      a.userID,
		Type:        "episode",
		ContentJSON: string(contentJSON),
		Sensitivity: "normal",
	}
	mem.EmbeddingJSON = embeddingJSON

	if err := a.store.InsertMemory(ctx, mem); err != nil {
		a.logger.Warn("failed to write episode memory", "error", err)
		return
	}
	if err := a.store.PruneMemories(ctx, a.userID, MaxMemories); err != nil {
		a.logger.Warn("failed to prune memories", "error", err)
	}

	if a.index != nil && len(vec) > 0 {
		err := a.index.Upsert(ctx, []vectorindex.UpsertItem{{
			ID:     memID,
			Values: vec,
			Metadata: map[string]any{"user_id": a.userID, "type": "episode"},
		}})
		if err != nil {
			a.logger.Warn("failed to upsert episode embedding", "error", err)
		}
	}
}

// persistActorState writes the complete ActorState under this user's
// stable key, satisfying the durability guarantee that it happens after
// every HandleChat.
func (a *Actor) persistActorState(ctx context.Context) {
	if !a.persistencePresent {
		return
	}
	wm, err := json.Marshal(a.state.workingMemory)
	if err != nil {
		return
	}
	if err := a.store.SaveActorState(ctx, a.userID, a.state.turnCount, string(wm)); err != nil {
		a.logger.Warn("failed to persist actor state", "error", err)
	}
}

// HandleTool validates capability and allow-list, invokes the sandboxed
// tool, and writes the audit trail.
func (a *Actor) HandleTool(ctx context.Context, meta RequestMeta, req ToolRequest) (*ToolResult, error) {
	if !meta.ToolsAllowed {
		return nil, apierr.New(apierr.KindForbidden, "tool access is not permitted for this token")
	}
	if req.Name != tool.Name {
		return nil, apierr.New(apierr.KindBadRequest, fmt.Sprintf("unknown tool %q", req.Name))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	result, callErr := a.toolExec.Invoke(ctx, meta.RequestID, a.userID, req.Args)
	duration := time.Since(start).Milliseconds()

	a.recordToolAudit(ctx, meta, callErr, result, duration)

	if callErr != nil {
		return nil, callErr
	}

	payload, err := json.Marshal(map[string]any{"tool": tool.Name})
	if err == nil {
		event := database.MemoryEvent{ID: uuid.NewString(), UserID: a.userID, EventType: "tool", PayloadJSON: string(payload)}
		if a.persistencePresent {
			if err := a.store.AppendMemoryEvent(ctx, event); err != nil {
				a.logger.Warn("failed to record tool memory event", "error", err)
			}
		}
	}

	return &ToolResult{SafeJSON: result.SafeJSON}, nil
}

func (a *Actor) recordToolAudit(ctx context.Context, meta RequestMeta, callErr error, result *tool.Result, durationMS int64) {
	if !a.persistencePresent {
		return
	}

	status := "ok"
	var outputJSON *string
	redacted := true
	if callErr != nil {
		status = "error"
		redacted = false
	} else if b, err := json.Marshal(result.SafeJSON); err == nil {
		s := string(b)
		outputJSON = &s
	}

	audit := database.ToolAudit{
		ID:                 uuid.NewString(),
		UserID:             a.userID,
		Tool:               tool.Name,
		RequestID:          meta.RequestID,
		Status:             status,
		DurationMS:         &durationMS,
		RedactionApplied:   &redacted,
		RedactedOutputJSON: outputJSON,
	}
	if err := a.store.InsertToolAudit(ctx, audit); err != nil {
		a.logger.Warn("failed to record tool audit", "error", err)
	}
}
