// Package agent implements the per-user UserAgent actor: a single-writer
// state holder that turns a validated chat or tool request into persisted
// turns, memory events, and a reply, per the actor design in the system
// overview.
package agent

import "time"

const (
	// MaxTurns bounds ActorState.turns and the stored conversational turns
	// per user.
	MaxTurns = 40

	// MaxMsgChars bounds a single chat message body.
	MaxMsgChars = 8000

	// MaxPageCtxChars bounds the optional page-context field on a chat
	// request.
	MaxPageCtxChars = 4000

	// MaxTotalCtxChars bounds the combined size of recall snippets,
	// page context, and the turns actually included in the prompt.
	MaxTotalCtxChars = 24000

	// MaxMemories bounds the surviving memories rows per user; older rows
	// are pruned newest-by-updated_at.
	MaxMemories = 500

	// EpisodeEvery triggers an episode summary on every Nth user turn.
	EpisodeEvery = 6

	// EpisodeTurnWindow is how many of the most recent turns are folded
	// into an episode summary.
	EpisodeTurnWindow = 12
)

// systemPreamble is the fixed instruction block prefixed to every prompt.
const systemPreamble = "You are a helpful personal assistant. Answer the user's latest message " +
	"using the conversation so far and any recalled memories. Be concise and direct."

const assistantTrailer = "ASSISTANT:"

// defaultThreadID is used when the caller does not separate conversations
// into multiple threads; the whole design keys turns by (userID, threadID).
const defaultThreadID = "default"

// actorIdleTTL is unused by Router today but documents the intended bound
// on in-memory actor retention if LRU eviction is added later.
const actorIdleTTL = 30 * time.Minute
