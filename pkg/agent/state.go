package agent

import "fmt"

// Turn is one message in the actor's conversational state.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// line renders a turn the way episodes and prompts both expect: "role: content".
func (t Turn) line() string {
	return fmt.Sprintf("%s: %s", t.Role, t.Content)
}

// ActorState is the bounded, per-user conversational state the routing
// layer serializes access to. It is loaded lazily on first use and
// persisted atomically after every handleChat.
type ActorState struct {
	loaded        bool
	turns         []Turn
	workingMemory map[string]string
	turnCount     int64
}

// pushTurn appends a turn and clamps the ring to MaxTurns, dropping the
// oldest entries first.
func (s *ActorState) pushTurn(role, content string) {
	s.turns = append(s.turns, Turn{Role: role, Content: content})
	if len(s.turns) > MaxTurns {
		s.turns = s.turns[len(s.turns)-MaxTurns:]
	}
}

// recentWindow returns up to n of the most recent turns, oldest-first.
func (s *ActorState) recentWindow(n int) []Turn {
	if n >= len(s.turns) {
		return s.turns
	}
	return s.turns[len(s.turns)-n:]
}
