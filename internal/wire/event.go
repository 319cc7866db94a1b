// Package wire defines the event envelope exchanged between the match
// engine, lobbies and client connections.
package wire

// EventType enumerates the messages a client can receive.
type EventType string

const (
	EventPlayerJoined  EventType = "player_joined"
	EventPlayerLeft    EventType = "player_left"
	EventMatchStarted  EventType = "match_started"
	EventLobbyCanceled EventType = "lobby_canceled"
	EventLobbyExpired  EventType = "lobby_expired"
	EventQuestion      EventType = "question"
	EventAnswerResult  EventType = "answer_result"
	EventRoundSummary  EventType = "round_summary"
	EventMatchFinished EventType = "match_finished"
	EventError         EventType = "error"
)

// Cause records how a player's round resolved.
type Cause string

const (
	CauseAnswered     Cause = "answered"
	CauseTimedOut     Cause = "timed_out"
	CauseDisconnected Cause = "disconnected"
)

// RoundOutcome is one player's result for a single question.
type RoundOutcome struct {
	Username string `json:"username"`
	Cause    Cause  `json:"cause"`
	Correct  bool   `json:"correct"`
	Delta    int    `json:"delta"`
}

// QuestionView is the client-visible portion of a question. The correct
// answer key is never sent before the round resolves.
type QuestionView struct {
	Round        int               `json:"round"`
	Text         string            `json:"text"`
	Options      map[string]string `json:"options"`
	TimeLimitSec int               `json:"timeLimitSec"`
}

// Event is the single envelope broadcast to clients. Fields are omitted
// when not relevant to the event type.
type Event struct {
	Type     EventType              `json:"type"`
	MatchID  int64                  `json:"match_id,omitempty"`
	Username string                 `json:"username,omitempty"`
	Question *QuestionView          `json:"question,omitempty"`
	Outcomes []RoundOutcome         `json:"outcomes,omitempty"`
	Scores   map[string]int         `json:"scores,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}
