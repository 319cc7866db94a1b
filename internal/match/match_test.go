package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizgrid/quizgrid/internal/models"
	"github.com/quizgrid/quizgrid/internal/wire"
)

// recordingSink captures UpdateScore and SaveResult calls.
type recordingSink struct {
	mu      sync.Mutex
	scores  map[string]int
	updates int
	saved   []savedResult
}

type savedResult struct {
	username string
	category string
	score    int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{scores: make(map[string]int)}
}

func (r *recordingSink) UpdateScore(_ context.Context, username string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[username] += delta
	r.updates++
	return nil
}

func (r *recordingSink) SaveResult(_ context.Context, username, category string, score int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, savedResult{username: username, category: category, score: score})
	return nil
}

func (r *recordingSink) finalScore(username string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scores[username]
}

// eventLog collects emitted events in order.
type eventLog struct {
	mu     sync.Mutex
	events []wire.Event
}

func (e *eventLog) add(ev wire.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) all() []wire.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]wire.Event, len(e.events))
	copy(out, e.events)
	return out
}

func (e *eventLog) byType(t wire.EventType) []wire.Event {
	var out []wire.Event
	for _, ev := range e.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// testConn feeds events into an eventLog and doubles as the liveness
// handle.
type testConn struct {
	log  *eventLog
	done chan struct{}
}

func newTestConn(log *eventLog) *testConn {
	return &testConn{log: log, done: make(chan struct{})}
}

func (c *testConn) Send(ev wire.Event)    { c.log.add(ev) }
func (c *testConn) Done() <-chan struct{} { return c.done }

func testQuestions(n int) []models.Question {
	qs := make([]models.Question, n)
	for i := range qs {
		qs[i] = models.Question{
			ID:       uuid.New(),
			Category: "history",
			Text:     "Which option is correct?",
			Options:  map[string]string{"A": "right", "B": "wrong"},
			Answer:   "A",
		}
	}
	return qs
}

func waitDone(t *testing.T, m *Match) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("match did not finish in time")
	}
}

func TestSinglePlayerCorrectAnswer(t *testing.T) {
	sink := newRecordingSink()
	log := &eventLog{}
	conn := newTestConn(log)

	m := New(Config{
		ID:         42,
		Category:   "history",
		Single:     true,
		TimeLimit:  time.Second,
		RoundPause: 10 * time.Millisecond,
		Questions:  testQuestions(1),
		Players:    map[string]wire.Conn{"alice": conn},
		Scores:     sink,
		History:    sink,
	})
	go m.Run()
	m.Begin()
	m.SubmitAnswer("alice", "a") // case-insensitive
	waitDone(t, m)

	assert.Equal(t, SingleCorrectDelta, sink.finalScore("alice"))

	feedback := log.byType(wire.EventAnswerResult)
	require.Len(t, feedback, 1, "single-player answers get immediate feedback")
	assert.Equal(t, true, feedback[0].Payload["correct"])
	assert.Equal(t, SingleCorrectDelta, feedback[0].Payload["delta"])

	finished := log.byType(wire.EventMatchFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, SingleCorrectDelta, finished[0].Scores["alice"])

	require.Len(t, sink.saved, 1)
	assert.Equal(t, savedResult{username: "alice", category: "history", score: SingleCorrectDelta}, sink.saved[0])
}

func TestMultiplayerTimeoutPenalty(t *testing.T) {
	sink := newRecordingSink()
	log := &eventLog{}

	m := New(Config{
		ID:         7,
		Category:   "science",
		TimeLimit:  80 * time.Millisecond,
		RoundPause: 10 * time.Millisecond,
		Questions:  testQuestions(1),
		Players:    map[string]wire.Conn{"alice": nil, "bob": nil},
		Scores:     sink,
		History:    sink,
		Emit:       log.add,
	})
	go m.Run()
	m.Begin()
	m.SubmitAnswer("alice", "A")
	waitDone(t, m)

	summaries := log.byType(wire.EventRoundSummary)
	require.Len(t, summaries, 1, "each round produces exactly one summary")
	require.Len(t, summaries[0].Outcomes, 2)

	byUser := map[string]wire.RoundOutcome{}
	for _, o := range summaries[0].Outcomes {
		byUser[o.Username] = o
	}
	assert.Equal(t, wire.CauseAnswered, byUser["alice"].Cause)
	assert.True(t, byUser["alice"].Correct)
	assert.Equal(t, MultiCorrectDelta, byUser["alice"].Delta)
	assert.Equal(t, wire.CauseTimedOut, byUser["bob"].Cause)
	assert.Equal(t, TimeoutPenalty, byUser["bob"].Delta)

	assert.Equal(t, MultiCorrectDelta, sink.finalScore("alice"))
	assert.Equal(t, TimeoutPenalty, sink.finalScore("bob"))
	assert.Equal(t, 2, sink.updates, "UpdateScore runs once per player")
	assert.Len(t, sink.saved, 2, "SaveResult runs once per player")
}

func TestStaleTimerDoesNotDoublePenalize(t *testing.T) {
	sink := newRecordingSink()
	log := &eventLog{}

	m := New(Config{
		ID:         9,
		Category:   "geography",
		TimeLimit:  10 * time.Second, // never fires on its own
		RoundPause: 50 * time.Millisecond,
		Questions:  testQuestions(1),
		Players:    map[string]wire.Conn{"alice": nil, "bob": nil},
		Scores:     sink,
		History:    sink,
		Emit:       log.add,
	})
	go m.Run()
	m.Begin()
	m.SubmitAnswer("alice", "A")
	m.SubmitAnswer("bob", "B")

	// Round resolves on the second answer; the timer is canceled.
	require.Eventually(t, func() bool {
		return len(log.byType(wire.EventRoundSummary)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// A timeout that was already in flight when the round resolved must be
	// ignored: the state machine has moved on.
	m.post(timeoutMsg{round: 1})
	waitDone(t, m)

	assert.Equal(t, MultiCorrectDelta, sink.finalScore("alice"))
	assert.Equal(t, MultiWrongDelta, sink.finalScore("bob"))
	assert.Equal(t, 2, sink.updates)
	assert.Len(t, log.byType(wire.EventRoundSummary), 1, "stale timeout produced no extra summary")
}

func TestSummaryPerRoundAndMembership(t *testing.T) {
	sink := newRecordingSink()
	log := &eventLog{}

	m := New(Config{
		ID:         11,
		Category:   "movies",
		TimeLimit:  time.Second,
		RoundPause: 10 * time.Millisecond,
		Questions:  testQuestions(2),
		Players:    map[string]wire.Conn{"alice": nil, "bob": nil},
		Scores:     sink,
		History:    sink,
		Emit:       log.add,
	})
	go m.Run()
	m.Begin()

	answerBoth := func() {
		m.SubmitAnswer("alice", "A")
		m.SubmitAnswer("bob", "A")
	}
	answerBoth()
	require.Eventually(t, func() bool {
		return len(log.byType(wire.EventQuestion)) == 2
	}, 2*time.Second, 5*time.Millisecond)
	answerBoth()
	waitDone(t, m)

	events := log.all()
	var sequence []wire.EventType
	for _, ev := range events {
		sequence = append(sequence, ev.Type)
	}
	assert.Equal(t, []wire.EventType{
		wire.EventQuestion,
		wire.EventRoundSummary,
		wire.EventQuestion,
		wire.EventRoundSummary,
		wire.EventMatchFinished,
	}, sequence, "each summary broadcasts before the next question")

	for _, summary := range log.byType(wire.EventRoundSummary) {
		names := map[string]bool{}
		for _, o := range summary.Outcomes {
			names[o.Username] = true
		}
		assert.Equal(t, map[string]bool{"alice": true, "bob": true}, names)
	}

	assert.Equal(t, 2*MultiCorrectDelta, sink.finalScore("alice"))
	assert.Equal(t, 2*MultiCorrectDelta, sink.finalScore("bob"))
}

func TestDisconnectResolvesRoundLikeTimeout(t *testing.T) {
	sink := newRecordingSink()
	log := &eventLog{}

	m := New(Config{
		ID:         13,
		Category:   "sports",
		TimeLimit:  10 * time.Second,
		RoundPause: 10 * time.Millisecond,
		Questions:  testQuestions(1),
		Players:    map[string]wire.Conn{"alice": nil, "bob": nil},
		Scores:     sink,
		History:    sink,
		Emit:       log.add,
	})
	go m.Run()
	m.Begin()
	m.SubmitAnswer("alice", "A")
	m.PlayerGone("bob")
	waitDone(t, m)

	summaries := log.byType(wire.EventRoundSummary)
	require.Len(t, summaries, 1)
	byUser := map[string]wire.RoundOutcome{}
	for _, o := range summaries[0].Outcomes {
		byUser[o.Username] = o
	}
	assert.Equal(t, wire.CauseDisconnected, byUser["bob"].Cause)
	assert.Equal(t, TimeoutPenalty, byUser["bob"].Delta)
	assert.Equal(t, TimeoutPenalty, sink.finalScore("bob"))
	assert.Equal(t, MultiCorrectDelta, sink.finalScore("alice"))
	assert.Len(t, sink.saved, 2, "disconnected players are still persisted")
}

func TestInvalidOptionScoresAsWrongAnswer(t *testing.T) {
	sink := newRecordingSink()
	log := &eventLog{}
	conn := newTestConn(log)

	m := New(Config{
		ID:         17,
		Category:   "history",
		Single:     true,
		TimeLimit:  time.Second,
		RoundPause: 10 * time.Millisecond,
		Questions:  testQuestions(1),
		Players:    map[string]wire.Conn{"alice": conn},
		Scores:     sink,
		History:    sink,
	})
	go m.Run()
	m.Begin()
	m.SubmitAnswer("alice", "Z")
	waitDone(t, m)

	assert.Equal(t, SingleWrongDelta, sink.finalScore("alice"))
}

func TestAnswerAfterRoundResolvedIsDropped(t *testing.T) {
	sink := newRecordingSink()
	log := &eventLog{}

	m := New(Config{
		ID:         19,
		Category:   "history",
		TimeLimit:  time.Second,
		RoundPause: 100 * time.Millisecond,
		Questions:  testQuestions(1),
		Players:    map[string]wire.Conn{"alice": nil},
		Scores:     sink,
		History:    sink,
		Emit:       log.add,
	})
	go m.Run()
	m.Begin()
	m.SubmitAnswer("alice", "A")
	require.Eventually(t, func() bool {
		return len(log.byType(wire.EventRoundSummary)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The round already resolved; a second answer must change nothing.
	m.SubmitAnswer("alice", "B")
	waitDone(t, m)

	assert.Equal(t, MultiCorrectDelta, sink.finalScore("alice"))
	summaries := log.byType(wire.EventRoundSummary)
	require.Len(t, summaries, 1)
	require.Len(t, summaries[0].Outcomes, 1)
}
