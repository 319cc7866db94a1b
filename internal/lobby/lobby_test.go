package lobby

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

// stubSource hands out a fixed question bank; the "empty" category has none.
type stubSource struct{}

func (stubSource) RandomQuestions(_ context.Context, category string, n int) ([]models.Question, error) {
	if category == "empty" {
		return nil, nil
	}
	qs := make([]models.Question, n)
	for i := range qs {
		qs[i] = models.Question{
			ID:       uuid.New(),
			Category: category,
			Text:     "Which option is correct?",
			Options:  map[string]string{"A": "right", "B": "wrong"},
			Answer:   "A",
		}
	}
	return qs, nil
}

// fakeConn records delivered events and exposes a closable liveness channel.
type fakeConn struct {
	mu     sync.Mutex
	events []wire.Event
	done   chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) Send(ev wire.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Close() { c.once.Do(func() { close(c.done) }) }

func (c *fakeConn) count(t wire.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (c *fakeConn) has(t wire.EventType) bool { return c.count(t) > 0 }

// recordingSink counts persistence calls for lobby-driven matches.
type recordingSink struct {
	mu     sync.Mutex
	scores map[string]int
	saved  int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{scores: make(map[string]int)}
}

func (r *recordingSink) UpdateScore(_ context.Context, username string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[username] += delta
	return nil
}

func (r *recordingSink) SaveResult(_ context.Context, _, _ string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved++
	return nil
}

func newTestLobby(t *testing.T, ownerConn wire.Conn, opts ...func(*Config)) *Lobby {
	t.Helper()
	cfg := Config{
		ID:            1,
		Owner:         "alice",
		OwnerConn:     ownerConn,
		Category:      "history",
		QuestionCount: 1,
		TimeLimit:     time.Second,
		RoundPause:    10 * time.Millisecond,
		Questions:     stubSource{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	l, err := New(context.Background(), cfg)
	require.NoError(t, err)
	go l.Run()
	return l
}

func waitClosed(t *testing.T, l *Lobby) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("lobby did not close in time")
	}
}

func TestNewFailsWithoutQuestions(t *testing.T) {
	_, err := New(context.Background(), Config{
		ID:            1,
		Owner:         "alice",
		Category:      "empty",
		QuestionCount: 5,
		Questions:     stubSource{},
	})
	assert.ErrorIs(t, err, ErrNoQuestions)
}

func TestJoinCapacityAndDuplicates(t *testing.T) {
	owner := newFakeConn()
	l := newTestLobby(t, owner)

	require.NoError(t, l.Join("bob", newFakeConn()))
	require.NoError(t, l.Join("carol", newFakeConn()))
	require.NoError(t, l.Join("dave", newFakeConn()))

	assert.ErrorIs(t, l.Join("eve", newFakeConn()), ErrLobbyFull)
	assert.ErrorIs(t, l.Join("bob", newFakeConn()), ErrAlreadyJoined)

	// The owner saw every join, their own seat included.
	require.Eventually(t, func() bool {
		return owner.count(wire.EventPlayerJoined) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestOwnerSeatReservedUntilAttach(t *testing.T) {
	l := newTestLobby(t, nil) // owner created over HTTP, no conn yet

	ownerConn := newFakeConn()
	require.NoError(t, l.Join("alice", ownerConn))
	assert.ErrorIs(t, l.Join("alice", newFakeConn()), ErrAlreadyJoined)
}

func TestStartPermissions(t *testing.T) {
	owner := newFakeConn()
	l := newTestLobby(t, owner)
	require.NoError(t, l.Join("bob", newFakeConn()))

	assert.ErrorIs(t, l.Start("bob"), ErrNotOwner)
	require.NoError(t, l.Start("alice"))
	assert.ErrorIs(t, l.Start("alice"), ErrAlreadyStarted)
	assert.ErrorIs(t, l.Join("carol", newFakeConn()), ErrAlreadyStarted)
}

func TestCancelNotifiesOtherPlayers(t *testing.T) {
	owner := newFakeConn()
	bob := newFakeConn()
	l := newTestLobby(t, owner)
	require.NoError(t, l.Join("bob", bob))

	assert.ErrorIs(t, l.Cancel("bob"), ErrNotOwner)
	require.NoError(t, l.Cancel("alice"))
	waitClosed(t, l)

	assert.True(t, bob.has(wire.EventLobbyCanceled))
	assert.False(t, owner.has(wire.EventLobbyCanceled), "the canceling owner needs no notice")
}

func TestIdleLobbyExpires(t *testing.T) {
	owner := newFakeConn()
	l := newTestLobby(t, owner, func(cfg *Config) {
		cfg.IdleTimeout = 50 * time.Millisecond
	})

	waitClosed(t, l)
	assert.True(t, owner.has(wire.EventLobbyExpired))

	assert.ErrorIs(t, l.Join("bob", newFakeConn()), ErrClosed)
}

func TestConnLossRemovesPlayerAndEmptiesLobby(t *testing.T) {
	owner := newFakeConn()
	bob := newFakeConn()
	l := newTestLobby(t, owner)
	require.NoError(t, l.Join("bob", bob))

	bob.Close()
	require.Eventually(t, func() bool {
		return owner.has(wire.EventPlayerLeft)
	}, time.Second, 5*time.Millisecond)

	// Losing the last conn closes the lobby outright.
	owner.Close()
	waitClosed(t, l)
}

func TestLeaveLastPlayerClosesLobby(t *testing.T) {
	owner := newFakeConn()
	l := newTestLobby(t, owner)

	l.Leave("alice")
	waitClosed(t, l)
}

func TestFullMatchThroughLobby(t *testing.T) {
	owner := newFakeConn()
	bob := newFakeConn()
	sink := newRecordingSink()
	l := newTestLobby(t, owner, func(cfg *Config) {
		cfg.Scores = sink
		cfg.History = sink
	})
	require.NoError(t, l.Join("bob", bob))
	require.NoError(t, l.Start("alice"))

	for _, conn := range []*fakeConn{owner, bob} {
		require.Eventually(t, func() bool {
			return conn.has(wire.EventMatchStarted) && conn.has(wire.EventQuestion)
		}, time.Second, 5*time.Millisecond)
	}

	l.SubmitAnswer("alice", "A")
	l.SubmitAnswer("bob", "B")

	// The match drives the lobby to completion once the last round resolves.
	waitClosed(t, l)

	for _, conn := range []*fakeConn{owner, bob} {
		assert.Equal(t, 1, conn.count(wire.EventRoundSummary))
		assert.Equal(t, 1, conn.count(wire.EventMatchFinished))
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 10, sink.scores["alice"])
	assert.Equal(t, -5, sink.scores["bob"])
	assert.Equal(t, 2, sink.saved)
}
