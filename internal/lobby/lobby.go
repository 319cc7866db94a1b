// Package lobby implements the pre-game staging room. A Lobby is a
// sequential actor: joins, leaves, start/cancel requests, liveness events
// and relayed match events all land in one inbox and are handled one at a
// time, so roster state needs no locking.
package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quizgrid/quizgrid/internal/match"
	"github.com/quizgrid/quizgrid/internal/models"
	"github.com/quizgrid/quizgrid/internal/wire"
)

const (
	// MaxPlayers caps the roster, owner included.
	MaxPlayers = 4
	// DefaultIdleTimeout closes a lobby that never starts.
	DefaultIdleTimeout = 180 * time.Second
)

var (
	ErrLobbyFull      = errors.New("lobby is full")
	ErrAlreadyJoined  = errors.New("player already joined")
	ErrAlreadyStarted = errors.New("match already started")
	ErrNotOwner       = errors.New("only the lobby owner may do that")
	ErrClosed         = errors.New("lobby is closed")
	ErrNoQuestions    = errors.New("no questions available for category")
)

// QuestionSource supplies the question bank contract the lobby needs. An
// empty result is a hard failure, not partial success.
type QuestionSource interface {
	RandomQuestions(ctx context.Context, category string, n int) ([]models.Question, error)
}

type state int

const (
	stateOpen state = iota
	stateStarted
	stateClosed
)

type player struct {
	conn wire.Conn
}

// Config seeds a lobby actor.
type Config struct {
	ID            int64
	Owner         string
	OwnerConn     wire.Conn // may be nil when the owner attaches over a transport later
	Category      string
	QuestionCount int
	TimeLimit     time.Duration
	// RoundPause is forwarded to the match; zero means the match default.
	RoundPause time.Duration
	// IdleTimeout defaults to DefaultIdleTimeout.
	IdleTimeout time.Duration

	Questions QuestionSource
	Scores    match.ScoreSink
	History   match.HistorySink
	Log       *logrus.Entry
}

type message interface{}

type joinMsg struct {
	username string
	conn     wire.Conn
	reply    chan error
}
type leaveMsg struct{ username string }
type startMsg struct {
	username string
	reply    chan error
}
type cancelMsg struct {
	username string
	force    bool
	reply    chan error
}
type answerMsg struct{ username, option string }
type downMsg struct{ username string }
type idleMsg struct{}
type matchEventMsg struct{ ev wire.Event }
type matchDoneMsg struct{}

// Lobby is the staging room for one match id.
type Lobby struct {
	cfg   Config
	log   *logrus.Entry
	inbox chan message
	done  chan struct{}

	// Owned by the Run goroutine.
	st        state
	players   map[string]*player
	questions []models.Question
	idleTimer *time.Timer
	game      *match.Match
}

// New loads the question set and seeds the owner as the sole player. It
// fails with ErrNoQuestions before any state is published.
func New(ctx context.Context, cfg Config) (*Lobby, error) {
	qs, err := cfg.Questions.RandomQuestions(ctx, cfg.Category, cfg.QuestionCount)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, ErrNoQuestions
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	l := &Lobby{
		cfg:       cfg,
		log:       cfg.Log.WithField("lobby", cfg.ID),
		inbox:     make(chan message, 64),
		done:      make(chan struct{}),
		players:   map[string]*player{cfg.Owner: {conn: cfg.OwnerConn}},
		questions: qs,
	}
	return l, nil
}

func (l *Lobby) ID() int64        { return l.cfg.ID }
func (l *Lobby) Owner() string    { return l.cfg.Owner }
func (l *Lobby) Category() string { return l.cfg.Category }

// Done is closed when the lobby reaches its terminal state.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Join adds a player while the lobby is still open. A player whose seat was
// created without a live conn (the owner over HTTP) attaches through the
// same path.
func (l *Lobby) Join(username string, conn wire.Conn) error {
	reply := make(chan error, 1)
	if !l.post(joinMsg{username: username, conn: conn, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-l.done:
		return ErrClosed
	}
}

// Leave removes a player and broadcasts the departure.
func (l *Lobby) Leave(username string) { l.post(leaveMsg{username: username}) }

// Start spawns the match actor seeded with the current roster.
func (l *Lobby) Start(username string) error {
	reply := make(chan error, 1)
	if !l.post(startMsg{username: username, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-l.done:
		return ErrClosed
	}
}

// Cancel tears the lobby down, stopping any active match.
func (l *Lobby) Cancel(username string) error {
	reply := make(chan error, 1)
	if !l.post(cancelMsg{username: username, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-l.done:
		return nil
	}
}

// Stop is the supervisor's unconditional cancel.
func (l *Lobby) Stop() {
	reply := make(chan error, 1)
	l.post(cancelMsg{force: true, reply: reply})
}

// SubmitAnswer forwards an answer to the active match, if any.
func (l *Lobby) SubmitAnswer(username, option string) {
	l.post(answerMsg{username: username, option: option})
}

func (l *Lobby) post(m message) bool {
	select {
	case l.inbox <- m:
		return true
	case <-l.done:
		return false
	}
}

// Run processes inbox messages until the lobby closes. Call once, in its
// own goroutine.
func (l *Lobby) Run() {
	defer close(l.done)
	l.idleTimer = time.AfterFunc(l.cfg.IdleTimeout, func() {
		l.post(idleMsg{})
	})
	if owner := l.players[l.cfg.Owner]; owner.conn != nil {
		l.watch(l.cfg.Owner, owner.conn)
	}

	for l.st != stateClosed {
		switch t := (<-l.inbox).(type) {
		case joinMsg:
			t.reply <- l.handleJoin(t)
		case leaveMsg:
			l.handleLeave(t.username)
		case startMsg:
			t.reply <- l.handleStart(t.username)
		case cancelMsg:
			t.reply <- l.handleCancel(t)
		case answerMsg:
			l.handleAnswer(t)
		case downMsg:
			l.handleDown(t.username)
		case idleMsg:
			l.handleIdle()
		case matchEventMsg:
			l.broadcast(t.ev)
		case matchDoneMsg:
			l.close()
		}
	}
	l.idleTimer.Stop()
}

// watch turns a conn going unreachable into a downMsg for this lobby.
func (l *Lobby) watch(username string, conn wire.Conn) {
	go func() {
		select {
		case <-conn.Done():
			l.post(downMsg{username: username})
		case <-l.done:
		}
	}()
}

func (l *Lobby) handleJoin(msg joinMsg) error {
	if l.st == stateStarted {
		return ErrAlreadyStarted
	}
	if l.st == stateClosed {
		return ErrClosed
	}
	if p, ok := l.players[msg.username]; ok {
		if p.conn != nil {
			return ErrAlreadyJoined
		}
		// Seat reserved at creation; attach the live conn now.
		p.conn = msg.conn
		l.watch(msg.username, msg.conn)
		l.broadcastJoin(msg.username)
		return nil
	}
	if len(l.players) >= MaxPlayers {
		return ErrLobbyFull
	}
	l.players[msg.username] = &player{conn: msg.conn}
	l.watch(msg.username, msg.conn)
	l.broadcastJoin(msg.username)
	l.log.WithField("username", msg.username).Info("player joined")
	return nil
}

func (l *Lobby) handleLeave(username string) {
	if _, ok := l.players[username]; !ok {
		return
	}
	delete(l.players, username)
	l.broadcast(wire.Event{Type: wire.EventPlayerLeft, MatchID: l.cfg.ID, Username: username})
	l.log.WithField("username", username).Info("player left")
	if len(l.players) == 0 {
		l.close()
	}
}

func (l *Lobby) handleStart(username string) error {
	if l.st == stateStarted {
		return ErrAlreadyStarted
	}
	if username != l.cfg.Owner {
		return ErrNotOwner
	}
	l.idleTimer.Stop()

	conns := make(map[string]wire.Conn, len(l.players))
	for name, p := range l.players {
		conns[name] = p.conn
	}
	l.game = match.New(match.Config{
		ID:         l.cfg.ID,
		Category:   l.cfg.Category,
		TimeLimit:  l.cfg.TimeLimit,
		RoundPause: l.cfg.RoundPause,
		Questions:  l.questions,
		Players:    conns,
		Scores:     l.cfg.Scores,
		History:    l.cfg.History,
		Emit:       func(ev wire.Event) { l.post(matchEventMsg{ev: ev}) },
		Log:        l.cfg.Log,
	})
	go func(m *match.Match) {
		defer func() {
			if r := recover(); r != nil {
				l.log.WithField("panic", r).Error("match actor crashed")
			}
			l.post(matchDoneMsg{})
		}()
		m.Run()
	}(l.game)

	l.st = stateStarted
	l.broadcast(wire.Event{Type: wire.EventMatchStarted, MatchID: l.cfg.ID, Username: username})
	l.game.Begin()
	l.log.WithField("players", len(l.players)).Info("match started")
	return nil
}

func (l *Lobby) handleCancel(msg cancelMsg) error {
	if !msg.force && msg.username != l.cfg.Owner {
		return ErrNotOwner
	}
	// Non-owner players return to discovery on this notice.
	for name, p := range l.players {
		if name == l.cfg.Owner || p.conn == nil {
			continue
		}
		p.conn.Send(wire.Event{Type: wire.EventLobbyCanceled, MatchID: l.cfg.ID})
	}
	l.log.Info("lobby canceled")
	l.close()
	return nil
}

func (l *Lobby) handleAnswer(msg answerMsg) {
	if l.game == nil {
		l.log.WithField("username", msg.username).Info("answer with no active match, dropping")
		return
	}
	l.game.SubmitAnswer(msg.username, msg.option)
}

func (l *Lobby) handleDown(username string) {
	if _, ok := l.players[username]; !ok {
		return
	}
	delete(l.players, username)
	l.broadcast(wire.Event{Type: wire.EventPlayerLeft, MatchID: l.cfg.ID, Username: username})
	l.log.WithField("username", username).Info("player connection lost")

	if l.st == stateStarted && l.game != nil {
		// Let the round resolve without waiting on a ghost.
		l.game.PlayerGone(username)
	}
	if len(l.players) == 0 {
		l.close()
	}
}

func (l *Lobby) handleIdle() {
	if l.st != stateOpen {
		return
	}
	l.broadcast(wire.Event{Type: wire.EventLobbyExpired, MatchID: l.cfg.ID})
	l.log.Info("lobby expired from inactivity")
	l.close()
}

func (l *Lobby) close() {
	if l.st == stateClosed {
		return
	}
	if l.game != nil {
		l.game.Stop()
		l.game = nil
	}
	l.st = stateClosed
}

func (l *Lobby) broadcastJoin(username string) {
	roster := make([]string, 0, len(l.players))
	for name := range l.players {
		roster = append(roster, name)
	}
	l.broadcast(wire.Event{
		Type:     wire.EventPlayerJoined,
		MatchID:  l.cfg.ID,
		Username: username,
		Payload:  map[string]interface{}{"players": roster},
	})
}

func (l *Lobby) broadcast(ev wire.Event) {
	for _, p := range l.players {
		if p.conn != nil {
			p.conn.Send(ev)
		}
	}
}
