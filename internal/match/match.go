// Package match implements the gameplay engine: question sequencing,
// per-round answer aggregation under a deadline, scoring and end-of-match
// persistence. A Match is a sequential actor; all state is owned by the
// Run goroutine and mutated only while handling one inbox message at a time.
package match

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quizgrid/quizgrid/internal/models"
	"github.com/quizgrid/quizgrid/internal/wire"
)

// Scoring deltas. Multiplayer rounds resolve synchronously for the whole
// roster; single-player rounds resolve on the sole answer.
const (
	MultiCorrectDelta  = 10
	MultiWrongDelta    = -5
	SingleCorrectDelta = 5
	SingleWrongDelta   = -3
	TimeoutPenalty     = -5
)

// DefaultRoundPause is the gap between a round summary and the next question.
const DefaultRoundPause = 2 * time.Second

const persistTimeout = 5 * time.Second

var ErrUnknownPlayer = errors.New("player is not part of this match")

// ScoreSink receives each player's final score delta exactly once per
// finished match.
type ScoreSink interface {
	UpdateScore(ctx context.Context, username string, delta int) error
}

// HistorySink appends one (username, category, score) row per player per
// finished match.
type HistorySink interface {
	SaveResult(ctx context.Context, username, category string, score int) error
}

type phase int

const (
	phaseIdle phase = iota
	phaseAsking
	phaseResolving
	phaseFinished
)

type playerState struct {
	conn     wire.Conn
	score    int
	answered bool
	gone     bool
}

// Config seeds a match actor.
type Config struct {
	ID        int64
	Category  string
	Single    bool
	TimeLimit time.Duration
	// RoundPause overrides DefaultRoundPause when positive.
	RoundPause time.Duration
	Questions  []models.Question
	Players    map[string]wire.Conn
	Scores     ScoreSink
	History    HistorySink
	// Emit, when set, relays every broadcast event (the lobby installs its
	// own relay here). When nil, events are sent to each player conn
	// directly, which is the single-player path.
	Emit func(ev wire.Event)
	Log  *logrus.Entry
}

type message interface{}

type beginMsg struct{}
type answerMsg struct{ username, option string }
type timeoutMsg struct{ round int }
type advanceMsg struct{ round int }
type disconnectMsg struct{ username string }
type attachMsg struct {
	username string
	conn     wire.Conn
	reply    chan error
}
type stopMsg struct{}

// Match runs one trivia game to completion.
type Match struct {
	cfg   Config
	log   *logrus.Entry
	inbox chan message
	done  chan struct{}

	// Owned by the Run goroutine.
	players  map[string]*playerState
	queue    []models.Question
	current  *models.Question
	round    int
	ph       phase
	outcomes []wire.RoundOutcome
	timer    *time.Timer
	pause    *time.Timer
}

func New(cfg Config) *Match {
	if cfg.RoundPause <= 0 {
		cfg.RoundPause = DefaultRoundPause
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Match{
		cfg:     cfg,
		log:     cfg.Log.WithField("match", cfg.ID),
		inbox:   make(chan message, 64),
		done:    make(chan struct{}),
		players: make(map[string]*playerState, len(cfg.Players)),
		queue:   cfg.Questions,
	}
	for name, conn := range cfg.Players {
		m.players[name] = &playerState{conn: conn}
	}
	return m
}

func (m *Match) ID() int64 { return m.cfg.ID }

// Done is closed once the actor has terminated and persisted results.
func (m *Match) Done() <-chan struct{} { return m.done }

// Begin publishes the first question. A no-op once the match is underway.
func (m *Match) Begin() { m.post(beginMsg{}) }

// SubmitAnswer records username's answer for the current round. Out-of-phase
// submissions are dropped inside the actor.
func (m *Match) SubmitAnswer(username, option string) {
	m.post(answerMsg{username: username, option: option})
}

// PlayerGone resolves username's current round like a timeout and stops
// waiting on them in later rounds.
func (m *Match) PlayerGone(username string) {
	m.post(disconnectMsg{username: username})
}

// Attach installs a live conn for a seeded player, for transports where the
// client connects after the match unit was created.
func (m *Match) Attach(username string, conn wire.Conn) error {
	reply := make(chan error, 1)
	if !m.post(attachMsg{username: username, conn: conn, reply: reply}) {
		return ErrUnknownPlayer
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrUnknownPlayer
	}
}

// Stop terminates the match cooperatively. Results collected so far are
// still persisted.
func (m *Match) Stop() { m.post(stopMsg{}) }

func (m *Match) post(msg message) bool {
	select {
	case m.inbox <- msg:
		return true
	case <-m.done:
		return false
	}
}

// Run processes inbox messages until the match finishes. It must be called
// exactly once, in its own goroutine.
func (m *Match) Run() {
	defer close(m.done)
	for m.ph != phaseFinished {
		switch t := (<-m.inbox).(type) {
		case beginMsg:
			if m.ph == phaseIdle {
				m.nextQuestion()
			}
		case answerMsg:
			m.handleAnswer(t)
		case timeoutMsg:
			m.handleTimeout(t)
		case advanceMsg:
			m.handleAdvance(t)
		case disconnectMsg:
			m.handleDisconnect(t)
		case attachMsg:
			m.handleAttach(t)
		case stopMsg:
			m.log.Info("match stopped before completion")
			m.finish(false)
		}
	}
}

// nextQuestion pops the queue and arms the round timer, or finishes the
// match when the queue is exhausted.
func (m *Match) nextQuestion() {
	if len(m.queue) == 0 {
		m.finish(true)
		return
	}
	q := m.queue[0]
	m.queue = m.queue[1:]
	m.current = &q
	m.round++
	m.ph = phaseAsking
	m.outcomes = nil

	for name, p := range m.players {
		p.answered = false
		if p.gone {
			// Vanished players resolve instantly so the round never waits
			// on a ghost. The timeout penalty was charged in the round they
			// disconnected in.
			p.answered = true
			m.outcomes = append(m.outcomes, wire.RoundOutcome{
				Username: name,
				Cause:    wire.CauseDisconnected,
			})
		}
	}

	m.emit(wire.Event{
		Type:    wire.EventQuestion,
		MatchID: m.cfg.ID,
		Question: &wire.QuestionView{
			Round:        m.round,
			Text:         q.Text,
			Options:      q.Options,
			TimeLimitSec: int(m.cfg.TimeLimit / time.Second),
		},
	})

	round := m.round
	m.timer = time.AfterFunc(m.cfg.TimeLimit, func() {
		m.post(timeoutMsg{round: round})
	})
	m.log.WithFields(logrus.Fields{"round": m.round, "remaining": len(m.queue)}).Debug("question published")

	// Every seeded player may already be gone.
	m.maybeResolve()
}

func (m *Match) handleAnswer(msg answerMsg) {
	if m.ph != phaseAsking || m.current == nil {
		m.log.WithField("username", msg.username).Debug("answer arrived outside an active round, dropping")
		return
	}
	p, ok := m.players[msg.username]
	if !ok || p.answered {
		return
	}

	correct := strings.EqualFold(strings.TrimSpace(msg.option), m.current.Answer)
	delta := MultiWrongDelta
	if m.cfg.Single {
		delta = SingleWrongDelta
	}
	if correct {
		delta = MultiCorrectDelta
		if m.cfg.Single {
			delta = SingleCorrectDelta
		}
	}

	p.answered = true
	p.score += delta
	m.outcomes = append(m.outcomes, wire.RoundOutcome{
		Username: msg.username,
		Cause:    wire.CauseAnswered,
		Correct:  correct,
		Delta:    delta,
	})

	if m.cfg.Single {
		// Immediate feedback straight to the initiating client.
		p.conn.Send(wire.Event{
			Type:     wire.EventAnswerResult,
			MatchID:  m.cfg.ID,
			Username: msg.username,
			Payload: map[string]interface{}{
				"correct": correct,
				"delta":   delta,
				"score":   p.score,
			},
		})
	}

	m.maybeResolve()
}

// handleTimeout charges every unanswered player the timeout penalty. The
// round tag and phase check make a timer that fired after cancellation a
// no-op: the state machine, not the timer, decides whether a timeout is
// still meaningful.
func (m *Match) handleTimeout(msg timeoutMsg) {
	if m.ph != phaseAsking || msg.round != m.round {
		m.log.WithField("round", msg.round).Debug("stale round timer fired, ignoring")
		return
	}
	for name, p := range m.players {
		if p.answered {
			continue
		}
		p.answered = true
		p.score += TimeoutPenalty
		m.outcomes = append(m.outcomes, wire.RoundOutcome{
			Username: name,
			Cause:    wire.CauseTimedOut,
			Delta:    TimeoutPenalty,
		})
	}
	m.resolveRound()
}

func (m *Match) handleAdvance(msg advanceMsg) {
	if m.ph != phaseResolving || msg.round != m.round {
		return
	}
	m.nextQuestion()
}

func (m *Match) handleDisconnect(msg disconnectMsg) {
	p, ok := m.players[msg.username]
	if !ok {
		return
	}
	p.gone = true
	if m.ph == phaseAsking && !p.answered {
		p.answered = true
		p.score += TimeoutPenalty
		m.outcomes = append(m.outcomes, wire.RoundOutcome{
			Username: msg.username,
			Cause:    wire.CauseDisconnected,
			Delta:    TimeoutPenalty,
		})
		m.log.WithField("username", msg.username).Info("player disconnected mid-round, charged timeout penalty")
		m.maybeResolve()
	}
}

func (m *Match) handleAttach(msg attachMsg) {
	p, ok := m.players[msg.username]
	if !ok {
		msg.reply <- ErrUnknownPlayer
		return
	}
	p.conn = msg.conn
	p.gone = false
	msg.reply <- nil
}

// maybeResolve closes the round once every player has answered, beating the
// timer to it.
func (m *Match) maybeResolve() {
	if m.ph != phaseAsking {
		return
	}
	for _, p := range m.players {
		if !p.answered {
			return
		}
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.resolveRound()
}

// resolveRound emits the aggregated summary, then pauses briefly before the
// next question.
func (m *Match) resolveRound() {
	m.ph = phaseResolving
	m.current = nil
	m.timer = nil

	summary := make([]wire.RoundOutcome, len(m.outcomes))
	copy(summary, m.outcomes)
	m.emit(wire.Event{
		Type:     wire.EventRoundSummary,
		MatchID:  m.cfg.ID,
		Outcomes: summary,
	})

	round := m.round
	m.pause = time.AfterFunc(m.cfg.RoundPause, func() {
		m.post(advanceMsg{round: round})
	})
}

// finish persists every player's total through both sinks exactly once,
// announces the result when the match ran to completion, and terminates the
// actor.
func (m *Match) finish(announce bool) {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.pause != nil {
		m.pause.Stop()
		m.pause = nil
	}
	m.ph = phaseFinished

	scores := make(map[string]int, len(m.players))
	for name, p := range m.players {
		scores[name] = p.score
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for name, p := range m.players {
		if m.cfg.Scores != nil {
			if err := m.cfg.Scores.UpdateScore(ctx, name, p.score); err != nil {
				m.log.WithError(err).WithField("username", name).Error("score update failed")
			}
		}
		if m.cfg.History != nil {
			if err := m.cfg.History.SaveResult(ctx, name, m.cfg.Category, p.score); err != nil {
				m.log.WithError(err).WithField("username", name).Error("history append failed")
			}
		}
	}

	if announce {
		m.emit(wire.Event{
			Type:    wire.EventMatchFinished,
			MatchID: m.cfg.ID,
			Scores:  scores,
		})
	}
	m.log.WithField("scores", scores).Info("match finished")
}

func (m *Match) emit(ev wire.Event) {
	if m.cfg.Emit != nil {
		m.cfg.Emit(ev)
		return
	}
	for _, p := range m.players {
		if p.conn != nil {
			p.conn.Send(ev)
		}
	}
}
