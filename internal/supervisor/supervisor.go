// Package supervisor owns the lifecycle of every lobby and single-player
// match unit. Units are spawned as isolated goroutines with a one-shot
// policy: a finished or crashed unit is removed from the registry and never
// respawned. The id registry doubles as discovery: any caller resolves a
// running match by id through Lookup.
package supervisor

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quizgrid/quizgrid/internal/lobby"
	"github.com/quizgrid/quizgrid/internal/match"
	"github.com/quizgrid/quizgrid/internal/wire"
)

var (
	ErrNotFound    = errors.New("no such match")
	ErrMatchExists = errors.New("match id already in use")
)

// maxMatchID bounds the randomly drawn match ids. Ids are positive and
// caller-visible; a duplicate draw fails registration rather than clobber a
// live unit.
const maxMatchID = 1_000_000

// Spec carries the creation parameters for a lobby or single-player match.
type Spec struct {
	ID            int64 // 0 draws a random id
	Owner         string
	OwnerConn     wire.Conn
	Category      string
	QuestionCount int
	TimeLimit     time.Duration
	RoundPause    time.Duration
	IdleTimeout   time.Duration
}

type unit struct {
	lobby  *lobby.Lobby
	single *match.Match
}

// Supervisor tracks live units by match id.
type Supervisor struct {
	questions lobby.QuestionSource
	scores    match.ScoreSink
	history   match.HistorySink
	log       *logrus.Logger

	mu    sync.Mutex
	units map[int64]unit
}

func New(questions lobby.QuestionSource, scores match.ScoreSink, history match.HistorySink, log *logrus.Logger) *Supervisor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Supervisor{
		questions: questions,
		scores:    scores,
		history:   history,
		log:       log,
		units:     make(map[int64]unit),
	}
}

// CreateLobby builds a staging lobby, registers it and starts its actor.
// Construction failures (no questions, id collision) propagate to the
// caller with nothing registered.
func (s *Supervisor) CreateLobby(ctx context.Context, spec Spec) (*lobby.Lobby, error) {
	id := s.pickID(spec.ID)
	l, err := lobby.New(ctx, lobby.Config{
		ID:            id,
		Owner:         spec.Owner,
		OwnerConn:     spec.OwnerConn,
		Category:      spec.Category,
		QuestionCount: spec.QuestionCount,
		TimeLimit:     spec.TimeLimit,
		RoundPause:    spec.RoundPause,
		IdleTimeout:   spec.IdleTimeout,
		Questions:     s.questions,
		Scores:        s.scores,
		History:       s.history,
		Log:           logrus.NewEntry(s.log),
	})
	if err != nil {
		return nil, err
	}
	if err := s.register(id, unit{lobby: l}); err != nil {
		return nil, err
	}
	go s.runUnit(id, "lobby", l.Run)
	s.log.WithFields(logrus.Fields{"match": id, "owner": spec.Owner, "category": spec.Category}).Info("lobby created")
	return l, nil
}

// CreateSingle builds a single-player match with no staging phase. The
// match begins as soon as the owner's conn is present; otherwise the caller
// attaches a conn and calls Begin itself.
func (s *Supervisor) CreateSingle(ctx context.Context, spec Spec) (*match.Match, error) {
	qs, err := s.questions.RandomQuestions(ctx, spec.Category, spec.QuestionCount)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, lobby.ErrNoQuestions
	}
	id := s.pickID(spec.ID)
	m := match.New(match.Config{
		ID:         id,
		Category:   spec.Category,
		Single:     true,
		TimeLimit:  spec.TimeLimit,
		RoundPause: spec.RoundPause,
		Questions:  qs,
		Players:    map[string]wire.Conn{spec.Owner: spec.OwnerConn},
		Scores:     s.scores,
		History:    s.history,
		Log:        logrus.NewEntry(s.log),
	})
	if err := s.register(id, unit{single: m}); err != nil {
		return nil, err
	}
	go s.runUnit(id, "single", m.Run)
	if spec.OwnerConn != nil {
		m.Begin()
	}
	s.log.WithFields(logrus.Fields{"match": id, "owner": spec.Owner, "category": spec.Category}).Info("single-player match created")
	return m, nil
}

// Lookup resolves a match id to its lobby handle.
func (s *Supervisor) Lookup(id int64) (*lobby.Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok || u.lobby == nil {
		return nil, false
	}
	return u.lobby, true
}

// LookupSingle resolves a match id to a single-player match handle.
func (s *Supervisor) LookupSingle(id int64) (*match.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok || u.single == nil {
		return nil, false
	}
	return u.single, true
}

// List returns the ids of all live units, sorted.
func (s *Supervisor) List() []int64 {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.units))
	for id := range s.units {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stop tears down the unit with the given id, if it is still live.
func (s *Supervisor) Stop(id int64) error {
	s.mu.Lock()
	u, ok := s.units[id]
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if u.lobby != nil {
		u.lobby.Stop()
	}
	if u.single != nil {
		u.single.Stop()
	}
	return nil
}

func (s *Supervisor) pickID(requested int64) int64 {
	if requested > 0 {
		return requested
	}
	return rand.Int63n(maxMatchID) + 1
}

func (s *Supervisor) register(id int64, u unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.units[id]; exists {
		return ErrMatchExists
	}
	s.units[id] = u
	return nil
}

// runUnit isolates one unit's goroutine. A panic is contained here so a
// crash in one match never reaches its siblings or the supervisor; either
// way the registry entry is removed and never respawned.
func (s *Supervisor) runUnit(id int64, kind string, run func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{"match": id, "kind": kind, "panic": r}).Error("match unit crashed")
		}
		s.mu.Lock()
		delete(s.units, id)
		s.mu.Unlock()
		s.log.WithFields(logrus.Fields{"match": id, "kind": kind}).Debug("unit removed")
	}()
	run()
}
