// Package session tracks which users are currently connected and how to
// reach their client conn. The registry is a single actor owning one table;
// every request is serialized through its inbox, so there is no locking and
// no partial state.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quizgrid/quizgrid/internal/wire"
)

var ErrNotConnected = errors.New("user is not connected")

// Authenticator validates credentials on connect. Implementations decide
// the failure error; the registry propagates it untouched.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) error
}

// AuthFunc adapts a function to the Authenticator interface.
type AuthFunc func(ctx context.Context, username, password string) error

func (f AuthFunc) Authenticate(ctx context.Context, username, password string) error {
	return f(ctx, username, password)
}

// Session is one connected user.
type Session struct {
	Username    string
	Conn        wire.Conn
	ConnectedAt time.Time
}

type request interface{}

type attachReq struct {
	username string
	conn     wire.Conn
	reply    chan struct{}
}
type disconnectReq struct {
	username string
	reply    chan error
}
type onlineReq struct {
	username string
	reply    chan bool
}
type listReq struct{ reply chan []string }

// Registry is the connected-users actor. One instance serves the whole
// node; it is reachable through the server wiring the same way matches are
// reachable through the supervisor.
type Registry struct {
	auth  Authenticator
	log   *logrus.Entry
	inbox chan request
	quit  chan struct{}

	// Owned by the run goroutine.
	sessions map[string]*Session
}

func NewRegistry(auth Authenticator, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Registry{
		auth:     auth,
		log:      logrus.NewEntry(log).WithField("component", "sessions"),
		inbox:    make(chan request, 64),
		quit:     make(chan struct{}),
		sessions: make(map[string]*Session),
	}
	go r.run()
	return r
}

// Close stops the actor. Pending requests are abandoned.
func (r *Registry) Close() { close(r.quit) }

func (r *Registry) run() {
	for {
		select {
		case <-r.quit:
			return
		case req := <-r.inbox:
			switch t := req.(type) {
			case attachReq:
				// A second connect for an online user silently overwrites
				// the prior entry.
				if _, ok := r.sessions[t.username]; ok {
					r.log.WithField("username", t.username).Info("replacing existing session")
				}
				r.sessions[t.username] = &Session{
					Username:    t.username,
					Conn:        t.conn,
					ConnectedAt: time.Now(),
				}
				t.reply <- struct{}{}
			case disconnectReq:
				if _, ok := r.sessions[t.username]; !ok {
					t.reply <- ErrNotConnected
					continue
				}
				delete(r.sessions, t.username)
				t.reply <- nil
			case onlineReq:
				_, ok := r.sessions[t.username]
				t.reply <- ok
			case listReq:
				names := make([]string, 0, len(r.sessions))
				for name := range r.sessions {
					names = append(names, name)
				}
				t.reply <- names
			}
		}
	}
}

// Connect authenticates and registers a user. Authentication runs before
// the table update so the actor itself never blocks on I/O.
func (r *Registry) Connect(ctx context.Context, username, password string, conn wire.Conn) error {
	if err := r.auth.Authenticate(ctx, username, password); err != nil {
		return fmt.Errorf("connect %s: %w", username, err)
	}
	return r.Attach(ctx, username, conn)
}

// Attach registers a user that a transport already authenticated (e.g. a
// verified JWT on a WebSocket upgrade).
func (r *Registry) Attach(ctx context.Context, username string, conn wire.Conn) error {
	reply := make(chan struct{}, 1)
	select {
	case r.inbox <- attachReq{username: username, conn: conn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		r.log.WithField("username", username).Info("user connected")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect removes a user's session.
func (r *Registry) Disconnect(ctx context.Context, username string) error {
	reply := make(chan error, 1)
	select {
	case r.inbox <- disconnectReq{username: username, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		if err == nil {
			r.log.WithField("username", username).Info("user disconnected")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsOnline reports whether the user has a live session.
func (r *Registry) IsOnline(ctx context.Context, username string) bool {
	reply := make(chan bool, 1)
	select {
	case r.inbox <- onlineReq{username: username, reply: reply}:
	case <-ctx.Done():
		return false
	}
	select {
	case online := <-reply:
		return online
	case <-ctx.Done():
		return false
	}
}

// ListOnline returns the usernames of all connected users.
func (r *Registry) ListOnline(ctx context.Context) []string {
	reply := make(chan []string, 1)
	select {
	case r.inbox <- listReq{reply: reply}:
	case <-ctx.Done():
		return nil
	}
	select {
	case names := <-reply:
		return names
	case <-ctx.Done():
		return nil
	}
}
