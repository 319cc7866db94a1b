package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"

	"github.com/quizgrid/quizgrid/internal/lobby"
	"github.com/quizgrid/quizgrid/internal/match"
	"github.com/quizgrid/quizgrid/internal/wire"
)

// clientCommand is one inbound message on the match socket.
type clientCommand struct {
	Type   string `json:"type"` // start | cancel | leave | answer
	Option string `json:"option,omitempty"`
}

// MatchWSHandler upgrades /match/ws/{id}, registers the user's session,
// joins them into the match unit and pumps events/commands until the
// socket closes. Closing the socket is the liveness signal: the lobby's
// watch on the conn removes the player.
func (s *Server) MatchWSHandler(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/match/ws/")
	matchID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || matchID <= 0 {
		http.Error(w, "invalid match id", http.StatusBadRequest)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"quiz"},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Log.WithError(err).Warn("websocket accept failed")
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != "quiz" {
		c.Close(BadSubprotocolError, "client must speak the quiz subprotocol")
		return
	}

	username, err := s.requireUser(r)
	if err != nil {
		c.Close(InvalidAuthTokenError, "authentication failed")
		return
	}

	log := s.Log.WithFields(logrus.Fields{"username": username, "match": matchID})
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := wire.NewChanConn(32, log)
	defer conn.Close()

	if err := s.Sessions.Attach(ctx, username, conn); err != nil {
		c.Close(websocket.StatusInternalError, "session registration failed")
		return
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.Sessions.Disconnect(dctx, username)
		dcancel()
	}()

	lob, isLobby := s.Sup.Lookup(matchID)
	single, isSingle := s.Sup.LookupSingle(matchID)
	switch {
	case isLobby:
		if err := lob.Join(username, conn); err != nil {
			log.WithError(err).Info("join rejected")
			c.Close(JoinRejectedError, err.Error())
			return
		}
	case isSingle:
		if err := single.Attach(username, conn); err != nil {
			log.WithError(err).Info("attach rejected")
			c.Close(JoinRejectedError, err.Error())
			return
		}
		single.Begin()
	default:
		c.Close(InvalidMatchIDError, "match does not exist")
		return
	}

	log.Info("client connected to match")
	go s.writePump(ctx, c, conn, log)
	s.readPump(ctx, c, username, lob, single, log)
	log.Info("client left match")
}

// writePump drains the conn's out channel onto the socket.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, conn *wire.ChanConn, log *logrus.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-conn.Out:
			if err := wsjson.Write(ctx, c, ev); err != nil {
				log.WithError(err).Debug("write pump stopped")
				return
			}
		}
	}
}

// readPump handles inbound commands until the socket closes or the player
// leaves.
func (s *Server) readPump(ctx context.Context, c *websocket.Conn, username string, lob *lobby.Lobby, single *match.Match, log *logrus.Entry) {
	for {
		var cmd clientCommand
		if err := wsjson.Read(ctx, c, &cmd); err != nil {
			log.WithError(err).Debug("read pump stopped")
			return
		}

		switch cmd.Type {
		case "start":
			if lob == nil {
				continue
			}
			if err := lob.Start(username); err != nil {
				s.sendError(ctx, c, err)
			}
		case "cancel":
			if lob != nil {
				if err := lob.Cancel(username); err != nil {
					s.sendError(ctx, c, err)
				}
				continue
			}
			single.Stop()
		case "leave":
			if lob != nil {
				lob.Leave(username)
			}
			return
		case "answer":
			if lob != nil {
				lob.SubmitAnswer(username, cmd.Option)
				continue
			}
			single.SubmitAnswer(username, cmd.Option)
		default:
			log.WithField("command", cmd.Type).Debug("unknown command, ignoring")
		}
	}
}

func (s *Server) sendError(ctx context.Context, c *websocket.Conn, err error) {
	ev := wire.Event{
		Type:    wire.EventError,
		Payload: map[string]interface{}{"message": err.Error()},
	}
	if werr := wsjson.Write(ctx, c, ev); werr != nil && !errors.Is(werr, context.Canceled) {
		s.Log.WithError(werr).Debug("error event write failed")
	}
}
