// Package bridge implements the host side of the gamemode bridge. A
// Server serves one out-of-process gamemode client over a Transport,
// dispatches the client's requests against the game server, and forwards
// gamemode events back to the client as public calls.
package bridge

import (
	"github.com/sirupsen/logrus"

	"github.com/gmbridge/gmbridge/internal/callbacks"
	"github.com/gmbridge/gmbridge/internal/core/bytes"
	"github.com/gmbridge/gmbridge/internal/core/debug"
	"github.com/gmbridge/gmbridge/internal/natives"
	"github.com/gmbridge/gmbridge/internal/protocol"
	"github.com/gmbridge/gmbridge/internal/transport"
)

// Game is the surface of the embedding game server the bridge calls back
// into on behalf of the gamemode client.
type Game interface {
	// Print writes a line of gamemode output to the server console.
	Print(text string)
	// Exec runs a server console command.
	Exec(command string)
}

// restartCommand is the console command that restarts the current game
// mode, re-firing the mode lifecycle events.
const restartCommand = "gmx"

// FrameObserver is handed a copy of every frame the server exchanges with
// its client. outbound reports the direction from the server's point of
// view. Observers run on the frame loop and must not block.
type FrameObserver func(command byte, payload []byte, outbound bool)

// Server drives one gamemode client session at a time. It is wired into
// the game server's frame loop through Tick and PublicCall and is not
// safe for concurrent use.
type Server struct {
	logger    *logrus.Logger
	transport transport.Transport
	natives   *natives.Registry
	callbacks *callbacks.Registry
	game      Game
	status    status
	observer  FrameObserver
}

func New(
	logger *logrus.Logger,
	tp transport.Transport,
	nat *natives.Registry,
	cb *callbacks.Registry,
	game Game,
) *Server {
	return &Server{
		logger:    logger,
		transport: tp,
		natives:   nat,
		callbacks: cb,
		game:      game,
	}
}

// Start binds the transport's listener so a gamemode client can attach.
func (s *Server) Start() {
	s.transport.Setup(s)
}

// Natives exposes the native function registry so the embedding game
// server can install its callable surface.
func (s *Server) Natives() *natives.Registry {
	return s.natives
}

// SetFrameObserver installs the observer frames are mirrored to, replacing
// any previous one. Set it before Start; the frame loop reads it unlocked.
func (s *Server) SetFrameObserver(observer FrameObserver) {
	s.observer = observer
}

// IsClientConnected returns whether a gamemode client is attached, as far
// as the server has been able to observe.
func (s *Server) IsClientConnected() bool {
	return s.transport.IsConnected() && s.status.clientConnected
}

// Connect claims a pending gamemode client if one has arrived. A fresh
// client is announced the host version; a reconnecting client skips the
// announcement since it already holds a session's worth of state.
func (s *Server) Connect() bool {
	if s.transport.IsConnected() {
		return true
	}
	if !s.transport.IsReady() && !s.transport.Setup(s) {
		return false
	}
	if !s.transport.Connect() {
		return false
	}

	s.status.clientConnected = true
	if s.status.clientReconnecting {
		s.logger.Info("gamemode client reconnected")
	} else {
		s.logger.Info("connected to gamemode client")
		s.sendAnnounce()
	}
	s.status.clientReconnecting = false

	return true
}

// Disconnect tears down the client session. An unexpected disconnect
// wipes the per-session registries since the client that populated them
// is gone for good; an expected one leaves them for the client's return.
func (s *Server) Disconnect(reason string, expected bool) {
	if !s.IsClientConnected() {
		return
	}

	if expected {
		s.logger.Info("gamemode client disconnected")
	} else {
		s.logger.Errorf("unexpected disconnect of gamemode client: %s", reason)
		s.status.clientStarted = false
		s.status.clientReceivedInit = false
		s.natives.Clear()
		s.callbacks.Clear()
		unexpectedDisconnects.Inc()
	}

	s.transport.Disconnect()
	s.transport.Setup(s)
	s.status.clientConnected = false
}

func (s *Server) sendAnnounce() {
	body, _ := bytes.BytesFromStruct(&protocol.Announce{
		ProtocolVersion: protocol.ProtocolVersion,
		BuildVersion:    protocol.BuildVersion,
	})
	s.send(protocol.AnnounceType, body)
}

// send pushes one frame to the client. Transport failures are logged and
// otherwise swallowed here; the failed session surfaces as ConnDead on
// the next receive.
func (s *Server) send(command byte, payload []byte) {
	if debug.FrameLoggingEnabled() {
		if len(payload) > 0 {
			s.logger.Debugf("send %s w/%d data\n%s",
				protocol.Name(command), len(payload), debug.DumpFrame(payload))
		} else {
			s.logger.Debugf("send %s", protocol.Name(command))
		}
	}

	framesSent.WithLabelValues(protocol.Name(command)).Inc()
	if s.observer != nil {
		s.observer(command, payload, true)
	}
	if err := s.transport.Send(command, payload); err != nil {
		s.logger.Errorf("error sending %s to the gamemode client: %v", protocol.Name(command), err)
	}
}
