package bridge

import (
	"encoding/binary"

	"github.com/gmbridge/gmbridge/internal/protocol"
)

// Events with protocol-level meaning: the init and exit events bracket a
// game mode's lifetime and gate when every other event may flow.
const (
	eventGameModeInit = "OnGameModeInit"
	eventGameModeExit = "OnGameModeExit"
)

// PublicCall forwards a gamemode event to the client and blocks until the
// client answers. A client that declared a return value for the event
// writes it through retval when retval is non-nil; otherwise retval is
// left untouched.
//
// Events other than mode init are suppressed until the client has been
// handed the init event, so a mid-mode client never observes gameplay
// before the mode exists from its point of view.
func (s *Server) PublicCall(name string, retval *int32, args ...interface{}) {
	isInit := name == eventGameModeInit
	isExit := name == eventGameModeExit

	// The mode lifetime flags move even with no client attached, so a
	// later client can be told whether a mode is already running.
	if isInit {
		s.status.serverReceivedInit = true
	} else if isExit {
		s.status.serverReceivedInit = false
	}

	if !s.IsClientConnected() || !s.status.clientStarted {
		return
	}

	if isInit {
		s.status.clientReceivedInit = true
	} else if !s.status.clientReceivedInit {
		return
	}

	payload := s.callbacks.FillCallBuffer(name, args)
	if payload == nil {
		return
	}

	publicCalls.Inc()
	s.send(protocol.PublicCallType, payload)

	reply, ok := s.receiveUnhandled()
	if !ok || len(reply) == 0 {
		s.logger.Errorf("received no response to callback %s", name)
		return
	}

	// The first reply byte flags whether the client produced a value for
	// this call; the value itself follows it.
	if retval != nil && len(reply) >= 5 && reply[0] != 0 {
		*retval = int32(binary.LittleEndian.Uint32(reply[1:5]))
	}
}

// sendFakeInit hands a client that attached mid-mode a synthesized init
// event and waits for its acknowledgement before the frame loop resumes.
func (s *Server) sendFakeInit() {
	payload := s.callbacks.FillCallBuffer(eventGameModeInit, nil)
	if payload == nil {
		return
	}

	s.send(protocol.PublicCallType, payload)

	if reply, ok := s.receiveUnhandled(); !ok || len(reply) == 0 {
		s.logger.Errorf("received no response to callback %s", eventGameModeInit)
	}
}
