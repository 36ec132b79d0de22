package bridge

import (
	"time"

	"github.com/gmbridge/gmbridge/internal/core/bytes"
	"github.com/gmbridge/gmbridge/internal/core/debug"
	"github.com/gmbridge/gmbridge/internal/protocol"
	"github.com/gmbridge/gmbridge/internal/transport"
)

// result classifies one attempt to pull a command off the transport.
type result int

const (
	// handled: a request was dispatched to its handler.
	handled result = iota
	// unhandled: the frame was no request at all. Its payload belongs to
	// whichever drain is waiting on an application-level reply.
	unhandled
	// noCommand: nothing was pending on the transport.
	noCommand
	// connDead: there is no usable client connection.
	connDead
)

// replyPollInterval is how long a drain backs off when the client has not
// answered yet.
const replyPollInterval = 500 * time.Microsecond

// receiveOne pulls at most one command off the transport and dispatches
// it. The returned payload is meaningful only for the unhandled outcome,
// where it carries an application-level reply owned by the caller.
func (s *Server) receiveOne() (result, []byte) {
	if !s.Connect() {
		return connDead, nil
	}

	command, payload, status := s.transport.Receive()
	switch status {
	case transport.ConnDead:
		return connDead, nil
	case transport.NoCommand:
		return noCommand, nil
	}

	framesReceived.WithLabelValues(protocol.Name(command)).Inc()
	if debug.FrameLoggingEnabled() {
		if len(payload) > 0 {
			s.logger.Debugf("recv %s w/%d data\n%s",
				protocol.Name(command), len(payload), debug.DumpFrame(payload))
		} else {
			s.logger.Debugf("recv %s", protocol.Name(command))
		}
	}
	if s.observer != nil {
		s.observer(command, payload, false)
	}

	return s.process(command, payload)
}

// receiveUnhandled drains commands until an application-level reply
// surfaces or the connection dies, reporting whether a reply was read.
// There is deliberately no timeout: a client that accepted a request but
// never answers holds the frame loop until the transport notices the
// stream is gone.
func (s *Server) receiveUnhandled() ([]byte, bool) {
	for {
		res, reply := s.receiveOne()
		switch res {
		case unhandled:
			return reply, true
		case connDead:
			return nil, false
		case noCommand:
			time.Sleep(replyPollInterval)
		}
	}
}

// process dispatches a single command to its request handler. Identifiers
// outside the request switch pass through as unhandled, which is how the
// client's replies reach the drain that asked for them.
func (s *Server) process(command byte, payload []byte) (result, []byte) {
	switch command {
	case protocol.PingType:
		s.handlePing()
	case protocol.PrintType:
		s.handlePrint(payload)
	case protocol.RegisterCallType:
		s.handleRegisterCall(payload)
	case protocol.FindNativeType:
		s.handleFindNative(payload)
	case protocol.InvokeNativeType:
		s.handleInvokeNative(payload)
	case protocol.ReconnectType:
		s.handleReconnect()
	case protocol.StartType:
		s.handleStart(payload)
	default:
		return unhandled, payload
	}
	return handled, nil
}

func (s *Server) handlePing() {
	s.send(protocol.PongType, nil)
}

// handlePrint forwards a line of gamemode output to the game console,
// dropping the padding the client sends along with it.
func (s *Server) handlePrint(payload []byte) {
	s.game.Print(bytes.DecodeGameText(bytes.StripPadding(payload)))
}

func (s *Server) handleRegisterCall(payload []byte) {
	s.logger.Debugf("registering callbacks w/%d data", len(payload))
	s.callbacks.RegisterBuffer(payload)
}

// handleFindNative answers a native name lookup with its handle, or -1
// when nothing is registered under the name.
func (s *Server) handleFindNative(payload []byte) {
	name := string(bytes.StripPadding(payload))
	handle := s.natives.Handle(name)
	s.logger.Debugf("find native %s = %d", name, handle)
	s.send(protocol.ResponseType, bytes.AppendInt32(nil, handle))
}

func (s *Server) handleInvokeNative(payload []byte) {
	nativeInvocations.Inc()
	s.send(protocol.ResponseType, s.natives.Invoke(payload))
}

// handleReconnect honors the client's request to drop the session while
// keeping its registries, marking the next attach as a resumption.
func (s *Server) handleReconnect() {
	s.logger.Info("gamemode client requested a reconnect")
	s.status.clientReconnecting = true
	reconnects.Inc()
	s.Disconnect("", true)
}

// handleStart marks the client fully attached and runs the start method
// it asked for. A client attaching while the game is already inside a
// mode can ask for a real mode restart or for a synthesized init event;
// a client that attached before any mode runs needs neither.
func (s *Server) handleStart(payload []byte) {
	s.logger.Info("the gamemode has started")
	s.status.clientStarted = true

	var mode byte
	if len(payload) > 0 {
		mode = payload[0]
	}

	switch mode {
	case protocol.StartNone:
		s.logger.Debug("using start method none")
	case protocol.StartGmx:
		s.logger.Debug("using start method gmx")
		if s.status.serverReceivedInit {
			s.game.Exec(restartCommand)
		}
	case protocol.StartFakeGmx:
		s.logger.Debug("using start method fake gmx")
		if s.status.serverReceivedInit {
			s.status.clientReceivedInit = true
			s.sendFakeInit()
		}
	default:
		s.logger.Errorf("invalid game mode start method %d", mode)
	}
}
