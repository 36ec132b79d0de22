package bridge

import "github.com/gmbridge/gmbridge/internal/protocol"

// Tick runs once per server frame. It heartbeats a fully attached client,
// then drains every command the client sent since the last frame without
// blocking. A reply surfacing here has no request waiting on it, which
// means the session is out of sync; it is logged and dropped.
func (s *Server) Tick() {
	if s.IsClientConnected() && s.status.clientStarted && s.status.clientReceivedInit {
		s.send(protocol.TickType, nil)
	}

	for {
		res, reply := s.receiveOne()
		if res == unhandled && len(reply) > 0 {
			s.logger.Error("unhandled response in tick")
			desyncReplies.Inc()
		}
		if res == noCommand || res == connDead {
			return
		}
	}
}
