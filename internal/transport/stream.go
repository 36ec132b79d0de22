package transport

import (
	"errors"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/gmbridge/gmbridge/internal/protocol"
)

// ErrNotConnected is returned by Send when no client session is attached.
var ErrNotConnected = errors.New("no gamemode client is connected")

// frameBacklog bounds how many decoded frames the read pump may buffer
// ahead of the host's frame loop before backpressure reaches the socket.
const frameBacklog = 64

// frame is a single decoded inbound command.
type frame struct {
	command byte
	payload []byte
}

// session holds the state of one attached client. The read pump goroutine
// owns all reads from conn. It closes dead after recording the failure
// reason, and the transport closes quit to release a pump blocked on a
// full frame buffer.
type session struct {
	conn   net.Conn
	frames chan frame
	dead   chan struct{}
	quit   chan struct{}
	reason string
}

// stream implements the connection handling shared by the tcp and unix
// socket transports. The specific transports only differ in how they bind
// their listeners.
type stream struct {
	name    string
	logger  *logrus.Logger
	listen  func() (net.Listener, error)
	owner   Owner
	socket  net.Listener
	pending chan net.Conn
	session *session
}

func (s *stream) Setup(owner Owner) bool {
	s.owner = owner

	if s.socket != nil {
		return true
	}

	socket, err := s.listen()
	if err != nil {
		s.logger.Errorf("[%s] error creating socket: %s", s.name, err)
		return false
	}

	s.logger.Infof("[%s] waiting for a gamemode client on %v", s.name, socket.Addr())
	s.socket = socket
	s.pending = make(chan net.Conn, 1)
	go s.startAcceptLoop(socket, s.pending)

	return true
}

// startAcceptLoop accepts connections for the life of the listening socket
// and holds at most one of them for the owner to claim. Connections beyond
// the pending one are dropped since only a single gamemode client is
// served at a time.
func (s *stream) startAcceptLoop(socket net.Listener, pending chan net.Conn) {
	for {
		connection, err := socket.Accept()
		if err != nil {
			// The listener was closed out from under us; time to go.
			return
		}

		select {
		case pending <- connection:
			s.logger.Infof("[%s] accepted connection from %s", s.name, connection.RemoteAddr())
		default:
			s.logger.Warnf("[%s] rejected connection from %s: a client is already attached",
				s.name, connection.RemoteAddr())
			_ = connection.Close()
		}
	}
}

func (s *stream) IsReady() bool {
	return s.socket != nil
}

func (s *stream) Connect() bool {
	if s.session != nil {
		return true
	}

	select {
	case connection := <-s.pending:
		sess := &session{
			conn:   connection,
			frames: make(chan frame, frameBacklog),
			dead:   make(chan struct{}),
			quit:   make(chan struct{}),
		}
		s.session = sess
		go s.readPump(sess)
		return true
	default:
		return false
	}
}

// readPump decodes frames off the connection until the stream fails, then
// records why and signals the failure through the session's dead channel.
func (s *stream) readPump(sess *session) {
	for {
		command, payload, err := protocol.ReadFrame(sess.conn)
		if err != nil {
			sess.reason = describeStreamFailure(err)
			close(sess.dead)
			return
		}

		select {
		case sess.frames <- frame{command: command, payload: payload}:
		case <-sess.quit:
			return
		}
	}
}

// describeStreamFailure maps a read error to the reason handed to the
// owner's disconnect handling.
func describeStreamFailure(err error) string {
	switch {
	case errors.Is(err, io.EOF):
		return "client closed the connection"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "client closed the connection mid frame"
	default:
		return err.Error()
	}
}

func (s *stream) IsConnected() bool {
	return s.session != nil
}

func (s *stream) Disconnect() {
	sess := s.session
	if sess == nil {
		return
	}

	s.session = nil
	close(sess.quit)
	if err := sess.conn.Close(); err != nil {
		s.logger.Debugf("[%s] error closing client connection: %s", s.name, err)
	}
}

func (s *stream) Send(command byte, payload []byte) error {
	sess := s.session
	if sess == nil {
		return ErrNotConnected
	}

	if err := protocol.WriteFrame(sess.conn, command, payload); err != nil {
		// An oversize payload is the caller's mistake and never reaches
		// the wire, so it must not bring the session down.
		if !errors.Is(err, protocol.ErrOversizePayload) {
			s.failSession(sess, err.Error())
		}
		return err
	}
	return nil
}

func (s *stream) Receive() (byte, []byte, Status) {
	sess := s.session
	if sess == nil {
		return 0, nil, ConnDead
	}

	// Frames buffered before a stream failure are still delivered in
	// order ahead of the failure itself.
	select {
	case f := <-sess.frames:
		return f.command, f.payload, Received
	default:
	}

	select {
	case <-sess.dead:
		s.failSession(sess, sess.reason)
		return 0, nil, ConnDead
	default:
		return 0, nil, NoCommand
	}
}

// failSession reports a dead session to the owner, who is expected to
// reconcile by calling Disconnect. If no owner does, the session is torn
// down directly so the transport can accept a replacement client.
func (s *stream) failSession(sess *session, reason string) {
	if s.owner != nil {
		s.owner.Disconnect(reason, false)
	}
	if s.session == sess {
		s.Disconnect()
	}
}

// Close shuts down the listening socket and any attached session. The
// transport cannot be reused afterward.
func (s *stream) Close() {
	s.Disconnect()
	if s.socket != nil {
		_ = s.socket.Close()
		s.socket = nil
	}
}

// Addr returns the bound listener address, or nil before Setup succeeds.
func (s *stream) Addr() net.Addr {
	if s.socket == nil {
		return nil
	}
	return s.socket.Addr()
}
