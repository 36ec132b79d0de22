// Package transport implements the byte channels over which the bridge
// host serves its gamemode client.
//
// A transport owns a listening socket for the lifetime of the host and
// serves at most one client session at a time. Connections are accepted in
// the background and claimed through Connect, so a freshly accepted client
// can sit pending while a previous session winds down. Inbound frames are
// buffered off a dedicated read goroutine, which makes Receive a
// non-blocking poll suitable for the host's frame loop.
//
// A transport never tears down its own session when the stream fails. It
// reports the failure to its Owner and keeps IsConnected answering true
// until the owner reconciles the state, giving the owner a chance to run
// its own cleanup against a transport that still looks attached.
package transport

// Status is the outcome of a single receive attempt.
type Status int

const (
	// Received indicates a frame was pulled off the stream.
	Received Status = iota
	// NoCommand indicates no complete frame has arrived yet.
	NoCommand
	// ConnDead indicates there is no usable client connection.
	ConnDead
)

// Owner is the party served by a Transport. It is notified with
// expected=false when an established session fails underneath it.
type Owner interface {
	Disconnect(reason string, expected bool)
}

// Transport moves framed commands between the host and a single gamemode
// client. Implementations are driven from the host's frame loop and are
// not safe for concurrent use.
type Transport interface {
	// Setup binds the listening socket and registers the owner. It is
	// idempotent and reports whether the transport is usable.
	Setup(owner Owner) bool
	// IsReady returns whether Setup has successfully bound the listener.
	IsReady() bool
	// Connect claims a pending client connection if one has been
	// accepted, reporting whether a session is now live.
	Connect() bool
	// IsConnected returns whether a client session is attached. This
	// remains true after a stream failure until the owner reconciles.
	IsConnected() bool
	// Disconnect closes the attached session, if any.
	Disconnect()
	// Send writes one framed command to the attached client.
	Send(command byte, payload []byte) error
	// Receive polls for one inbound frame without blocking. The payload
	// is freshly allocated and owned by the caller.
	Receive() (byte, []byte, Status)
}
