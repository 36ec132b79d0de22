// Package protocol defines the framed command protocol spoken between the
// bridge host and the out-of-process gamemode client.
//
// Every message on the wire is a frame: a one byte command identifier, the
// payload length as a little-endian uint32, and the payload itself. Command
// identifiers are split into two ranges. The request range carries messages
// the receiving side is expected to act on (ping, print, native lookups and
// so on) while the notification range carries one-way messages and the
// server-initiated traffic (ticks, public calls, the version announcement).
//
// ResponseType is special: it belongs to neither dispatch table. A frame
// with an identifier outside the request range is treated by the receiver
// as the answer to whatever request it has outstanding, and both sides use
// ResponseType for exactly that purpose.
package protocol

import "fmt"

// Command identifiers the host dispatches on when sent by the client.
const (
	PingType         = 0x01
	PrintType        = 0x02
	ResponseType     = 0x03
	ReconnectType    = 0x04
	RegisterCallType = 0x05
	FindNativeType   = 0x06
	InvokeNativeType = 0x07
	StartType        = 0x08
)

// Command identifiers sent by the host outside of a request/response pair.
const (
	TickType       = 0x11
	PongType       = 0x12
	PublicCallType = 0x13
	ReplyType      = 0x14
	AnnounceType   = 0x15
)

// Start methods a client can request in the payload of StartType.
const (
	StartNone    = 0x00
	StartGmx     = 0x01
	StartFakeGmx = 0x02
)

// MaxPayloadSize is the largest payload either peer may place in a single
// frame. Anything larger indicates a corrupt stream.
const MaxPayloadSize = 20000

// FrameHeaderSize is the number of bytes preceding every payload: the
// command identifier plus the payload length.
const FrameHeaderSize = 5

// ProtocolVersion is bumped whenever the traffic described by this package
// changes incompatibly.
const ProtocolVersion = 1

// Components of the host version reported in the announcement frame.
const (
	VersionMajor = 0
	VersionMinor = 11
	VersionPatch = 2
)

// BuildVersion packs the host version into the single value carried by the
// announcement frame.
const BuildVersion = VersionMajor<<16 | VersionMinor<<8 | VersionPatch

// Announce is the body of the AnnounceType frame sent to every freshly
// connected client.
type Announce struct {
	ProtocolVersion uint32
	BuildVersion    uint32
}

var commandNames = map[byte]string{
	PingType:         "ping",
	PrintType:        "print",
	ResponseType:     "response",
	ReconnectType:    "reconnect",
	RegisterCallType: "register_call",
	FindNativeType:   "find_native",
	InvokeNativeType: "invoke_native",
	StartType:        "start",
	TickType:         "tick",
	PongType:         "pong",
	PublicCallType:   "public_call",
	ReplyType:        "reply",
	AnnounceType:     "announce",
}

// IsRequest returns whether the identifier falls in the client request
// range the host dispatches on.
func IsRequest(command byte) bool {
	return command >= PingType && command <= StartType
}

// Name returns a printable name for a command identifier for use in logs.
func Name(command byte) string {
	if name, ok := commandNames[command]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", command)
}
