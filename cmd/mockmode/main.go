// The mockmode command is a stand-in gamemode client for exercising a
// running bridge host. It attaches over the host's transport, runs the
// registration and start handshake, answers the host's events, and
// periodically invokes a host native so every request type sees traffic.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/gmbridge/gmbridge/internal/core/bytes"
	"github.com/gmbridge/gmbridge/internal/protocol"
)

var (
	network   = flag.String("network", "tcp", "Transport to dial: tcp or unix")
	address   = flag.String("address", "127.0.0.1:7777", "Host address, or the socket path for unix")
	startMode = flag.Int("start-mode", 2, "Start method to request: 0 none, 1 gmx, 2 fake gmx")
	pingEvery = flag.Int("ping-every", 1000, "Probe the host every this many ticks (0 disables)")
)

func main() {
	flag.Parse()

	conn, err := net.Dial(*network, *address)
	if err != nil {
		exit("error dialing the host: %v", err)
	}
	defer conn.Close()

	c := &client{conn: conn, tickHandle: -1}
	if err := c.attach(); err != nil {
		exit("error attaching to the host: %v", err)
	}
	if err := c.serve(); err != nil {
		exit("connection lost: %v", err)
	}
}

func exit(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}

type client struct {
	conn       net.Conn
	ticks      int
	calls      int32
	tickHandle int32
	pingSent   time.Time

	// probing suppresses nested probes while one is mid flight, since the
	// host keeps ticking us while we wait on a response.
	probing bool
}

// attach runs the session handshake: read the host's announcement,
// subscribe the events this client answers, request a start, and resolve
// the native the probe loop invokes.
func (c *client) attach() error {
	command, payload, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return err
	}
	if command != protocol.AnnounceType || len(payload) < 8 {
		return fmt.Errorf("expected an announce frame, got %s w/%d data",
			protocol.Name(command), len(payload))
	}
	version := binary.LittleEndian.Uint32(payload[:4])
	build := binary.LittleEndian.Uint32(payload[4:8])
	fmt.Printf("attached to host %d.%d.%d (protocol %d)\n",
		build>>16&0xFF, build>>8&0xFF, build&0xFF, version)

	subscriptions := bytes.AppendCString(nil, "OnGameModeInit")
	subscriptions = bytes.AppendCString(subscriptions, "")
	subscriptions = bytes.AppendCString(subscriptions, "OnGameModeExit")
	subscriptions = bytes.AppendCString(subscriptions, "")
	subscriptions = bytes.AppendCString(subscriptions, "OnPlayerConnect")
	subscriptions = bytes.AppendCString(subscriptions, "ds")
	if err := protocol.WriteFrame(c.conn, protocol.RegisterCallType, subscriptions); err != nil {
		return err
	}

	if err := protocol.WriteFrame(c.conn, protocol.PrintType, bytes.AppendCString(nil, "mockmode attached")); err != nil {
		return err
	}
	if err := protocol.WriteFrame(c.conn, protocol.StartType, []byte{byte(*startMode)}); err != nil {
		return err
	}

	reply, err := c.request(protocol.FindNativeType, bytes.AppendCString(nil, "GetTickCount"))
	if err != nil {
		return err
	}
	if len(reply) == 4 {
		c.tickHandle = int32(binary.LittleEndian.Uint32(reply))
	}
	fmt.Printf("GetTickCount handle: %d\n", c.tickHandle)

	return nil
}

// serve answers the host until the connection drops.
func (c *client) serve() error {
	for {
		command, payload, err := protocol.ReadFrame(c.conn)
		if err != nil {
			return err
		}
		if err := c.handle(command, payload); err != nil {
			return err
		}
	}
}

// request writes one request frame and reads until its response arrives,
// dispatching whatever the host interleaves before it.
func (c *client) request(command byte, payload []byte) ([]byte, error) {
	if err := protocol.WriteFrame(c.conn, command, payload); err != nil {
		return nil, err
	}
	for {
		replyCommand, replyPayload, err := protocol.ReadFrame(c.conn)
		if err != nil {
			return nil, err
		}
		if replyCommand == protocol.ResponseType {
			return replyPayload, nil
		}
		if err := c.handle(replyCommand, replyPayload); err != nil {
			return nil, err
		}
	}
}

func (c *client) handle(command byte, payload []byte) error {
	switch command {
	case protocol.TickType:
		return c.onTick()
	case protocol.PongType:
		fmt.Printf("pong after %v\n", time.Since(c.pingSent))
		return nil
	case protocol.PublicCallType:
		return c.onPublicCall(payload)
	default:
		fmt.Printf("unexpected %s w/%d data\n", protocol.Name(command), len(payload))
		return nil
	}
}

// onPublicCall acknowledges a forwarded gamemode event. Every event is
// answered with a running call count so the host sees a return value.
func (c *client) onPublicCall(payload []byte) error {
	name, args, ok := bytes.ReadCString(payload)
	if !ok {
		return fmt.Errorf("public call carries no event name")
	}
	c.calls++
	fmt.Printf("public call %s w/%d args data\n", name, len(args))

	reply := append([]byte{0x01}, bytes.AppendInt32(nil, c.calls)...)
	return protocol.WriteFrame(c.conn, protocol.ResponseType, reply)
}

func (c *client) onTick() error {
	c.ticks++
	if *pingEvery <= 0 || c.ticks%*pingEvery != 0 || c.probing {
		return nil
	}
	c.probing = true
	defer func() { c.probing = false }()

	c.pingSent = time.Now()
	if err := protocol.WriteFrame(c.conn, protocol.PingType, nil); err != nil {
		return err
	}

	if c.tickHandle < 0 {
		return nil
	}
	request := bytes.AppendCString(bytes.AppendInt32(nil, c.tickHandle), "")
	reply, err := c.request(protocol.InvokeNativeType, request)
	if err != nil {
		return err
	}
	if len(reply) == 4 {
		fmt.Printf("host tick count: %d\n", int32(binary.LittleEndian.Uint32(reply)))
	}
	return nil
}
