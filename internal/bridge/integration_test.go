package bridge

import (
	"encoding/binary"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/gmbridge/gmbridge/internal/callbacks"
	"github.com/gmbridge/gmbridge/internal/core/bytes"
	"github.com/gmbridge/gmbridge/internal/natives"
	"github.com/gmbridge/gmbridge/internal/protocol"
	"github.com/gmbridge/gmbridge/internal/transport"
)

// TestServerOverTCP runs a full session against a scripted gamemode
// client on a loopback socket: announce, callback registration, start,
// public calls with return values, and a native lookup and invocation.
func TestServerOverTCP(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	tp := transport.NewTCP(logger, "127.0.0.1:0")

	nat := natives.NewRegistry(logger)
	nat.Register("GetTickCount", func(*natives.Call) int32 { return 1000 })

	game := &fakeGame{}
	srv := New(logger, tp, nat, callbacks.NewRegistry(logger), game)
	srv.Start()
	defer tp.Close()

	srv.PublicCall(eventGameModeInit, nil)

	clientDone := make(chan error, 1)
	go func() {
		clientDone <- runScriptedClient(tp.Addr())
	}()

	// Frame the server until the client has attached and started.
	waitForServer(t, srv, func() bool {
		return srv.IsClientConnected() && srv.status.clientStarted
	})

	var retval int32
	srv.PublicCall(eventGameModeInit, &retval)
	if retval != 42 {
		t.Errorf("init retval = %d, want 42", retval)
	}
	srv.PublicCall("OnPlayerConnect", nil, int32(3), "Kalcor")

	// Keep framing while the client runs its native exchange.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-clientDone:
			if err != nil {
				t.Fatalf("client script failed: %v", err)
			}
			if len(game.printed) != 1 || game.printed[0] != "loaded" {
				t.Errorf("game console got %q, want [loaded]", game.printed)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for the client script")
		default:
			srv.Tick()
			time.Sleep(time.Millisecond)
		}
	}
}

func waitForServer(t *testing.T, srv *Server, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the client to attach")
		}
		srv.Tick()
		time.Sleep(time.Millisecond)
	}
}

// runScriptedClient speaks the client half of the session and reports the
// first deviation from the expected exchange.
func runScriptedClient(addr net.Addr) error {
	conn, err := net.Dial(addr.Network(), addr.String())
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return err
	}

	command, payload, err := protocol.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("reading announce: %w", err)
	}
	if command != protocol.AnnounceType || len(payload) != 8 {
		return fmt.Errorf("first frame = %s w/%d data, want an 8 byte announce",
			protocol.Name(command), len(payload))
	}
	if version := binary.LittleEndian.Uint32(payload[:4]); version != protocol.ProtocolVersion {
		return fmt.Errorf("announced protocol version = %d, want %d", version, protocol.ProtocolVersion)
	}

	subscriptions := registration(
		"OnGameModeInit", "",
		"OnPlayerConnect", "ds",
	)
	if err := protocol.WriteFrame(conn, protocol.RegisterCallType, subscriptions); err != nil {
		return err
	}
	if err := protocol.WriteFrame(conn, protocol.PrintType, []byte("loaded\x00")); err != nil {
		return err
	}
	if err := protocol.WriteFrame(conn, protocol.StartType, []byte{protocol.StartNone}); err != nil {
		return err
	}

	// The synthesized init call arrives first and wants a value back.
	name, args, err := readPublicCall(conn)
	if err != nil {
		return err
	}
	if name != "OnGameModeInit" || len(args) != 0 {
		return fmt.Errorf("first call = %s w/%d args data, want a bare OnGameModeInit", name, len(args))
	}
	reply := append([]byte{0x01}, bytes.AppendInt32(nil, 42)...)
	if err := protocol.WriteFrame(conn, protocol.ResponseType, reply); err != nil {
		return err
	}

	name, args, err = readPublicCall(conn)
	if err != nil {
		return err
	}
	if name != "OnPlayerConnect" {
		return fmt.Errorf("second call = %s, want OnPlayerConnect", name)
	}
	expectedArgs := bytes.AppendCString(bytes.AppendInt32(nil, 3), "Kalcor")
	if diff := cmp.Diff(expectedArgs, args); diff != "" {
		return fmt.Errorf("OnPlayerConnect args mismatch; diff:\n%s", diff)
	}
	if err := protocol.WriteFrame(conn, protocol.ResponseType, []byte{0x00}); err != nil {
		return err
	}

	// Look the native up by name, then invoke it through its handle.
	if err := protocol.WriteFrame(conn, protocol.FindNativeType, []byte("GetTickCount\x00")); err != nil {
		return err
	}
	handleReply, err := readResponse(conn)
	if err != nil {
		return err
	}
	if len(handleReply) != 4 {
		return fmt.Errorf("find native reply is %d bytes, want 4", len(handleReply))
	}
	handle := int32(binary.LittleEndian.Uint32(handleReply))
	if handle == natives.HandleNotFound {
		return fmt.Errorf("GetTickCount was not found on the host")
	}

	request := bytes.AppendCString(bytes.AppendInt32(nil, handle), "")
	if err := protocol.WriteFrame(conn, protocol.InvokeNativeType, request); err != nil {
		return err
	}
	invokeReply, err := readResponse(conn)
	if err != nil {
		return err
	}
	if diff := cmp.Diff(bytes.AppendInt32(nil, 1000), invokeReply); diff != "" {
		return fmt.Errorf("invoke reply mismatch; diff:\n%s", diff)
	}

	return nil
}

// readPublicCall reads frames until a public call arrives, skipping the
// heartbeat ticks interleaved with it.
func readPublicCall(conn net.Conn) (string, []byte, error) {
	for {
		command, payload, err := protocol.ReadFrame(conn)
		if err != nil {
			return "", nil, err
		}
		switch command {
		case protocol.TickType:
			continue
		case protocol.PublicCallType:
			name, args, ok := bytes.ReadCString(payload)
			if !ok {
				return "", nil, fmt.Errorf("public call payload carries no name")
			}
			return name, args, nil
		default:
			return "", nil, fmt.Errorf("unexpected %s while waiting for a public call",
				protocol.Name(command))
		}
	}
}

func readResponse(conn net.Conn) ([]byte, error) {
	for {
		command, payload, err := protocol.ReadFrame(conn)
		if err != nil {
			return nil, err
		}
		switch command {
		case protocol.TickType:
			continue
		case protocol.ResponseType:
			return payload, nil
		default:
			return nil, fmt.Errorf("unexpected %s while waiting for a response",
				protocol.Name(command))
		}
	}
}
