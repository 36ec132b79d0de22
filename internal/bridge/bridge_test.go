package bridge

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	logrustest "github.com/sirupsen/logrus/hooks/test"

	"github.com/gmbridge/gmbridge/internal/callbacks"
	"github.com/gmbridge/gmbridge/internal/core/bytes"
	"github.com/gmbridge/gmbridge/internal/natives"
	"github.com/gmbridge/gmbridge/internal/protocol"
	"github.com/gmbridge/gmbridge/internal/transport"
)

type fakeFrame struct {
	command byte
	payload []byte
}

// fakeTransport drives the server through exact scripted frame sequences.
// Frames queued on it are surfaced by Receive in order; once the queue
// runs dry it reports an idle or, with dieOnEmpty, a failed stream.
type fakeTransport struct {
	owner      transport.Owner
	ready      bool
	connected  bool
	pending    bool
	queue      []fakeFrame
	sent       []fakeFrame
	dieOnEmpty bool
	setupCalls int
	teardowns  int
}

func (f *fakeTransport) Setup(owner transport.Owner) bool {
	f.owner = owner
	f.ready = true
	f.setupCalls++
	return true
}

func (f *fakeTransport) IsReady() bool {
	return f.ready
}

func (f *fakeTransport) Connect() bool {
	if f.connected {
		return true
	}
	if !f.pending {
		return false
	}
	f.pending = false
	f.connected = true
	return true
}

func (f *fakeTransport) IsConnected() bool {
	return f.connected
}

func (f *fakeTransport) Disconnect() {
	if f.connected {
		f.connected = false
		f.teardowns++
	}
}

func (f *fakeTransport) Send(command byte, payload []byte) error {
	f.sent = append(f.sent, fakeFrame{command: command, payload: payload})
	return nil
}

func (f *fakeTransport) Receive() (byte, []byte, transport.Status) {
	if !f.connected {
		return 0, nil, transport.ConnDead
	}
	if len(f.queue) > 0 {
		next := f.queue[0]
		f.queue = f.queue[1:]
		return next.command, next.payload, transport.Received
	}
	if f.dieOnEmpty {
		if f.owner != nil {
			f.owner.Disconnect("stream failed", false)
		}
		f.Disconnect()
		return 0, nil, transport.ConnDead
	}
	return 0, nil, transport.NoCommand
}

func (f *fakeTransport) push(command byte, payload []byte) {
	f.queue = append(f.queue, fakeFrame{command: command, payload: payload})
}

func (f *fakeTransport) countSent(command byte) int {
	count := 0
	for _, frame := range f.sent {
		if frame.command == command {
			count++
		}
	}
	return count
}

func (f *fakeTransport) lastSent(t *testing.T) fakeFrame {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("the server sent no frames")
	}
	return f.sent[len(f.sent)-1]
}

type fakeGame struct {
	printed []string
	execed  []string
}

func (g *fakeGame) Print(text string) {
	g.printed = append(g.printed, text)
}

func (g *fakeGame) Exec(command string) {
	g.execed = append(g.execed, command)
}

func newTestServer() (*Server, *fakeTransport, *fakeGame, *logrustest.Hook) {
	logger, hook := logrustest.NewNullLogger()
	tr := &fakeTransport{}
	game := &fakeGame{}
	srv := New(logger, tr, natives.NewRegistry(logger), callbacks.NewRegistry(logger), game)
	srv.Start()
	return srv, tr, game, hook
}

func attachClient(t *testing.T, srv *Server, tr *fakeTransport) {
	t.Helper()
	tr.pending = true
	if !srv.Connect() {
		t.Fatal("Connect() failed to claim the pending client")
	}
}

func logged(hook *logrustest.Hook, message string) bool {
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, message) {
			return true
		}
	}
	return false
}

// registration assembles the wire form of a callback subscription.
func registration(pairs ...string) []byte {
	var out []byte
	for _, s := range pairs {
		out = bytes.AppendCString(out, s)
	}
	return out
}

func TestConnectAnnouncesFreshClient(t *testing.T) {
	srv, tr, _, _ := newTestServer()

	if srv.Connect() {
		t.Fatal("Connect() want = false with no client pending")
	}

	attachClient(t, srv, tr)
	if !srv.IsClientConnected() {
		t.Fatal("IsClientConnected() want = true after Connect")
	}

	announce := tr.lastSent(t)
	if announce.command != protocol.AnnounceType {
		t.Fatalf("first frame want = announce, got = %s", protocol.Name(announce.command))
	}
	expected := bytes.AppendInt32(nil, protocol.ProtocolVersion)
	expected = bytes.AppendInt32(expected, protocol.BuildVersion)
	if diff := cmp.Diff(expected, announce.payload); diff != "" {
		t.Errorf("announce payload mismatch; diff:\n%s", diff)
	}

	// A second Connect against a live session must not re-announce.
	if !srv.Connect() {
		t.Fatal("Connect() want = true while a session is live")
	}
	if count := tr.countSent(protocol.AnnounceType); count != 1 {
		t.Errorf("announce frames sent = %d, want 1", count)
	}
}

func TestReconnectKeepsRegistriesAndSkipsAnnounce(t *testing.T) {
	srv, tr, _, _ := newTestServer()
	attachClient(t, srv, tr)

	srv.natives.Register("GetTickCount", func(*natives.Call) int32 { return 0 })
	tr.push(protocol.StartType, []byte{protocol.StartNone})
	tr.push(protocol.RegisterCallType, registration("OnGameModeInit", ""))
	tr.push(protocol.ReconnectType, nil)
	srv.Tick()

	if srv.IsClientConnected() {
		t.Fatal("IsClientConnected() want = false after a reconnect request")
	}
	if tr.teardowns != 1 {
		t.Errorf("transport teardowns = %d, want 1", tr.teardowns)
	}
	if !srv.status.clientStarted {
		t.Error("an expected disconnect must not clear the started flag")
	}
	if srv.natives.Len() != 1 || srv.callbacks.Len() != 1 {
		t.Error("an expected disconnect must leave the registries alone")
	}

	attachClient(t, srv, tr)
	if count := tr.countSent(protocol.AnnounceType); count != 1 {
		t.Errorf("announce frames sent = %d, want 1 across a reconnect", count)
	}
	if srv.status.clientReconnecting {
		t.Error("the reconnecting flag must clear once the client is back")
	}
}

func TestUnexpectedDisconnectWipesSession(t *testing.T) {
	srv, tr, _, hook := newTestServer()
	attachClient(t, srv, tr)

	srv.natives.Register("GetTickCount", func(*natives.Call) int32 { return 0 })
	tr.push(protocol.StartType, []byte{protocol.StartNone})
	tr.push(protocol.RegisterCallType, registration("OnGameModeInit", ""))
	srv.Tick()

	srv.Disconnect("stream failed", false)

	if srv.IsClientConnected() {
		t.Fatal("IsClientConnected() want = false after a disconnect")
	}
	if srv.status.clientStarted || srv.status.clientReceivedInit {
		t.Error("an unexpected disconnect must clear the client progress flags")
	}
	if srv.natives.Len() != 0 || srv.callbacks.Len() != 0 {
		t.Error("an unexpected disconnect must wipe both registries")
	}
	if tr.setupCalls < 2 {
		t.Error("a disconnect must re-arm the transport listener")
	}
	if !logged(hook, "unexpected disconnect of gamemode client: stream failed") {
		t.Error("the disconnect reason was not logged")
	}

	// A second disconnect against a torn down session is a no-op.
	srv.Disconnect("again", false)
	if tr.teardowns != 1 {
		t.Errorf("transport teardowns = %d, want 1", tr.teardowns)
	}
}

func TestPingPong(t *testing.T) {
	srv, tr, _, _ := newTestServer()
	attachClient(t, srv, tr)

	tr.push(protocol.PingType, nil)
	srv.Tick()

	if count := tr.countSent(protocol.PongType); count != 1 {
		t.Errorf("pong frames sent = %d, want 1", count)
	}
}

func TestPrintReachesGameConsole(t *testing.T) {
	srv, tr, game, _ := newTestServer()
	attachClient(t, srv, tr)

	tr.push(protocol.PrintType, []byte("hello world\x00\x00\x00"))
	srv.Tick()

	if len(game.printed) != 1 || game.printed[0] != "hello world" {
		t.Errorf("game console got %q, want [hello world]", game.printed)
	}
}

func TestFindNative(t *testing.T) {
	srv, tr, _, _ := newTestServer()
	attachClient(t, srv, tr)
	handle := srv.natives.Register("GetTickCount", func(*natives.Call) int32 { return 0 })

	tr.push(protocol.FindNativeType, []byte("GetTickCount\x00"))
	srv.Tick()

	reply := tr.lastSent(t)
	if reply.command != protocol.ResponseType {
		t.Fatalf("reply frame want = response, got = %s", protocol.Name(reply.command))
	}
	if diff := cmp.Diff(bytes.AppendInt32(nil, handle), reply.payload); diff != "" {
		t.Errorf("find native reply mismatch; diff:\n%s", diff)
	}

	tr.push(protocol.FindNativeType, []byte("NoSuchNative\x00"))
	srv.Tick()
	if diff := cmp.Diff(bytes.AppendInt32(nil, natives.HandleNotFound), tr.lastSent(t).payload); diff != "" {
		t.Errorf("unknown native reply mismatch; diff:\n%s", diff)
	}
}

func TestInvokeNative(t *testing.T) {
	srv, tr, _, _ := newTestServer()
	attachClient(t, srv, tr)
	handle := srv.natives.Register("GetVersion", func(*natives.Call) int32 { return 1100 })

	request := bytes.AppendInt32(nil, handle)
	request = bytes.AppendCString(request, "")
	tr.push(protocol.InvokeNativeType, request)
	srv.Tick()

	reply := tr.lastSent(t)
	if reply.command != protocol.ResponseType {
		t.Fatalf("reply frame want = response, got = %s", protocol.Name(reply.command))
	}
	if diff := cmp.Diff(bytes.AppendInt32(nil, 1100), reply.payload); diff != "" {
		t.Errorf("invoke reply mismatch; diff:\n%s", diff)
	}
}

func TestPublicCallLifecycle(t *testing.T) {
	srv, tr, _, _ := newTestServer()

	// The mode lifetime is tracked even with no client attached.
	srv.PublicCall(eventGameModeInit, nil)
	if !srv.status.serverReceivedInit {
		t.Fatal("the init event must set the mode flag without a client")
	}
	if len(tr.sent) != 0 {
		t.Fatal("no frames may flow while no client is attached")
	}
	srv.PublicCall(eventGameModeExit, nil)
	if srv.status.serverReceivedInit {
		t.Fatal("the exit event must clear the mode flag")
	}

	attachClient(t, srv, tr)
	tr.push(protocol.StartType, []byte{protocol.StartNone})
	tr.push(protocol.RegisterCallType, registration(
		"OnGameModeInit", "",
		"OnPlayerConnect", "d",
	))
	srv.Tick()

	// Events other than init are suppressed until the client saw init.
	srv.PublicCall("OnPlayerConnect", nil, int32(7))
	if count := tr.countSent(protocol.PublicCallType); count != 0 {
		t.Fatalf("public calls sent before init = %d, want 0", count)
	}

	var retval int32
	tr.push(protocol.ResponseType, append([]byte{0x01}, bytes.AppendInt32(nil, 1000)...))
	srv.PublicCall(eventGameModeInit, &retval)

	if !srv.status.clientReceivedInit {
		t.Fatal("forwarding init must mark the client initialized")
	}
	if count := tr.countSent(protocol.PublicCallType); count != 1 {
		t.Fatalf("public calls sent = %d, want 1", count)
	}
	if diff := cmp.Diff(bytes.AppendCString(nil, "OnGameModeInit"), tr.lastSent(t).payload); diff != "" {
		t.Errorf("public call payload mismatch; diff:\n%s", diff)
	}
	if retval != 1000 {
		t.Errorf("retval = %d, want 1000", retval)
	}

	// With init delivered, gameplay events flow and carry their args.
	tr.push(protocol.ResponseType, append([]byte{0x01}, bytes.AppendInt32(nil, 1)...))
	srv.PublicCall("OnPlayerConnect", nil, int32(7))

	expected := bytes.AppendInt32(bytes.AppendCString(nil, "OnPlayerConnect"), 7)
	if diff := cmp.Diff(expected, tr.lastSent(t).payload); diff != "" {
		t.Errorf("public call payload mismatch; diff:\n%s", diff)
	}
}

func TestPublicCallRetvalRules(t *testing.T) {
	tests := []struct {
		name     string
		reply    []byte
		expected int32
	}{
		{
			name:     "flag byte set writes the value",
			reply:    append([]byte{0x01}, bytes.AppendInt32(nil, 42)...),
			expected: 42,
		},
		{
			name:     "flag byte clear leaves retval alone",
			reply:    append([]byte{0x00}, bytes.AppendInt32(nil, 42)...),
			expected: 777,
		},
		{
			name:     "short reply leaves retval alone",
			reply:    []byte{0x01, 0x2A},
			expected: 777,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, tr, _, _ := newTestServer()
			attachClient(t, srv, tr)
			tr.push(protocol.StartType, []byte{protocol.StartNone})
			tr.push(protocol.RegisterCallType, registration("OnGameModeInit", ""))
			srv.Tick()

			retval := int32(777)
			tr.push(protocol.ResponseType, tt.reply)
			srv.PublicCall(eventGameModeInit, &retval)

			if retval != tt.expected {
				t.Errorf("retval = %d, want %d", retval, tt.expected)
			}
		})
	}
}

func TestPublicCallWithoutReply(t *testing.T) {
	srv, tr, _, hook := newTestServer()
	attachClient(t, srv, tr)
	tr.push(protocol.StartType, []byte{protocol.StartNone})
	tr.push(protocol.RegisterCallType, registration("OnGameModeInit", ""))
	srv.Tick()

	// An empty reply acknowledges the call without producing a value.
	tr.push(protocol.ResponseType, nil)
	srv.PublicCall(eventGameModeInit, nil)

	if !logged(hook, "received no response to callback OnGameModeInit") {
		t.Error("an empty reply must be reported as a missing response")
	}
}

func TestPublicCallDrainsInterleavedRequests(t *testing.T) {
	srv, tr, game, _ := newTestServer()
	attachClient(t, srv, tr)
	tr.push(protocol.StartType, []byte{protocol.StartNone})
	tr.push(protocol.RegisterCallType, registration("OnGameModeInit", ""))
	srv.Tick()

	// The client pings and prints before answering the public call.
	tr.push(protocol.PingType, nil)
	tr.push(protocol.PrintType, []byte("busy\x00"))
	tr.push(protocol.ResponseType, append([]byte{0x01}, bytes.AppendInt32(nil, 1)...))

	var retval int32
	srv.PublicCall(eventGameModeInit, &retval)

	if count := tr.countSent(protocol.PongType); count != 1 {
		t.Errorf("pong frames sent during the drain = %d, want 1", count)
	}
	if len(game.printed) != 1 || game.printed[0] != "busy" {
		t.Errorf("game console got %q, want [busy]", game.printed)
	}
	if retval != 1 {
		t.Errorf("retval = %d, want 1", retval)
	}
}

func TestPublicCallDeadClientMidDrain(t *testing.T) {
	srv, tr, _, hook := newTestServer()
	attachClient(t, srv, tr)
	tr.push(protocol.StartType, []byte{protocol.StartNone})
	tr.push(protocol.RegisterCallType, registration("OnGameModeInit", ""))
	srv.Tick()

	// The stream dies before the client answers.
	tr.dieOnEmpty = true
	retval := int32(777)
	srv.PublicCall(eventGameModeInit, &retval)

	if retval != 777 {
		t.Errorf("retval = %d, want it untouched after a dead drain", retval)
	}
	if !logged(hook, "received no response to callback OnGameModeInit") {
		t.Error("a dead drain must be reported as a missing response")
	}
	if srv.IsClientConnected() {
		t.Error("IsClientConnected() want = false after the stream died")
	}
	if srv.callbacks.Len() != 0 {
		t.Error("the registries must be wiped when the stream dies")
	}

	// The server stays usable for the next client.
	tr.dieOnEmpty = false
	attachClient(t, srv, tr)
	if !srv.IsClientConnected() {
		t.Error("a replacement client must be able to attach")
	}
}

func TestStartMethods(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		srv, tr, game, _ := newTestServer()
		srv.PublicCall(eventGameModeInit, nil)
		attachClient(t, srv, tr)

		tr.push(protocol.StartType, []byte{protocol.StartNone})
		srv.Tick()

		if !srv.status.clientStarted {
			t.Error("the start request must mark the client started")
		}
		if len(game.execed) != 0 || tr.countSent(protocol.PublicCallType) != 0 {
			t.Error("start method none must neither exec nor synthesize events")
		}
	})

	t.Run("gmx restarts a running mode", func(t *testing.T) {
		srv, tr, game, _ := newTestServer()
		srv.PublicCall(eventGameModeInit, nil)
		attachClient(t, srv, tr)

		tr.push(protocol.StartType, []byte{protocol.StartGmx})
		srv.Tick()

		if len(game.execed) != 1 || game.execed[0] != "gmx" {
			t.Errorf("game exec calls = %q, want [gmx]", game.execed)
		}
	})

	t.Run("gmx without a running mode", func(t *testing.T) {
		srv, tr, game, _ := newTestServer()
		attachClient(t, srv, tr)

		tr.push(protocol.StartType, []byte{protocol.StartGmx})
		srv.Tick()

		if len(game.execed) != 0 {
			t.Errorf("game exec calls = %q, want none before any mode ran", game.execed)
		}
	})

	t.Run("fake gmx synthesizes init", func(t *testing.T) {
		srv, tr, _, _ := newTestServer()
		srv.PublicCall(eventGameModeInit, nil)
		attachClient(t, srv, tr)

		tr.push(protocol.RegisterCallType, registration("OnGameModeInit", ""))
		srv.Tick()

		tr.push(protocol.StartType, []byte{protocol.StartFakeGmx})
		tr.push(protocol.ResponseType, []byte{0x01})
		srv.Tick()

		if !srv.status.clientReceivedInit {
			t.Error("fake gmx must mark the client initialized")
		}
		if count := tr.countSent(protocol.PublicCallType); count != 1 {
			t.Errorf("synthesized init frames = %d, want 1", count)
		}
	})

	t.Run("fake gmx without a subscribed init", func(t *testing.T) {
		srv, tr, _, _ := newTestServer()
		srv.PublicCall(eventGameModeInit, nil)
		attachClient(t, srv, tr)

		tr.push(protocol.StartType, []byte{protocol.StartFakeGmx})
		srv.Tick()

		if count := tr.countSent(protocol.PublicCallType); count != 0 {
			t.Errorf("synthesized init frames = %d, want 0 with no subscription", count)
		}
		if !srv.status.clientReceivedInit {
			t.Error("fake gmx marks the client initialized even without a subscription")
		}
	})

	t.Run("invalid method", func(t *testing.T) {
		srv, tr, _, hook := newTestServer()
		attachClient(t, srv, tr)

		tr.push(protocol.StartType, []byte{0x09})
		srv.Tick()

		if !logged(hook, "invalid game mode start method") {
			t.Error("an out of range start method must be logged")
		}
		if !srv.status.clientStarted {
			t.Error("even a bad start method marks the client started")
		}
	})
}

func TestTickHeartbeatGating(t *testing.T) {
	srv, tr, _, _ := newTestServer()
	srv.PublicCall(eventGameModeInit, nil)
	attachClient(t, srv, tr)

	// Connected but not started: no heartbeat.
	srv.Tick()
	if count := tr.countSent(protocol.TickType); count != 0 {
		t.Fatalf("tick frames before start = %d, want 0", count)
	}

	tr.push(protocol.StartType, []byte{protocol.StartNone})
	tr.push(protocol.RegisterCallType, registration("OnGameModeInit", ""))
	srv.Tick()

	// Started but the client has not seen init yet: still no heartbeat.
	srv.Tick()
	if count := tr.countSent(protocol.TickType); count != 0 {
		t.Fatalf("tick frames before init = %d, want 0", count)
	}

	tr.push(protocol.ResponseType, []byte{0x01, 0, 0, 0, 0})
	srv.PublicCall(eventGameModeInit, nil)

	srv.Tick()
	if count := tr.countSent(protocol.TickType); count != 1 {
		t.Fatalf("tick frames after init = %d, want 1", count)
	}
}

func TestTickDropsStrayReplies(t *testing.T) {
	srv, tr, _, hook := newTestServer()
	attachClient(t, srv, tr)

	// A stray reply with data is logged and dropped; the tick keeps
	// draining what follows it.
	tr.push(protocol.ResponseType, []byte{0x01, 0x02})
	tr.push(protocol.PingType, nil)
	srv.Tick()

	if !logged(hook, "unhandled response in tick") {
		t.Error("a stray reply with data must be logged")
	}
	if count := tr.countSent(protocol.PongType); count != 1 {
		t.Errorf("pong frames sent = %d, want 1 after the stray reply", count)
	}
	if len(tr.queue) != 0 {
		t.Errorf("tick left %d frames queued, want 0", len(tr.queue))
	}
}

func TestTickIgnoresEmptyStrayReplies(t *testing.T) {
	srv, tr, _, hook := newTestServer()
	attachClient(t, srv, tr)

	tr.push(protocol.ResponseType, nil)
	srv.Tick()

	if logged(hook, "unhandled response in tick") {
		t.Error("an empty stray reply must not be logged")
	}
}

func TestFrameObserverSeesBothDirections(t *testing.T) {
	srv, tr, _, _ := newTestServer()

	type observed struct {
		command  byte
		outbound bool
	}
	var seen []observed
	srv.SetFrameObserver(func(command byte, payload []byte, outbound bool) {
		seen = append(seen, observed{command: command, outbound: outbound})
	})

	attachClient(t, srv, tr)
	tr.push(protocol.PingType, nil)
	srv.Tick()

	expected := []observed{
		{command: protocol.AnnounceType, outbound: true},
		{command: protocol.PingType, outbound: false},
		{command: protocol.PongType, outbound: true},
	}
	if diff := cmp.Diff(expected, seen, cmp.AllowUnexported(observed{})); diff != "" {
		t.Errorf("observed frames mismatch; diff:\n%s", diff)
	}
}

func TestProcessPassesUnknownCommandsThrough(t *testing.T) {
	srv, _, _, _ := newTestServer()

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	res, reply := srv.process(0x42, payload)

	if res != unhandled {
		t.Fatalf("process(0x42) result = %v, want unhandled", res)
	}
	if diff := cmp.Diff(payload, reply); diff != "" {
		t.Errorf("unhandled payload mismatch; diff:\n%s", diff)
	}
}
