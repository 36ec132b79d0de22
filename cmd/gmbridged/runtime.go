package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gmbridge/gmbridge/internal/bridge"
	"github.com/gmbridge/gmbridge/internal/natives"
)

// Mode lifecycle events an embedding game server fires around its frame
// loop. The built-in runtime stands in for that server.
const (
	eventGameModeInit = "OnGameModeInit"
	eventGameModeExit = "OnGameModeExit"
)

// gameRuntime is the minimal game server the standalone host runs the
// bridge against: a console, a mode lifecycle, and enough built-in
// natives for a gamemode client to have something to call.
type gameRuntime struct {
	logger    *logrus.Logger
	server    *bridge.Server
	modeText  string
	startedAt time.Time

	// restartPending defers a requested mode restart to the next frame so
	// the restart never re-enters the frame that requested it.
	restartPending bool
}

func newGameRuntime(logger *logrus.Logger, modeText string) *gameRuntime {
	return &gameRuntime{
		logger:    logger,
		modeText:  modeText,
		startedAt: time.Now(),
	}
}

// bind attaches the bridge server and installs the built-in natives. The
// runtime and the server reference each other, so this runs once both
// exist.
func (g *gameRuntime) bind(server *bridge.Server) {
	g.server = server
	g.registerNatives(server.Natives())
}

// Print writes a line of gamemode output to the host console.
func (g *gameRuntime) Print(text string) {
	g.logger.Infof("[gamemode] %s", text)
}

// Exec runs a server console command on the gamemode's behalf.
func (g *gameRuntime) Exec(command string) {
	switch command {
	case "gmx":
		g.restartPending = true
	default:
		g.logger.Warnf("unsupported console command %q", command)
	}
}

// run fires the mode into existence and frames the bridge at the
// configured interval until the context is cancelled.
func (g *gameRuntime) run(ctx context.Context, tickInterval time.Duration) {
	g.logger.Infof("starting game mode %q w/tick interval %v", g.modeText, tickInterval)
	g.server.PublicCall(eventGameModeInit, nil)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.server.PublicCall(eventGameModeExit, nil)
			return
		case <-ticker.C:
			g.frame()
		}
	}
}

// frame runs one server frame: the bridge's tick plus any mode restart
// deferred from the previous frame.
func (g *gameRuntime) frame() {
	// An unexpected client disconnect wipes the native registry, so the
	// built-in surface has to be reinstalled before the next client asks
	// for it.
	if g.server.Natives().Len() == 0 {
		g.registerNatives(g.server.Natives())
	}

	g.server.Tick()

	if g.restartPending {
		g.restartPending = false
		g.logger.Info("restarting the game mode")
		g.server.PublicCall(eventGameModeExit, nil)
		g.server.PublicCall(eventGameModeInit, nil)
	}
}

// registerNatives installs the host's built-in native functions. A real
// embedding would register the game server's full native surface here.
func (g *gameRuntime) registerNatives(registry *natives.Registry) {
	registry.Register("GetTickCount", func(*natives.Call) int32 {
		return int32(time.Since(g.startedAt) / time.Millisecond)
	})
	registry.Register("GetMaxPlayers", func(*natives.Call) int32 {
		return 1000
	})
	registry.Register("SetGameModeText", func(call *natives.Call) int32 {
		g.modeText = call.String(0)
		return 1
	})
	registry.Register("GetGameModeText", func(call *natives.Call) int32 {
		call.SetString(0, g.modeText)
		return 1
	})
	registry.Register("SendRconCommand", func(call *natives.Call) int32 {
		g.Exec(call.String(0))
		return 1
	})
	registry.Register("print", func(call *natives.Call) int32 {
		g.Print(call.String(0))
		return 1
	})
}
