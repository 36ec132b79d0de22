// The gmbridged command runs a standalone bridge host: it loads the
// configuration, binds the client transport, and drives the frame loop a
// game server would normally drive, backed by a small built-in game
// runtime. It exists so a gamemode client can be developed and exercised
// without embedding the bridge into a real server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gmbridge/gmbridge/internal/bridge"
	"github.com/gmbridge/gmbridge/internal/callbacks"
	"github.com/gmbridge/gmbridge/internal/core"
	"github.com/gmbridge/gmbridge/internal/core/debug"
	"github.com/gmbridge/gmbridge/internal/natives"
	"github.com/gmbridge/gmbridge/internal/protocol"
	"github.com/gmbridge/gmbridge/internal/sessions"
	"github.com/gmbridge/gmbridge/internal/transport"
)

var configFlag = flag.String("config", "./", "Path to the directory containing the host config file")

func main() {
	flag.Parse()

	fmt.Printf("gmbridge host %d.%d.%d\n", protocol.VersionMajor, protocol.VersionMinor, protocol.VersionPatch)

	config := core.LoadConfig(*configFlag)
	fmt.Println("using configuration file:", *configFlag)

	// Change to the same directory as the config file so that any relative
	// paths in the config file will resolve.
	if err := os.Chdir(*configFlag); err != nil {
		fmt.Println("error changing to config directory:", err)
		os.Exit(1)
	}

	logger, err := core.NewLogger(config)
	if err != nil {
		fmt.Println("error initializing logger:", err)
		os.Exit(1)
	}

	if config.Debugging.Enabled {
		debug.StartUtilities(logger, config.Debugging.Port)
	}

	tp, err := newTransport(logger, config)
	if err != nil {
		fmt.Println("error initializing transport:", err)
		os.Exit(1)
	}

	game := newGameRuntime(logger, config.Game.ModeText)
	srv := bridge.New(
		logger,
		tp,
		natives.NewRegistry(logger),
		callbacks.NewRegistry(logger),
		game,
	)
	game.bind(srv)

	if config.Database.RecordSessions {
		recorder, err := newSessionRecorder(logger, config)
		if err != nil {
			fmt.Println("error initializing session recorder:", err)
			os.Exit(1)
		}
		defer recorder.Close()

		srv.SetFrameObserver(func(command byte, payload []byte, outbound bool) {
			direction := sessions.DirectionReceived
			if outbound {
				direction = sessions.DirectionSent
			}
			recorder.Record(direction, command, payload)
		})
	}

	// Bind the frame loop to one top-level context so that we can shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())

	// Register a SIGTERM handler so that Ctrl-C will shut the host down gracefully.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go exitHandler(cancel, c)

	srv.Start()
	game.run(ctx, config.TickInterval())
	fmt.Println("shut down")
}

// newTransport builds the client transport named by the configuration.
func newTransport(logger *logrus.Logger, config *core.Config) (transport.Transport, error) {
	switch config.Transport.Kind {
	case "tcp":
		return transport.NewTCP(logger, config.Transport.Address), nil
	case "unix":
		return transport.NewUnix(logger, config.Transport.SocketPath), nil
	default:
		return nil, fmt.Errorf("unsupported transport kind: %s", config.Transport.Kind)
	}
}

// newSessionRecorder opens the session store and starts a recorder under a
// timestamped session name.
func newSessionRecorder(logger *logrus.Logger, config *core.Config) (*sessions.Recorder, error) {
	db, err := sessions.Open(config, config.Debugging.DatabaseLoggingEnabled)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("gmbridged-%s", time.Now().Format("20060102-150405"))
	recorder, err := sessions.NewRecorder(logger, db, name, config.Transport.Kind)
	if err != nil {
		return nil, err
	}

	logger.Infof("recording session %s (id %d)", name, recorder.Session().ID)
	return recorder, nil
}

func exitHandler(cancelFn func(), c chan os.Signal) {
	<-c
	fmt.Println("waiting to shut down gracefully...")
	cancelFn()

	<-c
	fmt.Println("hard exiting (killed)")
	os.Exit(0)
}
