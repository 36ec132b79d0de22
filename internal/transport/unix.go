package transport

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"

	"github.com/sirupsen/logrus"
)

// Unix serves the bridge protocol to gamemode clients over a unix domain
// socket, the preferred transport when the gamemode process runs beside
// the game server.
type Unix struct {
	stream
}

// NewUnix returns a Unix transport that will listen on the socket file at
// path once Setup is called. A stale socket file left behind by an earlier
// run is removed before binding.
func NewUnix(logger *logrus.Logger, path string) *Unix {
	t := &Unix{}
	t.stream = stream{
		name:   "unix",
		logger: logger,
		listen: func() (net.Listener, error) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("error removing stale socket file %s: %w", path, err)
			}

			socket, err := net.Listen("unix", path)
			if err != nil {
				return nil, fmt.Errorf("error listening on socket: %w", err)
			}
			return socket, nil
		},
	}
	return t
}
