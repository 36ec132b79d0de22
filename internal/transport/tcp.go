package transport

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
)

// TCP serves the bridge protocol to gamemode clients over a TCP socket.
// This is the transport to use when the gamemode process runs on another
// host or inside a container.
type TCP struct {
	stream
}

// NewTCP returns a TCP transport that will listen on address once Setup
// is called.
func NewTCP(logger *logrus.Logger, address string) *TCP {
	t := &TCP{}
	t.stream = stream{
		name:   "tcp",
		logger: logger,
		listen: func() (net.Listener, error) {
			hostAddr, err := net.ResolveTCPAddr("tcp", address)
			if err != nil {
				return nil, fmt.Errorf("error resolving address %s: %w", address, err)
			}

			socket, err := net.ListenTCP("tcp", hostAddr)
			if err != nil {
				return nil, fmt.Errorf("error listening on socket: %w", err)
			}
			return socket, nil
		},
	}
	return t
}
