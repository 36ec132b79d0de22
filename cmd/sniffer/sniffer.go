package main

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"

	"github.com/gmbridge/gmbridge/internal/core/debug"
	"github.com/gmbridge/gmbridge/internal/protocol"
)

// sniffer accumulates each direction of the TCP stream separately and
// peels completed frames off the front as captured segments arrive.
type sniffer struct {
	hostPort uint16
	buffers  map[string][]byte
}

func (s *sniffer) startReading(packetChan chan gopacket.Packet) {
	s.buffers = make(map[string][]byte)

	for packet := range packetChan {
		transport := packet.TransportLayer()
		if transport == nil {
			continue
		}
		data := transport.LayerPayload()
		if len(data) == 0 {
			continue
		}

		flow := transport.TransportFlow()
		key := flow.String()
		s.buffers[key] = append(s.buffers[key], data...)
		s.drainBuffer(key, s.direction(flow))
	}
}

// direction labels a flow from the host's point of view.
func (s *sniffer) direction(flow gopacket.Flow) string {
	dstPort := binary.BigEndian.Uint16(flow.Dst().Raw())
	if dstPort == s.hostPort {
		return "client>host"
	}
	return "host>client"
}

// drainBuffer prints every complete frame buffered for one direction.
func (s *sniffer) drainBuffer(key, direction string) {
	buffer := s.buffers[key]

	for len(buffer) >= protocol.FrameHeaderSize {
		command := buffer[0]
		size := binary.LittleEndian.Uint32(buffer[1:protocol.FrameHeaderSize])

		if size > protocol.MaxPayloadSize {
			// Either a protocol violation or a capture that joined the
			// stream mid frame; the boundary is unrecoverable.
			fmt.Printf("%s: stream desynchronized (frame size %d); dropping buffered bytes\n",
				direction, size)
			buffer = nil
			break
		}
		if len(buffer) < protocol.FrameHeaderSize+int(size) {
			break
		}

		payload := buffer[protocol.FrameHeaderSize : protocol.FrameHeaderSize+int(size)]
		s.printFrame(direction, command, payload)
		buffer = buffer[protocol.FrameHeaderSize+int(size):]
	}

	s.buffers[key] = buffer
}

func (s *sniffer) printFrame(direction string, command byte, payload []byte) {
	if len(payload) > 0 {
		fmt.Printf("%s: %s w/%d data\n%s\n",
			direction, protocol.Name(command), len(payload), debug.DumpFrame(payload))
	} else {
		fmt.Printf("%s: %s\n", direction, protocol.Name(command))
	}
}
