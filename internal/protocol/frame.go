package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrOversizePayload is returned when a frame payload on either side of the
// stream exceeds MaxPayloadSize.
var ErrOversizePayload = errors.New("frame payload exceeds maximum size")

// WriteFrame writes a single framed command to w: the identifier byte, the
// payload length as a little-endian uint32, and the payload itself.
func WriteFrame(w io.Writer, command byte, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %s frame carries %d bytes", ErrOversizePayload, Name(command), len(payload))
	}

	frame := make([]byte, FrameHeaderSize+len(payload))
	frame[0] = command
	binary.LittleEndian.PutUint32(frame[1:FrameHeaderSize], uint32(len(payload)))
	copy(frame[FrameHeaderSize:], payload)

	// Write the frame to the stream until the number of bytes written
	// covers the whole of it.
	bytesSent := 0
	for bytesSent < len(frame) {
		b, err := w.Write(frame[bytesSent:])
		if err != nil {
			return fmt.Errorf("failed to write %s frame: %w", Name(command), err)
		}
		bytesSent += b
	}
	return nil
}

// ReadFrame reads a single framed command from r. The returned payload is
// freshly allocated and owned by the caller. Frames claiming a payload
// larger than MaxPayloadSize fail with ErrOversizePayload and leave the
// stream unusable since the remaining bytes can no longer be framed.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	command := header[0]
	length := binary.LittleEndian.Uint32(header[1:])
	if length > MaxPayloadSize {
		return 0, nil, fmt.Errorf("%w: %s frame claims %d bytes", ErrOversizePayload, Name(command), length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("failed to read %s frame payload: %w", Name(command), err)
	}
	return command, payload, nil
}
