// Package callbacks tracks which gamemode events the client subscribed to
// and packs event arguments into public call payloads.
package callbacks

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/gmbridge/gmbridge/internal/core/bytes"
	"github.com/gmbridge/gmbridge/internal/protocol"
)

// Registry records the public calls the gamemode client wants forwarded,
// keyed by event name with the argument format the client declared.
type Registry struct {
	logger  *logrus.Logger
	formats map[string]string
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:  logger,
		formats: make(map[string]string),
	}
}

// RegisterBuffer ingests one bulk subscription payload: repeated pairs of
// null-terminated event name and argument format. A record with an
// unusable format is skipped, while a truncated record abandons whatever
// follows it since the pair boundaries can no longer be trusted.
func (r *Registry) RegisterBuffer(data []byte) {
	for len(data) > 0 {
		name, rest, ok := bytes.ReadCString(data)
		if !ok {
			r.logger.Warnf("callback registration carries %d trailing bytes", len(data))
			return
		}
		format, rest, ok := bytes.ReadCString(rest)
		if !ok {
			r.logger.Warnf("callback %s was registered without a format", name)
			return
		}
		data = rest

		if err := validateFormat(format); err != nil {
			r.logger.Warnf("skipping callback %s: %v", name, err)
			continue
		}
		r.formats[name] = format
		r.logger.Debugf("registered callback %s(%s)", name, format)
	}
}

// Registered returns whether the client subscribed to the named event.
func (r *Registry) Registered(name string) bool {
	_, ok := r.formats[name]
	return ok
}

// Len returns the number of subscribed events.
func (r *Registry) Len() int {
	return len(r.formats)
}

// Clear drops every subscription.
func (r *Registry) Clear() {
	r.formats = make(map[string]string)
}

// FillCallBuffer packs a public call payload for the named event: the
// event name followed by args encoded per the registered format. It
// returns nil when the client never subscribed to the event or when args
// cannot satisfy the registered format.
func (r *Registry) FillCallBuffer(name string, args []interface{}) []byte {
	format, ok := r.formats[name]
	if !ok {
		return nil
	}
	if len(args) != len(format) {
		r.logger.Errorf("callback %s takes %d arguments, got %d", name, len(format), len(args))
		return nil
	}

	out := bytes.AppendCString(nil, name)
	for i := 0; i < len(format); i++ {
		packed, err := appendArg(out, format[i], args[i])
		if err != nil {
			r.logger.Errorf("callback %s argument %d: %v", name, i, err)
			return nil
		}
		out = packed
	}

	if len(out) > protocol.MaxPayloadSize {
		r.logger.Errorf("callback %s payload carries %d bytes, exceeding the frame limit", name, len(out))
		return nil
	}
	return out
}

func validateFormat(format string) error {
	for i := 0; i < len(format); i++ {
		switch format[i] {
		case 'd', 'f', 'b', 's', 'a':
		default:
			return fmt.Errorf("unknown format character %q", format[i])
		}
	}
	return nil
}

func appendArg(dst []byte, code byte, arg interface{}) ([]byte, error) {
	switch code {
	case 'd':
		switch v := arg.(type) {
		case int32:
			return bytes.AppendInt32(dst, v), nil
		case int:
			return bytes.AppendInt32(dst, int32(v)), nil
		}
	case 'f':
		switch v := arg.(type) {
		case float32:
			return bytes.AppendInt32(dst, int32(math.Float32bits(v))), nil
		case float64:
			return bytes.AppendInt32(dst, int32(math.Float32bits(float32(v)))), nil
		}
	case 'b':
		if v, ok := arg.(bool); ok {
			if v {
				return append(dst, 0x01), nil
			}
			return append(dst, 0x00), nil
		}
	case 's':
		if v, ok := arg.(string); ok {
			dst = append(dst, bytes.EncodeGameText(v)...)
			return append(dst, 0x00), nil
		}
	case 'a':
		if v, ok := arg.([]int32); ok {
			dst = bytes.AppendInt32(dst, int32(len(v)))
			for _, cell := range v {
				dst = bytes.AppendInt32(dst, cell)
			}
			return dst, nil
		}
	}
	return nil, fmt.Errorf("format %q cannot pack a %T", code, arg)
}
