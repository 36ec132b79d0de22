package natives

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gmbridge/gmbridge/internal/core/bytes"
	"github.com/gmbridge/gmbridge/internal/protocol"
)

// argSpec describes one argument slot of an invocation format.
type argSpec struct {
	code   byte
	output bool
}

// descriptor is the parsed form of an invocation format string. Parsing is
// memoized per format, so descriptors must be treated as immutable.
type descriptor struct {
	specs []argSpec
}

// parseFormat turns a format string into a descriptor. One character maps
// to one argument: d (int), f (float), b (bool), s (string) and a (int
// array) are passed by value, while their uppercase counterparts D, F, S
// and A are written back to the caller in the invocation result.
func parseFormat(format string) (*descriptor, error) {
	specs := make([]argSpec, len(format))

	for i := 0; i < len(format); i++ {
		switch c := format[i]; c {
		case 'd', 'f', 'b', 's', 'a':
			specs[i] = argSpec{code: c}
		case 'D', 'F', 'S', 'A':
			specs[i] = argSpec{code: c + 'a' - 'A', output: true}
		default:
			return nil, fmt.Errorf("unknown format character %q", c)
		}
	}
	return &descriptor{specs: specs}, nil
}

// Call carries the decoded arguments of one native invocation and collects
// the values the native writes back through its by-ref slots.
type Call struct {
	specs  []argSpec
	values []interface{}
	caps   []int32
}

// NumArgs returns how many argument slots the invocation carries.
func (c *Call) NumArgs() int {
	return len(c.specs)
}

// Int returns the int argument in slot i, or 0 if the slot holds
// something else.
func (c *Call) Int(i int) int32 {
	if v, ok := c.value(i).(int32); ok {
		return v
	}
	return 0
}

// Float returns the float argument in slot i, or 0 if the slot holds
// something else.
func (c *Call) Float(i int) float32 {
	if v, ok := c.value(i).(float32); ok {
		return v
	}
	return 0
}

// Bool returns the bool argument in slot i, or false if the slot holds
// something else.
func (c *Call) Bool(i int) bool {
	if v, ok := c.value(i).(bool); ok {
		return v
	}
	return false
}

// String returns the string argument in slot i, or "" if the slot holds
// something else.
func (c *Call) String(i int) string {
	if v, ok := c.value(i).(string); ok {
		return v
	}
	return ""
}

// Array returns the int array argument in slot i, or nil if the slot
// holds something else.
func (c *Call) Array(i int) []int32 {
	if v, ok := c.value(i).([]int32); ok {
		return v
	}
	return nil
}

// SetInt stores v in by-ref slot i for the invocation result.
func (c *Call) SetInt(i int, v int32) {
	c.setValue(i, 'd', v)
}

// SetFloat stores v in by-ref slot i for the invocation result.
func (c *Call) SetFloat(i int, v float32) {
	c.setValue(i, 'f', v)
}

// SetString stores v in by-ref slot i for the invocation result. The value
// is truncated to the caller's buffer capacity when the result is encoded.
func (c *Call) SetString(i int, v string) {
	c.setValue(i, 's', v)
}

// SetArray stores v in by-ref slot i for the invocation result. The value
// is truncated to the caller's buffer capacity when the result is encoded.
func (c *Call) SetArray(i int, v []int32) {
	c.setValue(i, 'a', v)
}

func (c *Call) value(i int) interface{} {
	if i < 0 || i >= len(c.values) {
		return nil
	}
	return c.values[i]
}

func (c *Call) setValue(i int, code byte, v interface{}) {
	if i < 0 || i >= len(c.specs) {
		return
	}
	if spec := c.specs[i]; !spec.output || spec.code != code {
		return
	}
	c.values[i] = v
}

// decodeCall unpacks the argument bytes of an invocation request according
// to desc. By-value arguments carry their values. By-ref string and array
// arguments carry only the capacity of the caller's buffer.
func decodeCall(desc *descriptor, data []byte) (*Call, error) {
	call := &Call{
		specs:  desc.specs,
		values: make([]interface{}, len(desc.specs)),
		caps:   make([]int32, len(desc.specs)),
	}

	for i, spec := range desc.specs {
		if spec.output {
			switch spec.code {
			case 'd':
				call.values[i] = int32(0)
			case 'f':
				call.values[i] = float32(0)
			case 's', 'a':
				capacity, rest, err := readInt32(data)
				if err != nil {
					return nil, fmt.Errorf("argument %d: %w", i, err)
				}
				if capacity < 0 || capacity > protocol.MaxPayloadSize {
					return nil, fmt.Errorf("argument %d: unusable capacity %d", i, capacity)
				}
				call.caps[i] = capacity
				if spec.code == 's' {
					call.values[i] = ""
				} else {
					call.values[i] = []int32(nil)
				}
				data = rest
			}
			continue
		}

		switch spec.code {
		case 'd':
			v, rest, err := readInt32(data)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			call.values[i] = v
			data = rest
		case 'f':
			v, rest, err := readInt32(data)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			call.values[i] = math.Float32frombits(uint32(v))
			data = rest
		case 'b':
			if len(data) < 1 {
				return nil, fmt.Errorf("argument %d: request truncated", i)
			}
			call.values[i] = data[0] != 0
			data = data[1:]
		case 's':
			text, rest, ok := bytes.ReadCString(data)
			if !ok {
				return nil, fmt.Errorf("argument %d: unterminated string", i)
			}
			call.values[i] = bytes.DecodeGameText([]byte(text))
			data = rest
		case 'a':
			count, rest, err := readInt32(data)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			if count < 0 || int(count)*4 > len(rest) {
				return nil, fmt.Errorf("argument %d: array length %d overruns the request", i, count)
			}
			values := make([]int32, count)
			for j := range values {
				values[j] = int32(binary.LittleEndian.Uint32(rest[j*4:]))
			}
			call.values[i] = values
			data = rest[int(count)*4:]
		}
	}

	if len(data) != 0 {
		return nil, fmt.Errorf("%d bytes left over after the last argument", len(data))
	}
	return call, nil
}

// encodeResult packs the return value and every by-ref slot into an
// invocation reply. Strings and arrays are clipped to the capacity the
// caller declared for them.
func encodeResult(retval int32, call *Call) ([]byte, error) {
	out := bytes.AppendInt32(nil, retval)

	for i, spec := range call.specs {
		if !spec.output {
			continue
		}

		switch spec.code {
		case 'd':
			out = bytes.AppendInt32(out, call.Int(i))
		case 'f':
			out = bytes.AppendInt32(out, int32(math.Float32bits(call.Float(i))))
		case 's':
			encoded := bytes.EncodeGameText(call.String(i))
			if max := int(call.caps[i]) - 1; max >= 0 && len(encoded) > max {
				encoded = encoded[:max]
			}
			out = append(out, encoded...)
			out = append(out, 0x00)
		case 'a':
			values := call.Array(i)
			if len(values) > int(call.caps[i]) {
				values = values[:call.caps[i]]
			}
			out = bytes.AppendInt32(out, int32(len(values)))
			for _, v := range values {
				out = bytes.AppendInt32(out, v)
			}
		}
	}

	if len(out) > protocol.MaxPayloadSize {
		return nil, fmt.Errorf("result carries %d bytes, exceeding the frame limit", len(out))
	}
	return out, nil
}

func readInt32(data []byte) (int32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("request truncated")
	}
	return int32(binary.LittleEndian.Uint32(data)), data[4:], nil
}
