// Package natives implements the host side of the native function
// interface: a registry of game server functions the gamemode client can
// look up by name and invoke over the wire.
//
// An invocation request carries the handle of the target native, the
// format string describing its arguments, and the argument bytes. The
// reply carries the native's return value followed by the current value of
// every by-ref argument. A request that cannot be dispatched at all
// produces a reply whose return value slot holds -1 and nothing else.
package natives

import (
	"github.com/sirupsen/logrus"

	"github.com/gmbridge/gmbridge/internal/core"
	"github.com/gmbridge/gmbridge/internal/core/bytes"
)

// HandleNotFound is the handle reported to clients that look up a name no
// native was registered under.
const HandleNotFound int32 = -1

// Func is a host function invocable by the gamemode client. It reads its
// arguments from the call and returns the value handed back to the client.
type Func func(call *Call) int32

type registered struct {
	name string
	fn   Func
}

// Registry maps exported native names to invocable functions. Handles are
// indices into the registration order and stay stable until Clear.
type Registry struct {
	logger  *logrus.Logger
	names   map[string]int32
	funcs   []registered
	formats *core.Cache
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:  logger,
		names:   make(map[string]int32),
		formats: core.NewCache(),
	}
}

// Register exports fn under name and returns the handle clients address it
// by. Registering a name again replaces the function behind the existing
// handle.
func (r *Registry) Register(name string, fn Func) int32 {
	if handle, ok := r.names[name]; ok {
		r.funcs[handle].fn = fn
		return handle
	}

	handle := int32(len(r.funcs))
	r.funcs = append(r.funcs, registered{name: name, fn: fn})
	r.names[name] = handle
	return handle
}

// Handle returns the handle registered for name, or HandleNotFound.
func (r *Registry) Handle(name string) int32 {
	if handle, ok := r.names[name]; ok {
		return handle
	}
	return HandleNotFound
}

// Len returns the number of registered natives.
func (r *Registry) Len() int {
	return len(r.funcs)
}

// Clear drops every registered native. Handles handed out before a Clear
// must not be used afterward.
func (r *Registry) Clear() {
	r.names = make(map[string]int32)
	r.funcs = nil
}

// Invoke dispatches one invocation request and returns the reply payload
// to send back to the client. Malformed requests are logged and answered
// with the failure reply rather than silently dropped, so the client's
// pending invocation always completes.
func (r *Registry) Invoke(request []byte) []byte {
	handle, rest, err := readInt32(request)
	if err != nil {
		r.logger.Error("native invocation request carries no handle")
		return failedResult()
	}
	if handle < 0 || int(handle) >= len(r.funcs) {
		r.logger.Errorf("invocation of unknown native handle %d", handle)
		return failedResult()
	}
	entry := r.funcs[handle]

	format, rest, ok := bytes.ReadCString(rest)
	if !ok {
		r.logger.Errorf("invocation of %s carries no format string", entry.name)
		return failedResult()
	}

	desc, err := r.descriptor(format)
	if err != nil {
		r.logger.Errorf("invocation of %s with format %q: %v", entry.name, format, err)
		return failedResult()
	}

	call, err := decodeCall(desc, rest)
	if err != nil {
		r.logger.Errorf("invocation of %s with format %q: %v", entry.name, format, err)
		return failedResult()
	}

	r.logger.Debugf("invoking native %s(%s)", entry.name, format)
	retval := entry.fn(call)

	result, err := encodeResult(retval, call)
	if err != nil {
		r.logger.Errorf("invocation of %s with format %q: %v", entry.name, format, err)
		return failedResult()
	}
	return result
}

// descriptor parses format, memoizing the result since gamemodes invoke
// the same handful of signatures every frame.
func (r *Registry) descriptor(format string) (*descriptor, error) {
	if cached, ok := r.formats.Get(format); ok {
		return cached.(*descriptor), nil
	}

	desc, err := parseFormat(format)
	if err != nil {
		return nil, err
	}
	r.formats.Put(format, desc, -1)
	return desc, nil
}

// failedResult is the whole reply for an invocation that could not be
// dispatched: -1 in the return value slot with no outputs following it.
func failedResult() []byte {
	return bytes.AppendInt32(nil, -1)
}
