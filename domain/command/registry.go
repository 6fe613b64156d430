package command

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownKind is returned when a record names a kind with no decoder.
var ErrUnknownKind = errors.New("command: unknown kind")

// DecodeFunc rebuilds a command from its payload. Decoders are closures so
// they can bind the runtime dependencies the command needs.
type DecodeFunc func(payload []byte) (Command, error)

// Registry maps command kinds to decoders.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]DecodeFunc
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// Register adds a decoder. Registering a kind twice is an error.
func (r *Registry) Register(kind string, fn DecodeFunc) error {
	if kind == "" || fn == nil {
		return fmt.Errorf("register command: empty kind or decoder")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decoders[kind]; ok {
		return fmt.Errorf("register command %q: already registered", kind)
	}
	r.decoders[kind] = fn
	return nil
}

// Decode rebuilds a command of the given kind.
func (r *Registry) Decode(kind string, payload []byte) (Command, error) {
	r.mu.RLock()
	fn, ok := r.decoders[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	cmd, err := fn(payload)
	if err != nil {
		return nil, fmt.Errorf("decode command %q: %w", kind, err)
	}
	return cmd, nil
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.decoders))
	for k := range r.decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
