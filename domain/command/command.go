// Package command defines the reversible unit of work recorded in a rollback
// journal and the binary form of a journal element.
package command

import (
	"bytes"
	"context"
	"fmt"
)

// Command is a serializable, reversible step.
//
// Rollback may be invoked on an effect that was already undone or never
// happened, so it must be safe to call twice in a row.
type Command interface {
	// Kind names the decoder the command is registered under.
	Kind() string
	// MarshalBinary returns the payload the registry decoder accepts.
	MarshalBinary() ([]byte, error)
	Execute(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Equal reports whether two commands have the same kind and payload.
func Equal(a, b Command) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	pa, err := a.MarshalBinary()
	if err != nil {
		return false
	}
	pb, err := b.MarshalBinary()
	if err != nil {
		return false
	}
	return bytes.Equal(pa, pb)
}

// Describe renders a command for logs and stack listings.
func Describe(c Command) string {
	if c == nil {
		return "<nil>"
	}
	if s, ok := c.(fmt.Stringer); ok {
		return s.String()
	}
	return c.Kind()
}

// Element is one journal entry: a command and the order it was pushed in.
// Order is diagnostic; the position in the queue file is authoritative.
type Element struct {
	Command Command
	Order   uint64
}

// Equal compares order and command value.
func (e Element) Equal(o Element) bool {
	return e.Order == o.Order && Equal(e.Command, o.Command)
}

func (e Element) String() string {
	return fmt.Sprintf("{%s, %d}", Describe(e.Command), e.Order)
}
