// Package rollback implements a persistent LIFO journal of executed commands.
//
// Every command is durably appended to the primary queue before it runs.
// Undoing the top command first moves its record to the transfer queue, so a
// crash at any point leaves enough on disk for the next Open to reconstruct
// the journal with at most one duplicated entry.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"regjournal/domain/command"
	"regjournal/infra/queue"
	"regjournal/infra/sequence"
)

var (
	ErrLocked   = errors.New("rollback: stack is locked")
	ErrEmpty    = errors.New("rollback: stack is empty")
	ErrClosed   = errors.New("rollback: stack is closed")
	ErrExecute  = errors.New("rollback: execute failed")
	ErrRollback = errors.New("rollback: rollback failed")
	ErrInUse    = queue.ErrInUse
)

const lockSuffix = ".locked"

// Stack is a durable command stack over a primary and a transfer queue file.
//
// Push, move, the Rollback call and the transfer clear are serialized by one
// mutex, which also guards the lock flag. At most one Stack may be open per
// file pair.
type Stack struct {
	mu       sync.Mutex
	primary  *queue.Queue
	transfer *queue.Queue
	elements []command.Element
	orders   *sequence.Sequencer
	locked   bool
	closed   bool
	lockPath string

	registry *command.Registry
	log      *slog.Logger
	observer Observer
	guard    Guard
}

// Open opens the journal stored in the two files, creating them when absent,
// and reconciles any move that was interrupted by a crash.
func Open(primaryPath, transferPath string, opts ...Option) (*Stack, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = command.NewRegistry()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	start := time.Now()
	primary, err := queue.Open(primaryPath)
	if err != nil {
		return nil, fmt.Errorf("open primary: %w", err)
	}
	transfer, err := queue.Open(transferPath)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("open transfer: %w", err)
	}

	s := &Stack{
		primary:  primary,
		transfer: transfer,
		lockPath: primaryPath + lockSuffix,
		registry: o.registry,
		log:      o.logger.With("component", "rollback", "journal", filepath.Base(primaryPath)),
		observer: o.observer,
		guard:    o.guard,
	}
	err = s.recover()
	s.observe(context.Background(), "recover", err == nil, time.Since(start))
	if err != nil {
		_ = primary.Close()
		_ = transfer.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stack) recover() error {
	for _, q := range []*queue.Queue{s.primary, s.transfer} {
		if n := q.Dropped(); n > 0 {
			s.log.Warn("dropped torn trailing frame", "file", q.Path(), "bytes", n)
			s.recoveryEvent(EventTornFrameDropped)
		}
	}

	for i, raw := range s.primary.Records() {
		el, err := s.registry.DecodeElement(raw)
		if err != nil {
			return fmt.Errorf("decode primary record %d: %w", i, err)
		}
		s.elements = append(s.elements, el)
	}

	if s.transfer.Len() > 0 {
		if err := s.reconcileTransfer(); err != nil {
			return err
		}
	}

	var next uint64
	if top, ok := s.top(); ok {
		next = top.Order + 1
	}
	s.orders = sequence.New(next)

	_, err := os.Stat(s.lockPath)
	switch {
	case err == nil:
		s.locked = true
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("stat lock marker: %w", err)
	}

	s.log.Debug("journal opened", "size", len(s.elements), "locked", s.locked)
	return nil
}

// reconcileTransfer applies the crash rule for a record found in the
// transfer queue at open time. A record equal to the primary tail means the
// crash hit between the two writes of a move; its rollback may or may not
// have started, so the record is kept twice. A record missing from the tail
// was already removed from the primary and is dropped.
func (s *Stack) reconcileTransfer() error {
	raw, _ := s.transfer.Last()
	moving, err := s.registry.DecodeElement(raw)
	if err != nil {
		return fmt.Errorf("decode transfer record: %w", err)
	}
	if s.transfer.Len() > 1 {
		s.log.Warn("transfer queue holds more than one record, using the last", "records", s.transfer.Len())
	}

	top, ok := s.top()
	keep := ok && top.Equal(moving)

	// Clear before re-appending: a crash in between loses only the extra copy.
	if err := s.transfer.Clear(); err != nil {
		return fmt.Errorf("clear transfer: %w", err)
	}
	if !keep {
		s.log.Warn("discarding transfer record absent from primary", "element", moving.String())
		s.recoveryEvent(EventTransferDiscarded)
		return nil
	}
	if err := s.primary.Append(raw); err != nil {
		return fmt.Errorf("append duplicate: %w", err)
	}
	s.elements = append(s.elements, moving)
	s.log.Warn("interrupted move found, keeping duplicate", "element", moving.String())
	s.recoveryEvent(EventDuplicateKept)
	return nil
}

// PushAndExecute records cmd durably and then executes it. When Execute
// fails the entry stays in the journal so it will be rolled back.
func (s *Stack) PushAndExecute(ctx context.Context, cmd command.Command) error {
	if cmd == nil {
		return fmt.Errorf("push: nil command")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.push(ctx, cmd)
	s.observe(ctx, "push", err == nil, time.Since(start))
	return err
}

func (s *Stack) push(ctx context.Context, cmd command.Command) error {
	if err := s.writable(); err != nil {
		return err
	}
	el := command.Element{Command: cmd, Order: s.orders.Peek()}
	raw, err := command.EncodeElement(el)
	if err != nil {
		return err
	}
	if err := s.primary.Append(raw); err != nil {
		return fmt.Errorf("push %s: %w", el, err)
	}
	s.orders.Next()
	s.elements = append(s.elements, el)
	s.log.Debug("pushed", "element", el.String())

	if err := cmd.Execute(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExecute, el, err)
	}
	return nil
}

// RollbackAndPop undoes the most recent command and removes it from the
// journal. If Rollback fails the element is put back on top and the error
// wraps ErrRollback.
func (s *Stack) RollbackAndPop(ctx context.Context) (command.Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	cmd, err := s.pop(ctx)
	s.observe(ctx, "rollback", err == nil, time.Since(start))
	return cmd, err
}

func (s *Stack) pop(ctx context.Context) (command.Command, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	if s.transfer.Len() > 0 {
		if err := s.resumeMove(); err != nil {
			return nil, err
		}
	}
	top, ok := s.top()
	if !ok {
		return nil, ErrEmpty
	}
	raw, _ := s.primary.Last()

	if err := s.transfer.Append(raw); err != nil {
		return nil, fmt.Errorf("move %s to transfer: %w", top, err)
	}
	if err := s.primary.TruncateLast(); err != nil {
		return nil, fmt.Errorf("truncate %s from primary: %w", top, err)
	}
	s.elements = s.elements[:len(s.elements)-1]

	if err := top.Command.Rollback(ctx); err != nil {
		rbErr := fmt.Errorf("%w: %s: %w", ErrRollback, top, err)
		if rerr := s.primary.Append(raw); rerr != nil {
			return nil, errors.Join(rbErr, fmt.Errorf("restore %s: %w", top, rerr))
		}
		s.elements = append(s.elements, top)
		s.log.Error("rollback failed, element restored", "element", top.String(), "err", err)
		return nil, rbErr
	}

	if err := s.transfer.Clear(); err != nil {
		return top.Command, fmt.Errorf("clear transfer after %s: %w", top, err)
	}
	s.log.Debug("rolled back", "element", top.String())
	return top.Command, nil
}

// resumeMove handles a transfer record left by an earlier failed call in
// this process. If the record is back on top of the primary only the
// transfer is cleared; otherwise it is put back on top so its rollback is
// retried.
func (s *Stack) resumeMove() error {
	raw, _ := s.transfer.Last()
	moving, err := s.registry.DecodeElement(raw)
	if err != nil {
		return fmt.Errorf("decode transfer record: %w", err)
	}
	if top, ok := s.top(); !ok || !top.Equal(moving) {
		if err := s.primary.Append(raw); err != nil {
			return fmt.Errorf("restore %s: %w", moving, err)
		}
		s.elements = append(s.elements, moving)
	}
	if err := s.transfer.Clear(); err != nil {
		return fmt.Errorf("clear transfer: %w", err)
	}
	return nil
}

// RollbackAll rolls back every command, most recent first. It stops at the
// first error: a locked stack, a failed rollback, a refusing guard or a
// cancelled context. Commands not yet reached stay in the journal.
func (s *Stack) RollbackAll(ctx context.Context) error {
	if s.IsLocked() {
		return ErrLocked
	}
	for s.pending() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.guard != nil {
			if err := s.guard(ctx, s); err != nil {
				return fmt.Errorf("rollback guard: %w", err)
			}
		}
		if _, err := s.RollbackAndPop(ctx); err != nil {
			if errors.Is(err, ErrEmpty) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Stack) pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return len(s.elements) > 0 || s.transfer.Len() > 0
}

// SetLocked sets the lock flag and persists it as a marker file next to the
// primary queue.
func (s *Stack) SetLocked(locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if locked == s.locked {
		return nil
	}
	if locked {
		if err := writeMarker(s.lockPath); err != nil {
			return err
		}
	} else if err := os.Remove(s.lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock marker: %w", err)
	}
	s.locked = locked
	s.log.Info("lock state changed", "locked", locked)
	return nil
}

func (s *Stack) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Size returns the number of entries not yet rolled back.
func (s *Stack) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.elements)
}

// Elements returns a copy of the entries, bottom first.
func (s *Stack) Elements() []command.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]command.Element, len(s.elements))
	copy(out, s.elements)
	return out
}

func (s *Stack) PrimaryPath() string { return s.primary.Path() }

// String lists the entries as {command, order} pairs, bottom first.
func (s *Stack) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := make([]string, len(s.elements))
	for i, el := range s.elements {
		parts[i] = el.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Close releases the queue files. The journal stays on disk.
func (s *Stack) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.primary.Close(), s.transfer.Close())
}

// Discard deletes the journal: both queue files and the lock marker.
func (s *Stack) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.elements = nil
	err := errors.Join(s.primary.Remove(), s.transfer.Remove())
	if rerr := os.Remove(s.lockPath); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
		err = errors.Join(err, fmt.Errorf("remove lock marker: %w", rerr))
	}
	if err != nil {
		return fmt.Errorf("discard journal: %w", err)
	}
	s.log.Debug("journal discarded")
	return nil
}

func (s *Stack) writable() error {
	if s.closed {
		return ErrClosed
	}
	if s.locked {
		return ErrLocked
	}
	return nil
}

func (s *Stack) top() (command.Element, bool) {
	if len(s.elements) == 0 {
		return command.Element{}, false
	}
	return s.elements[len(s.elements)-1], true
}

func (s *Stack) observe(ctx context.Context, op string, ok bool, d time.Duration) {
	if s.observer != nil {
		s.observer.Observe(ctx, op, ok, d)
	}
}

func (s *Stack) recoveryEvent(event string) {
	if s.observer != nil {
		s.observer.RecoveryEvent(event)
	}
}

func writeMarker(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create lock marker: %w", err)
	}
	if _, err := f.WriteString(time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		_ = f.Close()
		return fmt.Errorf("write lock marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync lock marker: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	d, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
