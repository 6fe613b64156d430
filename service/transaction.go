package service

import (
	"context"
	"errors"
	"fmt"

	"regjournal/domain/command"
	"regjournal/rollback"
)

// Transaction is a unit of registration work recorded in one journal.
type Transaction struct {
	name  string
	stack *rollback.Stack
	m     *Manager
	done  bool
}

func (t *Transaction) Name() string           { return t.name }
func (t *Transaction) Stack() *rollback.Stack { return t.stack }

// Do journals cmd and executes it.
func (t *Transaction) Do(ctx context.Context, cmd command.Command) error {
	if t.done {
		return fmt.Errorf("transaction %s already finished", t.name)
	}
	return t.stack.PushAndExecute(ctx, cmd)
}

// Commit keeps every effect and deletes the journal.
func (t *Transaction) Commit() error {
	if t.done {
		return fmt.Errorf("transaction %s already finished", t.name)
	}
	if err := t.stack.Discard(); err != nil {
		return fmt.Errorf("commit %s: %w", t.name, err)
	}
	t.done = true
	t.m.forget(t.name)
	return nil
}

// Rollback undoes every effect, newest first. When that fails, or the
// journal is locked, the journal is parked and kept on disk.
func (t *Transaction) Rollback(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction %s already finished", t.name)
	}
	t.done = true
	if err := t.m.rollbackAndDiscard(ctx, t.name, t.stack); err != nil {
		if errors.Is(err, errDiscard) {
			t.m.log.Error("transaction rolled back, journal files left behind", "journal", t.name, "err", err)
			return fmt.Errorf("rollback %s: %w", t.name, err)
		}
		t.m.park(t.name, t.stack)
		t.m.log.Error("transaction rollback incomplete, journal parked", "journal", t.name, "err", err)
		return fmt.Errorf("rollback %s: %w", t.name, err)
	}
	return nil
}
