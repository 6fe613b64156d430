package service

import (
	"context"
	"errors"
	"time"

	"regjournal/rollback"
)

// SweepParked rolls back every parked journal that is no longer locked and
// returns how many were discarded.
func (m *Manager) SweepParked(ctx context.Context) int {
	var names []string
	for _, info := range m.Stacks() {
		if info.Parked && !info.Locked {
			names = append(names, info.Name)
		}
	}
	n := 0
	for _, name := range names {
		err := m.RollbackStack(ctx, name)
		switch {
		case err == nil:
			n++
		case errors.Is(err, rollback.ErrLocked), errors.Is(err, ErrNotFound):
			// changed under us; next sweep
		default:
			m.log.Error("parked journal rollback failed", "journal", name, "err", err)
		}
	}
	return n
}

// StartSweepJob runs SweepParked every interval until ctx is done.
func (m *Manager) StartSweepJob(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.SweepParked(ctx)
			}
		}
	}()
}
