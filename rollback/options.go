package rollback

import (
	"context"
	"log/slog"
	"time"

	"regjournal/domain/command"
)

// Observer receives operation timings and recovery events.
type Observer interface {
	Observe(ctx context.Context, operation string, success bool, d time.Duration)
	RecoveryEvent(event string)
}

// Guard is consulted before every step of RollbackAll. A non-nil error stops
// the loop and is returned to the caller.
type Guard func(ctx context.Context, s *Stack) error

// Recovery event names reported to the Observer.
const (
	EventTornFrameDropped  = "torn_frame_dropped"
	EventDuplicateKept     = "duplicate_kept"
	EventTransferDiscarded = "transfer_discarded"
)

type options struct {
	registry *command.Registry
	logger   *slog.Logger
	observer Observer
	guard    Guard
}

type Option func(*options)

// WithRegistry sets the registry used to decode persisted commands.
func WithRegistry(r *command.Registry) Option {
	return func(o *options) { o.registry = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithRollbackGuard installs a guard for RollbackAll.
func WithRollbackGuard(g Guard) Option {
	return func(o *options) { o.guard = g }
}
