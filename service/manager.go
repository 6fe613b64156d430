package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"regjournal/domain/command"
	"regjournal/rollback"
)

const (
	primarySuffix  = ".queue1"
	transferSuffix = ".queue2"
)

var ErrNotFound = errors.New("service: journal not found")

/*
Manager owns every rollback journal in one directory.

A journal is either active (its transaction is running in this process) or
parked (left over from a dead process and not yet rolled back, typically
because an operator locked it).
*/
type Manager struct {
	dir      string
	registry *command.Registry
	log      *slog.Logger
	observer rollback.Observer
	guard    rollback.Guard
	now      func() time.Time

	mu       sync.Mutex
	journals map[string]*journal
}

type journal struct {
	stack  *rollback.Stack
	parked bool
}

// StackInfo summarizes one journal.
type StackInfo struct {
	Name     string
	Size     int
	Locked   bool
	Parked   bool
	Elements []string
}

type ManagerOption func(*Manager)

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

func WithObserver(o rollback.Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// WithRollbackGuard is installed on every journal the manager opens.
func WithRollbackGuard(g rollback.Guard) ManagerOption {
	return func(m *Manager) { m.guard = g }
}

func NewManager(dir string, registry *command.Registry, opts ...ManagerOption) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	m := &Manager{
		dir:      dir,
		registry: registry,
		log:      slog.Default(),
		now:      time.Now,
		journals: make(map[string]*journal),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "manager")
	return m, nil
}

func (m *Manager) open(name string) (*rollback.Stack, error) {
	opts := []rollback.Option{
		rollback.WithRegistry(m.registry),
		rollback.WithLogger(m.log),
	}
	if m.observer != nil {
		opts = append(opts, rollback.WithObserver(m.observer))
	}
	if m.guard != nil {
		opts = append(opts, rollback.WithRollbackGuard(m.guard))
	}
	return rollback.Open(
		filepath.Join(m.dir, name+primarySuffix),
		filepath.Join(m.dir, name+transferSuffix),
		opts...,
	)
}

// newName returns <yyyyMMddHHmmssSSS>-<uuid>; names sort by creation time.
func (m *Manager) newName() string {
	t := m.now().UTC()
	return fmt.Sprintf("%s%03d-%s", t.Format("20060102150405"), t.Nanosecond()/int(time.Millisecond), uuid.NewString())
}

// -------------------- Transactions --------------------

// Begin starts a transaction backed by a new journal.
func (m *Manager) Begin(ctx context.Context) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := m.newName()
	s, err := m.open(name)
	if err != nil {
		return nil, fmt.Errorf("begin %s: %w", name, err)
	}
	m.mu.Lock()
	m.journals[name] = &journal{stack: s}
	m.mu.Unlock()
	m.log.Debug("transaction started", "journal", name)
	return &Transaction{name: name, stack: s, m: m}, nil
}

func (m *Manager) forget(name string) {
	m.mu.Lock()
	delete(m.journals, name)
	m.mu.Unlock()
}

func (m *Manager) park(name string, s *rollback.Stack) {
	m.mu.Lock()
	m.journals[name] = &journal{stack: s, parked: true}
	m.mu.Unlock()
}

// -------------------- Recovery --------------------

// RecoveryReport lists what RecoverDead did with each journal.
type RecoveryReport struct {
	RolledBack []string
	Parked     []string
	Failed     []string
}

/*
RecoverDead rolls back the journals left behind by a dead process.

IMPORTANT:
- This MUST run before accepting traffic
- Locked journals are parked for operators, not rolled back
- A journal whose rollback fails stays parked and keeps its files
*/
func (m *Manager) RecoverDead(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	names, err := m.findJournals()
	if err != nil {
		return report, err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		m.mu.Lock()
		_, known := m.journals[name]
		m.mu.Unlock()
		if known {
			continue
		}

		s, err := m.open(name)
		if err != nil {
			m.log.Error("cannot open dead journal", "journal", name, "err", err)
			report.Failed = append(report.Failed, name)
			continue
		}
		if s.IsLocked() {
			m.log.Info("dead journal is locked, parking", "journal", name, "size", s.Size())
			m.park(name, s)
			report.Parked = append(report.Parked, name)
			continue
		}
		if err := m.rollbackAndDiscard(ctx, name, s); err != nil {
			report.Failed = append(report.Failed, name)
			if errors.Is(err, errDiscard) {
				m.log.Error("dead journal rolled back but not removed", "journal", name, "err", err)
				continue
			}
			m.log.Error("dead journal rollback failed, parking", "journal", name, "err", err)
			m.park(name, s)
			continue
		}
		report.RolledBack = append(report.RolledBack, name)
	}
	m.log.Info("dead journals recovered",
		"rolled_back", len(report.RolledBack),
		"parked", len(report.Parked),
		"failed", len(report.Failed),
	)
	return report, nil
}

// errDiscard marks a journal that was fully rolled back but whose files could
// not be removed. The stack is closed by then; the files are left for the
// next RecoverDead.
var errDiscard = errors.New("discard journal")

func (m *Manager) rollbackAndDiscard(ctx context.Context, name string, s *rollback.Stack) error {
	size := s.Size()
	if err := s.RollbackAll(ctx); err != nil {
		return err
	}
	if err := s.Discard(); err != nil {
		m.forget(name)
		return fmt.Errorf("%w %s: %w", errDiscard, name, err)
	}
	m.forget(name)
	m.log.Info("journal rolled back", "journal", name, "entries", size)
	return nil
}

func (m *Manager) findJournals() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list journals: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), primarySuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), primarySuffix))
	}
	sort.Strings(names)
	return names, nil
}

// -------------------- Admin --------------------

// Stacks lists the open journals by name.
func (m *Manager) Stacks() []StackInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StackInfo, 0, len(m.journals))
	for name, j := range m.journals {
		out = append(out, StackInfo{Name: name, Size: j.stack.Size(), Locked: j.stack.IsLocked(), Parked: j.parked})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Describe returns one journal including its entries, bottom first.
func (m *Manager) Describe(name string) (StackInfo, error) {
	j, err := m.lookup(name)
	if err != nil {
		return StackInfo{}, err
	}
	els := j.stack.Elements()
	info := StackInfo{Name: name, Size: len(els), Locked: j.stack.IsLocked(), Parked: j.parked}
	for _, el := range els {
		info.Elements = append(info.Elements, el.String())
	}
	return info, nil
}

func (m *Manager) SetLocked(name string, locked bool) error {
	j, err := m.lookup(name)
	if err != nil {
		return err
	}
	return j.stack.SetLocked(locked)
}

// RollbackStack rolls back a parked journal and discards it on success.
func (m *Manager) RollbackStack(ctx context.Context, name string) error {
	j, err := m.lookup(name)
	if err != nil {
		return err
	}
	if !j.parked {
		return fmt.Errorf("journal %s belongs to a running transaction", name)
	}
	return m.rollbackAndDiscard(ctx, name, j.stack)
}

func (m *Manager) lookup(name string) (*journal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.journals[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return j, nil
}

// Close releases every open journal without deleting it.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for name, j := range m.journals {
		if err := j.stack.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	m.journals = make(map[string]*journal)
	return errors.Join(errs...)
}
