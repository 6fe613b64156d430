package rollback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"regjournal/domain/command"
	"regjournal/infra/queue"
)

const (
	stateExecuted   = "EXECUTED"
	stateRolledBack = "ROLLEDBACK"
)

// tracker records what the test commands did.
type tracker struct {
	mu           sync.Mutex
	state        map[string]string
	rolledBack   []string
	observed     map[string]string
	failRollback map[string]int
	failExecute  map[string]bool
}

func newTracker() *tracker {
	return &tracker{
		state:        map[string]string{},
		observed:     map[string]string{},
		failRollback: map[string]int{},
		failExecute:  map[string]bool{},
	}
}

func (tr *tracker) stateOf(name string) string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.state[name]
}

func (tr *tracker) order() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.rolledBack...)
}

type testCmd struct {
	Name string `json:"name"`
	Pred string `json:"pred,omitempty"`
	Pad  string `json:"pad,omitempty"`

	tr *tracker
}

func (c *testCmd) Kind() string                   { return "test" }
func (c *testCmd) MarshalBinary() ([]byte, error) { return json.Marshal(c) }
func (c *testCmd) String() string                 { return c.Name }

func (c *testCmd) Execute(ctx context.Context) error {
	c.tr.mu.Lock()
	defer c.tr.mu.Unlock()
	if c.tr.failExecute[c.Name] {
		return errors.New("execute refused")
	}
	c.tr.state[c.Name] = stateExecuted
	return nil
}

func (c *testCmd) Rollback(ctx context.Context) error {
	c.tr.mu.Lock()
	defer c.tr.mu.Unlock()
	if n := c.tr.failRollback[c.Name]; n > 0 {
		c.tr.failRollback[c.Name] = n - 1
		return errors.New("rollback refused")
	}
	if c.Pred != "" {
		c.tr.observed[c.Name] = c.tr.state[c.Pred]
	}
	c.tr.state[c.Name] = stateRolledBack
	c.tr.rolledBack = append(c.tr.rolledBack, c.Name)
	return nil
}

type fixture struct {
	t        *testing.T
	dir      string
	primary  string
	transfer string
	tr       *tracker
	reg      *command.Registry
	obs      *countingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	tr := newTracker()
	reg := command.NewRegistry()
	err := reg.Register("test", func(p []byte) (command.Command, error) {
		c := &testCmd{tr: tr}
		if err := json.Unmarshal(p, c); err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return &fixture{
		t:        t,
		dir:      dir,
		primary:  filepath.Join(dir, "tx.queue1"),
		transfer: filepath.Join(dir, "tx.queue2"),
		tr:       tr,
		reg:      reg,
		obs:      &countingObserver{events: map[string]int{}},
	}
}

func (f *fixture) open(opts ...Option) *Stack {
	f.t.Helper()
	opts = append([]Option{WithRegistry(f.reg), WithObserver(f.obs)}, opts...)
	s, err := Open(f.primary, f.transfer, opts...)
	if err != nil {
		f.t.Fatalf("open stack: %v", err)
	}
	return s
}

func (f *fixture) cmd(name string) *testCmd {
	return &testCmd{Name: name, tr: f.tr}
}

func (f *fixture) push(s *Stack, cmds ...*testCmd) {
	f.t.Helper()
	for _, c := range cmds {
		if err := s.PushAndExecute(context.Background(), c); err != nil {
			f.t.Fatalf("push %s: %v", c.Name, err)
		}
	}
}

type countingObserver struct {
	mu     sync.Mutex
	ops    int
	events map[string]int
}

func (o *countingObserver) Observe(ctx context.Context, op string, ok bool, d time.Duration) {
	o.mu.Lock()
	o.ops++
	o.mu.Unlock()
}

func (o *countingObserver) RecoveryEvent(event string) {
	o.mu.Lock()
	o.events[event]++
	o.mu.Unlock()
}

func (o *countingObserver) count(event string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.events[event]
}

func TestStack_RollbackAllReverseOrder(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	defer s.Close()

	var want []string
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("cmd-%d", i)
		f.push(s, f.cmd(name))
		want = append([]string{name}, want...)
	}
	if err := s.RollbackAll(context.Background()); err != nil {
		t.Fatalf("rollback all: %v", err)
	}
	if got := f.tr.order(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected rollback order %v, got %v", want, got)
	}
	if s.Size() != 0 {
		t.Fatalf("expected empty stack, got %d", s.Size())
	}
}

func TestStack_RollbackAndPopReturnsMostRecent(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	defer s.Close()

	if _, err := s.RollbackAndPop(context.Background()); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	f.push(s, f.cmd("a"), f.cmd("b"))
	got, err := s.RollbackAndPop(context.Background())
	if err != nil {
		t.Fatalf("rollback and pop: %v", err)
	}
	if !command.Equal(got, f.cmd("b")) {
		t.Fatalf("expected b, got %s", command.Describe(got))
	}
	if f.tr.stateOf("a") != stateExecuted {
		t.Fatalf("expected a untouched, got %s", f.tr.stateOf("a"))
	}
}

func TestStack_ReopenPreservesContents(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	f.push(s, f.cmd("a"), f.cmd("b"), f.cmd("c"))
	before := s.String()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s = f.open()
	defer s.Close()
	if s.Size() != 3 {
		t.Fatalf("expected size 3, got %d", s.Size())
	}
	if s.String() != before {
		t.Fatalf("expected %s, got %s", before, s.String())
	}
	if before != "[{a, 0}, {b, 1}, {c, 2}]" {
		t.Fatalf("unexpected listing %s", before)
	}

	f.push(s, f.cmd("d"))
	els := s.Elements()
	if els[3].Order != 3 {
		t.Fatalf("expected order to continue at 3, got %d", els[3].Order)
	}
}

func TestStack_OrderRestartsAtTopAfterReopen(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	f.push(s, f.cmd("a"), f.cmd("b"))
	if _, err := s.RollbackAndPop(context.Background()); err != nil {
		t.Fatalf("pop: %v", err)
	}
	f.push(s, f.cmd("c"))
	if got := s.String(); got != "[{a, 0}, {c, 2}]" {
		t.Fatalf("expected orders to keep increasing while open, got %s", got)
	}
	if _, err := s.RollbackAndPop(context.Background()); err != nil {
		t.Fatalf("pop: %v", err)
	}
	_ = s.Close()

	s = f.open()
	defer s.Close()
	f.push(s, f.cmd("d"))
	if got := s.String(); got != "[{a, 0}, {d, 1}]" {
		t.Fatalf("expected order to continue from the top after reopen, got %s", got)
	}
}

func TestStack_LockedStackRefusesMutation(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	f.push(s, f.cmd("a"), f.cmd("b"))

	if err := s.SetLocked(true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx := context.Background()
	if err := s.RollbackAll(ctx); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked from rollback all, got %v", err)
	}
	if _, err := s.RollbackAndPop(ctx); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked from rollback and pop, got %v", err)
	}
	if err := s.PushAndExecute(ctx, f.cmd("c")); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked from push, got %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if f.tr.stateOf(name) != stateExecuted {
			t.Fatalf("expected %s executed, got %s", name, f.tr.stateOf(name))
		}
	}
	if s.Size() != 2 {
		t.Fatalf("expected size 2, got %d", s.Size())
	}

	// lock survives a restart
	_ = s.Close()
	s = f.open()
	defer s.Close()
	if !s.IsLocked() {
		t.Fatalf("expected stack to stay locked after reopen")
	}

	if err := s.SetLocked(false); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := s.RollbackAll(ctx); err != nil {
		t.Fatalf("rollback all after unlock: %v", err)
	}
	if f.tr.stateOf("a") != stateRolledBack || f.tr.stateOf("b") != stateRolledBack {
		t.Fatalf("expected both rolled back")
	}
	if _, err := os.Stat(f.primary + lockSuffix); !os.IsNotExist(err) {
		t.Fatalf("expected lock marker removed, stat err %v", err)
	}
}

func TestStack_PredecessorStillExecutedDuringRollback(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	defer s.Close()

	b := f.cmd("b")
	b.Pred = "a"
	f.push(s, f.cmd("a"), b)

	if err := s.RollbackAll(context.Background()); err != nil {
		t.Fatalf("rollback all: %v", err)
	}
	if got := f.tr.observed["b"]; got != stateExecuted {
		t.Fatalf("expected b to see a %s, got %q", stateExecuted, got)
	}
	if f.tr.stateOf("a") != stateRolledBack {
		t.Fatalf("expected a rolled back")
	}
}

func TestStack_CrashDuringMoveKeepsOneDuplicate(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	f.push(s, f.cmd("a"), f.cmd("b"), f.cmd("c"))
	_ = s.Close()

	// crash after the record reached the transfer queue, before the
	// primary was truncated
	recs, err := queue.ReadAll(f.primary)
	if err != nil {
		t.Fatalf("read primary: %v", err)
	}
	tq, err := queue.Open(f.transfer)
	if err != nil {
		t.Fatalf("open transfer: %v", err)
	}
	if err := tq.Append(recs[len(recs)-1]); err != nil {
		t.Fatalf("append transfer: %v", err)
	}
	_ = tq.Close()

	s = f.open()
	defer s.Close()
	if s.Size() != 4 {
		t.Fatalf("expected size 4, got %d (%s)", s.Size(), s)
	}
	if f.obs.count(EventDuplicateKept) != 1 {
		t.Fatalf("expected duplicate event")
	}
	left, _ := queue.ReadAll(f.transfer)
	if len(left) != 0 {
		t.Fatalf("expected transfer cleared, got %d records", len(left))
	}

	for i := 0; i < 4; i++ {
		if _, err := s.RollbackAndPop(context.Background()); err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
	}
	if got := strings.Join(f.tr.order(), ","); got != "c,c,b,a" {
		t.Fatalf("expected c,c,b,a, got %s", got)
	}
	for _, name := range []string{"a", "b", "c"} {
		if f.tr.stateOf(name) != stateRolledBack {
			t.Fatalf("expected %s rolled back", name)
		}
	}
}

func TestStack_TransferRecordAbsentFromPrimaryIsDiscarded(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	f.push(s, f.cmd("a"), f.cmd("b"))
	_ = s.Close()

	// crash after the primary was truncated: c is only in the transfer queue
	raw, err := command.EncodeElement(command.Element{Command: f.cmd("c"), Order: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	tq, _ := queue.Open(f.transfer)
	_ = tq.Append(raw)
	_ = tq.Close()

	s = f.open()
	defer s.Close()
	if s.Size() != 2 {
		t.Fatalf("expected size 2, got %d", s.Size())
	}
	if f.obs.count(EventTransferDiscarded) != 1 {
		t.Fatalf("expected discard event")
	}
	if info, _ := os.Stat(f.transfer); info.Size() != 0 {
		t.Fatalf("expected empty transfer file, got %d bytes", info.Size())
	}
}

func TestStack_GrowingPayloads(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	defer s.Close()

	for i := 0; i <= 128; i++ {
		c := f.cmd(fmt.Sprintf("cmd-%d", i))
		c.Pad = strings.Repeat("p", i)
		f.push(s, c)
	}
	if s.Size() != 129 {
		t.Fatalf("expected 129 entries, got %d", s.Size())
	}
	if err := s.RollbackAll(context.Background()); err != nil {
		t.Fatalf("rollback all: %v", err)
	}
	order := f.tr.order()
	if len(order) != 129 || order[0] != "cmd-128" || order[128] != "cmd-0" {
		t.Fatalf("unexpected rollback order, first=%s last=%s", order[0], order[len(order)-1])
	}
}

func TestStack_TornPrimaryTailIsDropped(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	f.push(s, f.cmd("a"), f.cmd("b"))
	_ = s.Close()

	fh, err := os.OpenFile(f.primary, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open primary: %v", err)
	}
	_, _ = fh.Write([]byte{0x40, 0x00, 0x00})
	_ = fh.Close()

	s = f.open()
	defer s.Close()
	if s.Size() != 2 {
		t.Fatalf("expected size 2, got %d", s.Size())
	}
	if f.obs.count(EventTornFrameDropped) != 1 {
		t.Fatalf("expected torn frame event")
	}
}

func TestStack_RollbackFailureRestoresElement(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	defer s.Close()
	f.push(s, f.cmd("a"), f.cmd("b"), f.cmd("c"))
	f.tr.failRollback["c"] = 1

	err := s.RollbackAll(context.Background())
	if !errors.Is(err, ErrRollback) {
		t.Fatalf("expected ErrRollback, got %v", err)
	}
	if s.Size() != 3 {
		t.Fatalf("expected size 3, got %d", s.Size())
	}
	if left, _ := queue.ReadAll(f.transfer); len(left) != 1 {
		t.Fatalf("expected record kept in transfer, got %d", len(left))
	}

	if err := s.RollbackAll(context.Background()); err != nil {
		t.Fatalf("retry rollback all: %v", err)
	}
	if got := strings.Join(f.tr.order(), ","); got != "c,b,a" {
		t.Fatalf("expected c,b,a, got %s", got)
	}
	if left, _ := queue.ReadAll(f.transfer); len(left) != 0 {
		t.Fatalf("expected transfer cleared, got %d", len(left))
	}
}

func TestStack_RollbackFailureRecoversAfterRestart(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	f.push(s, f.cmd("a"), f.cmd("b"))
	f.tr.failRollback["b"] = 1
	if _, err := s.RollbackAndPop(context.Background()); !errors.Is(err, ErrRollback) {
		t.Fatalf("expected ErrRollback, got %v", err)
	}
	_ = s.Close()

	s = f.open()
	defer s.Close()
	if s.Size() != 3 {
		t.Fatalf("expected size 3 after restart, got %d", s.Size())
	}
	if err := s.RollbackAll(context.Background()); err != nil {
		t.Fatalf("rollback all: %v", err)
	}
	if got := strings.Join(f.tr.order(), ","); got != "b,b,a" {
		t.Fatalf("expected b,b,a, got %s", got)
	}
}

func TestStack_ExecuteFailureKeepsEntry(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	defer s.Close()
	f.tr.failExecute["a"] = true

	err := s.PushAndExecute(context.Background(), f.cmd("a"))
	if !errors.Is(err, ErrExecute) {
		t.Fatalf("expected ErrExecute, got %v", err)
	}
	if s.Size() != 1 {
		t.Fatalf("expected the entry to stay, size %d", s.Size())
	}
	if err := s.RollbackAll(context.Background()); err != nil {
		t.Fatalf("rollback all: %v", err)
	}
}

func TestStack_EqualCommandsAreInterchangeable(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	f.push(s, f.cmd("a"))
	_ = s.Close()

	s = f.open()
	defer s.Close()
	el := s.Elements()[0]
	if !command.Equal(el.Command, f.cmd("a")) {
		t.Fatalf("expected decoded command to equal a fresh one")
	}
	if command.Equal(el.Command, f.cmd("b")) {
		t.Fatalf("expected a and b to differ")
	}
}

func TestStack_SecondOpenIsRejected(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	defer s.Close()

	if _, err := Open(f.primary, f.transfer, WithRegistry(f.reg)); !errors.Is(err, ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
}

func TestStack_GuardStopsRollbackAll(t *testing.T) {
	f := newFixture(t)
	calls := 0
	refuse := errors.New("staging unavailable")
	s := f.open(WithRollbackGuard(func(ctx context.Context, s *Stack) error {
		calls++
		if calls == 2 {
			return refuse
		}
		return nil
	}))
	defer s.Close()
	f.push(s, f.cmd("a"), f.cmd("b"), f.cmd("c"))

	if err := s.RollbackAll(context.Background()); !errors.Is(err, refuse) {
		t.Fatalf("expected guard error, got %v", err)
	}
	if s.Size() != 2 {
		t.Fatalf("expected size 2, got %d", s.Size())
	}
}

func TestStack_RollbackAllStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	defer s.Close()
	f.push(s, f.cmd("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.RollbackAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Size() != 1 {
		t.Fatalf("expected entry untouched")
	}
}

func TestStack_Discard(t *testing.T) {
	f := newFixture(t)
	s := f.open()
	f.push(s, f.cmd("a"))
	_ = s.SetLocked(true)

	if err := s.Discard(); err != nil {
		t.Fatalf("discard: %v", err)
	}
	for _, p := range []string{f.primary, f.transfer, f.primary + lockSuffix} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s removed, stat err %v", p, err)
		}
	}
	if err := s.PushAndExecute(context.Background(), f.cmd("b")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Discard(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on second discard, got %v", err)
	}
}
