package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-orders/app/gateway"
	"github.com/vibast-solutions/ms-go-orders/config"
)

type scriptedChecker struct {
	mu        sync.Mutex
	calls     int
	snapshots []*gateway.StatusSnapshot
	errs      []error
}

func (c *scriptedChecker) CheckStatus(_ context.Context, paymentID string) (*gateway.StatusSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	c.calls++
	if idx < len(c.errs) && c.errs[idx] != nil {
		return nil, c.errs[idx]
	}
	if idx < len(c.snapshots) {
		return c.snapshots[idx], nil
	}
	return &gateway.StatusSnapshot{ID: paymentID, Status: gateway.StatusPending}, nil
}

func (c *scriptedChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type recordingCommitter struct {
	mu       sync.Mutex
	commits  []string
	expires  []string
	observed []string
	result   TransitionResult
}

func (r *recordingCommitter) CommitGatewayStatus(_ context.Context, _ uint64, paymentReference string, snapshot *gateway.StatusSnapshot) (TransitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, paymentReference+":"+snapshot.Status)
	return r.result, nil
}

func (r *recordingCommitter) MarkExpired(_ context.Context, _ uint64, paymentReference string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expires = append(r.expires, paymentReference)
	return true, nil
}

func (r *recordingCommitter) PaymentStatusObserved(_ context.Context, _ uint64, _, oldStatus, newStatus string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed = append(r.observed, oldStatus+">"+newStatus)
}

func (r *recordingCommitter) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commits)
}

func (r *recordingCommitter) expireCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expires)
}

type resultCollector struct {
	mu      sync.Mutex
	results []SessionResult
	signal  chan SessionResult
}

func newResultCollector() *resultCollector {
	return &resultCollector{signal: make(chan SessionResult, 16)}
}

func (c *resultCollector) HandleSessionResult(result SessionResult) {
	c.mu.Lock()
	c.results = append(c.results, result)
	c.mu.Unlock()
	c.signal <- result
}

func (c *resultCollector) wait(t *testing.T, timeout time.Duration) SessionResult {
	t.Helper()
	select {
	case result := <-c.signal:
		return result
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for session result")
		return SessionResult{}
	}
}

func snapshots(statuses ...string) []*gateway.StatusSnapshot {
	items := make([]*gateway.StatusSnapshot, 0, len(statuses))
	for _, status := range statuses {
		items = append(items, &gateway.StatusSnapshot{ID: "mp-1", Status: status})
	}
	return items
}

func TestNextDelayProgressesThroughPhases(t *testing.T) {
	cfg := config.PollingConfig{
		FastInterval:        3 * time.Second,
		MediumInterval:      10 * time.Second,
		SlowInterval:        30 * time.Second,
		FastPhaseAttempts:   10,
		MediumPhaseAttempts: 30,
	}
	c := NewPollingCoordinator(&scriptedChecker{}, &recordingCommitter{}, nil, cfg)

	if got := c.nextDelay(1); got != 3*time.Second {
		t.Fatalf("attempt 1: expected fast interval, got %s", got)
	}
	if got := c.nextDelay(9); got != 3*time.Second {
		t.Fatalf("attempt 9: expected fast interval, got %s", got)
	}
	if got := c.nextDelay(10); got != 10*time.Second {
		t.Fatalf("attempt 10: expected medium interval, got %s", got)
	}
	if got := c.nextDelay(29); got != 10*time.Second {
		t.Fatalf("attempt 29: expected medium interval, got %s", got)
	}
	if got := c.nextDelay(30); got != 30*time.Second {
		t.Fatalf("attempt 30: expected slow interval, got %s", got)
	}
	if got := c.nextDelay(89); got != 30*time.Second {
		t.Fatalf("attempt 89: expected slow interval, got %s", got)
	}
}

func TestPollingCommitsApprovedOnce(t *testing.T) {
	checker := &scriptedChecker{snapshots: snapshots(
		gateway.StatusPending,
		gateway.StatusInProcess,
		gateway.StatusApproved,
	)}
	committer := &recordingCommitter{result: TransitionApplied}
	sink := newResultCollector()

	c := NewPollingCoordinator(checker, committer, sink, testPollingConfig())
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})

	result := sink.wait(t, 2*time.Second)
	if result.Outcome != OutcomeApproved {
		t.Fatalf("expected approved outcome, got %s", result.Outcome)
	}
	if !result.Applied {
		t.Fatalf("expected the commit to be applied")
	}
	if result.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.Attempts)
	}
	if committer.commitCount() != 1 {
		t.Fatalf("expected exactly one commit, got %d", committer.commitCount())
	}
	if c.IsActive("mp-1") {
		t.Fatalf("expected session to be unregistered after terminal status")
	}
}

func TestPollingReportsDuplicateWhenAnotherPathWon(t *testing.T) {
	checker := &scriptedChecker{snapshots: snapshots(gateway.StatusApproved)}
	committer := &recordingCommitter{result: TransitionDuplicate}
	sink := newResultCollector()

	c := NewPollingCoordinator(checker, committer, sink, testPollingConfig())
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})

	result := sink.wait(t, 2*time.Second)
	if result.Outcome != OutcomeApproved {
		t.Fatalf("expected approved outcome, got %s", result.Outcome)
	}
	if result.Applied {
		t.Fatalf("expected applied=false when another path committed first")
	}
}

func TestPollingAbortsAfterConsecutiveErrors(t *testing.T) {
	checkErr := errors.New("gateway unavailable")
	checker := &scriptedChecker{errs: []error{checkErr, checkErr, checkErr, checkErr, checkErr}}
	committer := &recordingCommitter{}
	sink := newResultCollector()

	cfg := testPollingConfig()
	cfg.MaxConsecutiveErrors = 5

	c := NewPollingCoordinator(checker, committer, sink, cfg)
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})

	result := sink.wait(t, 2*time.Second)
	if result.Outcome != OutcomeErrored {
		t.Fatalf("expected errored outcome, got %s", result.Outcome)
	}
	if checker.callCount() != 5 {
		t.Fatalf("expected 5 checks before aborting, got %d", checker.callCount())
	}
	if committer.commitCount() != 0 {
		t.Fatalf("expected no commits, got %d", committer.commitCount())
	}
}

func TestPollingErrorCounterResetsOnSuccess(t *testing.T) {
	checkErr := errors.New("gateway unavailable")
	checker := &scriptedChecker{
		errs:      []error{checkErr, checkErr, nil, checkErr, checkErr, nil},
		snapshots: []*gateway.StatusSnapshot{nil, nil, {ID: "mp-1", Status: gateway.StatusPending}, nil, nil, {ID: "mp-1", Status: gateway.StatusApproved}},
	}
	committer := &recordingCommitter{result: TransitionApplied}
	sink := newResultCollector()

	cfg := testPollingConfig()
	cfg.MaxConsecutiveErrors = 3

	c := NewPollingCoordinator(checker, committer, sink, cfg)
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})

	result := sink.wait(t, 2*time.Second)
	if result.Outcome != OutcomeApproved {
		t.Fatalf("expected approved outcome, got %s", result.Outcome)
	}
}

func TestPollingExpiresAtMaxAttempts(t *testing.T) {
	checker := &scriptedChecker{}
	committer := &recordingCommitter{}
	sink := newResultCollector()

	cfg := testPollingConfig()
	cfg.FastPhaseAttempts = 2
	cfg.MediumPhaseAttempts = 3
	cfg.MaxAttempts = 4

	c := NewPollingCoordinator(checker, committer, sink, cfg)
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})

	result := sink.wait(t, 2*time.Second)
	if result.Outcome != OutcomeExpired {
		t.Fatalf("expected expired outcome, got %s", result.Outcome)
	}
	if result.Attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", result.Attempts)
	}
	if committer.expireCount() != 1 {
		t.Fatalf("expected one expire call, got %d", committer.expireCount())
	}
}

func TestPollingExpiresOnSessionDeadline(t *testing.T) {
	checker := &scriptedChecker{}
	committer := &recordingCommitter{}
	sink := newResultCollector()

	cfg := testPollingConfig()
	cfg.SlowInterval = 50 * time.Millisecond
	cfg.MediumInterval = 50 * time.Millisecond
	cfg.FastInterval = 50 * time.Millisecond
	cfg.SessionDeadline = 20 * time.Millisecond

	c := NewPollingCoordinator(checker, committer, sink, cfg)
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})

	result := sink.wait(t, 2*time.Second)
	if result.Outcome != OutcomeExpired {
		t.Fatalf("expected expired outcome on deadline, got %s", result.Outcome)
	}
	if committer.expireCount() != 1 {
		t.Fatalf("expected one expire call, got %d", committer.expireCount())
	}
}

func TestStopPollingReportsStoppedWithoutCommit(t *testing.T) {
	checker := &scriptedChecker{}
	committer := &recordingCommitter{}
	sink := newResultCollector()

	cfg := testPollingConfig()
	cfg.FastInterval = 50 * time.Millisecond

	c := NewPollingCoordinator(checker, committer, sink, cfg)
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})
	c.StopPolling("mp-1")

	result := sink.wait(t, 2*time.Second)
	if result.Outcome != OutcomeStopped {
		t.Fatalf("expected stopped outcome, got %s", result.Outcome)
	}
	if committer.commitCount() != 0 || committer.expireCount() != 0 {
		t.Fatalf("expected no commits after stop")
	}
	if c.IsActive("mp-1") {
		t.Fatalf("expected session to be gone after stop")
	}
}

func TestStartPollingReplacesExistingSession(t *testing.T) {
	checker := &scriptedChecker{}
	committer := &recordingCommitter{}
	sink := newResultCollector()

	cfg := testPollingConfig()
	cfg.FastInterval = 50 * time.Millisecond

	c := NewPollingCoordinator(checker, committer, sink, cfg)
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})

	// The first session is cancelled by the second and reports stopped.
	result := sink.wait(t, 2*time.Second)
	if result.Outcome != OutcomeStopped {
		t.Fatalf("expected the replaced session to report stopped, got %s", result.Outcome)
	}
	if !c.IsActive("mp-1") {
		t.Fatalf("expected the replacement session to stay registered")
	}

	c.StopAll()
}

func TestStopAllDrainsEverySession(t *testing.T) {
	checker := &scriptedChecker{}
	committer := &recordingCommitter{}
	sink := newResultCollector()

	cfg := testPollingConfig()
	cfg.FastInterval = 50 * time.Millisecond

	c := NewPollingCoordinator(checker, committer, sink, cfg)
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})
	c.StartPolling(PollingSession{PaymentID: "mp-2", OrderID: 2})
	c.StartPolling(PollingSession{PaymentID: "mp-3", OrderID: 3})

	c.StopAll()

	for _, id := range []string{"mp-1", "mp-2", "mp-3"} {
		if c.IsActive(id) {
			t.Fatalf("expected %s to be stopped", id)
		}
	}
}

func TestPollingObservesNonTerminalStatusChanges(t *testing.T) {
	checker := &scriptedChecker{snapshots: snapshots(
		gateway.StatusPending,
		gateway.StatusInProcess,
		gateway.StatusApproved,
	)}
	committer := &recordingCommitter{result: TransitionApplied}
	sink := newResultCollector()

	c := NewPollingCoordinator(checker, committer, sink, testPollingConfig())
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})
	sink.wait(t, 2*time.Second)

	committer.mu.Lock()
	defer committer.mu.Unlock()
	if len(committer.observed) != 2 {
		t.Fatalf("expected 2 observed changes, got %v", committer.observed)
	}
	if committer.observed[0] != "pending>in_process" {
		t.Fatalf("unexpected first observation %q", committer.observed[0])
	}
}

// stopOnResultSink stops the reported payment's session from inside the
// result callback, the way the order service does when a rejection leads
// straight into a new payment cycle.
type stopOnResultSink struct {
	coordinator *PollingCoordinator
	done        chan SessionResult
}

func (s *stopOnResultSink) HandleSessionResult(result SessionResult) {
	s.coordinator.StopPolling(result.PaymentID)
	s.done <- result
}

func TestSinkMayStopOwnSessionWithoutDeadlock(t *testing.T) {
	checker := &scriptedChecker{snapshots: snapshots(gateway.StatusRejected)}
	committer := &recordingCommitter{result: TransitionApplied}
	sink := &stopOnResultSink{done: make(chan SessionResult, 1)}

	c := NewPollingCoordinator(checker, committer, sink, testPollingConfig())
	sink.coordinator = c
	c.StartPolling(PollingSession{PaymentID: "mp-1", OrderID: 1})

	select {
	case result := <-sink.done:
		if result.Outcome != OutcomeRejected {
			t.Fatalf("expected rejected outcome, got %s", result.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sink callback never completed")
	}
	if c.IsActive("mp-1") {
		t.Fatalf("expected session gone after terminal status")
	}
}
