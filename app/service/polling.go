package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-orders/app/factory"
	"github.com/vibast-solutions/ms-go-orders/app/gateway"
	"github.com/vibast-solutions/ms-go-orders/config"
)

const commitTimeout = 15 * time.Second

// PollingSession identifies one payment being watched.
type PollingSession struct {
	PaymentID string
	OrderID   uint64
}

type SessionOutcome string

const (
	OutcomeApproved SessionOutcome = "approved"
	OutcomeRejected SessionOutcome = "rejected"
	OutcomeExpired  SessionOutcome = "expired"
	OutcomeErrored  SessionOutcome = "errored"
	OutcomeStopped  SessionOutcome = "stopped"
)

// SessionResult is reported to the sink exactly once per session.
type SessionResult struct {
	PaymentID string
	OrderID   uint64
	Outcome   SessionOutcome
	Attempts  int
	Reason    string
	// Applied is true when this session's commit won the conditional
	// update (false when a sibling path got there first).
	Applied bool
}

type statusChecker interface {
	CheckStatus(ctx context.Context, paymentID string) (*gateway.StatusSnapshot, error)
}

type transitionCommitter interface {
	CommitGatewayStatus(ctx context.Context, orderID uint64, paymentReference string, snapshot *gateway.StatusSnapshot) (TransitionResult, error)
	MarkExpired(ctx context.Context, orderID uint64, paymentReference string) (bool, error)
	PaymentStatusObserved(ctx context.Context, orderID uint64, paymentID, oldStatus, newStatus string)
}

type sessionResultSink interface {
	HandleSessionResult(result SessionResult)
}

type pollingSession struct {
	PollingSession
	cancel context.CancelFunc
	done   chan struct{}
}

// PollingCoordinator runs a bounded, progressively-spaced status check loop
// per in-flight payment. The registry holds at most one live session per
// payment id; starting a session for a payment that already has one cancels
// the stale session first.
type PollingCoordinator struct {
	gw        statusChecker
	committer transitionCommitter
	sink      sessionResultSink
	cfg       config.PollingConfig
	logger    logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*pollingSession
	wg       sync.WaitGroup
}

func NewPollingCoordinator(gw statusChecker, committer transitionCommitter, sink sessionResultSink, cfg config.PollingConfig) *PollingCoordinator {
	if cfg.FastInterval <= 0 {
		cfg.FastInterval = 3 * time.Second
	}
	if cfg.MediumInterval <= 0 {
		cfg.MediumInterval = 10 * time.Second
	}
	if cfg.SlowInterval <= 0 {
		cfg.SlowInterval = 30 * time.Second
	}
	if cfg.ErrorRetryInterval <= 0 {
		cfg.ErrorRetryInterval = 20 * time.Second
	}
	if cfg.SessionDeadline <= 0 {
		cfg.SessionDeadline = 15 * time.Minute
	}
	if cfg.FastPhaseAttempts <= 0 {
		cfg.FastPhaseAttempts = 10
	}
	if cfg.MediumPhaseAttempts <= cfg.FastPhaseAttempts {
		cfg.MediumPhaseAttempts = cfg.FastPhaseAttempts + 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 90
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 5
	}

	return &PollingCoordinator{
		gw:        gw,
		committer: committer,
		sink:      sink,
		cfg:       cfg,
		logger:    factory.NewModuleLogger("polling-coordinator"),
		sessions:  map[string]*pollingSession{},
	}
}

func (c *PollingCoordinator) StartPolling(session PollingSession) {
	if session.PaymentID == "" {
		return
	}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(c.cfg.SessionDeadline))
	next := &pollingSession{
		PollingSession: session,
		cancel:         cancel,
		done:           make(chan struct{}),
	}

	c.mu.Lock()
	if prev, ok := c.sessions[session.PaymentID]; ok {
		prev.cancel()
	}
	c.sessions[session.PaymentID] = next
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx, next)
}

// StopPolling cancels the session and waits for its goroutine to exit, so
// no check can fire after this returns.
func (c *PollingCoordinator) StopPolling(paymentID string) {
	c.mu.Lock()
	session, ok := c.sessions[paymentID]
	if ok {
		delete(c.sessions, paymentID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	session.cancel()
	<-session.done
}

func (c *PollingCoordinator) StopAll() {
	c.mu.Lock()
	for id, session := range c.sessions {
		session.cancel()
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *PollingCoordinator) IsActive(paymentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[paymentID]
	return ok
}

func (c *PollingCoordinator) run(ctx context.Context, session *pollingSession) {
	defer c.wg.Done()
	defer close(session.done)
	defer c.remove(session)
	defer session.cancel()

	attempts := 0
	consecutiveErrors := 0
	lastObserved := ""

	timer := time.NewTimer(c.cfg.FastInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.finishOnDone(ctx, session, attempts)
			return
		case <-timer.C:
		}

		snapshot, err := c.gw.CheckStatus(ctx, session.PaymentID)
		if err != nil {
			if ctx.Err() != nil {
				c.finishOnDone(ctx, session, attempts)
				return
			}
			consecutiveErrors++
			if consecutiveErrors >= c.cfg.MaxConsecutiveErrors {
				c.report(SessionResult{
					PaymentID: session.PaymentID,
					OrderID:   session.OrderID,
					Outcome:   OutcomeErrored,
					Attempts:  attempts,
					Reason:    err.Error(),
				})
				return
			}
			// Transient check failures back off harder than the
			// regular cadence but do not consume a status attempt.
			timer.Reset(c.cfg.ErrorRetryInterval)
			continue
		}

		consecutiveErrors = 0
		attempts++

		if snapshot.Status != lastObserved {
			if lastObserved != "" {
				c.committer.PaymentStatusObserved(ctx, session.OrderID, session.PaymentID, lastObserved, snapshot.Status)
			}
			lastObserved = snapshot.Status
		}

		if snapshot.Terminal() {
			c.commitTerminal(session, snapshot, attempts)
			return
		}

		if attempts >= c.cfg.MaxAttempts {
			c.expire(session, attempts, "max polling attempts reached")
			return
		}

		timer.Reset(c.nextDelay(attempts))
	}
}

// nextDelay returns the wait before the check following the given attempt
// number: a fast cadence early, then medium, then slow.
func (c *PollingCoordinator) nextDelay(attempt int) time.Duration {
	switch {
	case attempt < c.cfg.FastPhaseAttempts:
		return c.cfg.FastInterval
	case attempt < c.cfg.MediumPhaseAttempts:
		return c.cfg.MediumInterval
	default:
		return c.cfg.SlowInterval
	}
}

func (c *PollingCoordinator) commitTerminal(session *pollingSession, snapshot *gateway.StatusSnapshot, attempts int) {
	// Unregister before reporting so a sink that stops or restarts
	// polling for this payment does not wait on this goroutine.
	c.remove(session)

	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	result, err := c.committer.CommitGatewayStatus(ctx, session.OrderID, session.PaymentID, snapshot)
	if err != nil {
		c.logger.WithError(err).
			WithField("payment_id", session.PaymentID).
			Error("terminal status commit failed")
		c.report(SessionResult{
			PaymentID: session.PaymentID,
			OrderID:   session.OrderID,
			Outcome:   OutcomeErrored,
			Attempts:  attempts,
			Reason:    err.Error(),
		})
		return
	}

	outcome := OutcomeRejected
	switch snapshot.Status {
	case gateway.StatusApproved:
		outcome = OutcomeApproved
	case gateway.StatusExpired:
		outcome = OutcomeExpired
	}

	c.report(SessionResult{
		PaymentID: session.PaymentID,
		OrderID:   session.OrderID,
		Outcome:   outcome,
		Attempts:  attempts,
		Reason:    snapshot.StatusDetail,
		Applied:   result == TransitionApplied,
	})
}

// expire runs when the attempt budget or the wall-clock deadline is spent
// without a terminal status. MarkExpired re-checks the order is still
// unconfirmed, so a webhook that landed in the meantime is not stomped.
func (c *PollingCoordinator) expire(session *pollingSession, attempts int, reason string) {
	c.remove(session)

	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	applied, err := c.committer.MarkExpired(ctx, session.OrderID, session.PaymentID)
	if err != nil {
		c.logger.WithError(err).
			WithField("payment_id", session.PaymentID).
			Error("expire commit failed")
	}

	c.report(SessionResult{
		PaymentID: session.PaymentID,
		OrderID:   session.OrderID,
		Outcome:   OutcomeExpired,
		Attempts:  attempts,
		Reason:    reason,
		Applied:   applied,
	})
}

func (c *PollingCoordinator) finishOnDone(ctx context.Context, session *pollingSession, attempts int) {
	if ctx.Err() == context.DeadlineExceeded {
		c.expire(session, attempts, "session deadline reached")
		return
	}

	c.report(SessionResult{
		PaymentID: session.PaymentID,
		OrderID:   session.OrderID,
		Outcome:   OutcomeStopped,
		Attempts:  attempts,
	})
}

func (c *PollingCoordinator) report(result SessionResult) {
	if c.sink == nil {
		return
	}
	c.sink.HandleSessionResult(result)
}

func (c *PollingCoordinator) remove(session *pollingSession) {
	c.mu.Lock()
	if current, ok := c.sessions[session.PaymentID]; ok && current == session {
		delete(c.sessions, session.PaymentID)
	}
	c.mu.Unlock()
}
