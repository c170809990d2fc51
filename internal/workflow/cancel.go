package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultCancelTimeout bounds how long ConfirmCancel waits for the
// pipeline to acknowledge.
const DefaultCancelTimeout = 60 * time.Second

// ErrCancelTimeout is returned when the pipeline never acknowledged a
// cancellation. The workflow has been cleared locally.
var ErrCancelTimeout = errors.New("workflow: cancellation not acknowledged in time")

// CancelState is the state of a Coordinator.
type CancelState int

const (
	Idle CancelState = iota
	ConfirmPending
	Cancelling
)

func (s CancelState) String() string {
	switch s {
	case ConfirmPending:
		return "confirm_pending"
	case Cancelling:
		return "cancelling"
	default:
		return "idle"
	}
}

// CancelResult is the pipeline's acknowledgement of a cancel request.
type CancelResult string

const (
	CancelAcknowledged     CancelResult = "cancelled"
	CancelAlreadyCompleted CancelResult = "already_completed"
)

// Canceller is the pipeline operation that cancels a job.
type Canceller interface {
	Cancel(ctx context.Context, handle string) (CancelResult, error)
}

// Coordinator runs the two-phase cancellation of one conversation's
// workflow: Idle -> ConfirmPending -> Cancelling -> Idle.
type Coordinator struct {
	conversationID string
	tracker        *Tracker
	canceller      Canceller
	timeout        time.Duration

	mu     sync.Mutex
	state  CancelState
	handle string // workflow the pending or running cancellation targets
}

// CoordinatorOpts holds parameters for creating a Coordinator.
type CoordinatorOpts struct {
	ConversationID string
	Tracker        *Tracker
	Canceller      Canceller
	Timeout        time.Duration // defaults to DefaultCancelTimeout
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts CoordinatorOpts) (*Coordinator, error) {
	if opts.ConversationID == "" {
		return nil, fmt.Errorf("workflow: coordinator: conversation id is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("workflow: coordinator: tracker is required")
	}
	if opts.Canceller == nil {
		return nil, fmt.Errorf("workflow: coordinator: canceller is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultCancelTimeout
	}
	return &Coordinator{
		conversationID: opts.ConversationID,
		tracker:        opts.Tracker,
		canceller:      opts.Canceller,
		timeout:        timeout,
	}, nil
}

// State returns the current state. A confirmation whose workflow has
// since ended reads as Idle.
func (c *Coordinator) State() CancelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	return c.state
}

// expireLocked drops a pending confirmation once the workflow it was
// requested for is no longer the conversation's active one.
func (c *Coordinator) expireLocked() {
	if c.state != ConfirmPending {
		return
	}
	if wf, ok := c.tracker.Active(c.conversationID); ok && wf.Handle == c.handle {
		return
	}
	c.state = Idle
	c.handle = ""
}

// RequestCancel asks for confirmation. It only moves Idle -> ConfirmPending
// while a workflow is active and reports whether the state changed.
func (c *Coordinator) RequestCancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	if c.state != Idle {
		return false
	}
	wf, ok := c.tracker.Active(c.conversationID)
	if !ok {
		return false
	}
	c.state = ConfirmPending
	c.handle = wf.Handle
	return true
}

// Dismiss abandons a pending confirmation without side effects.
func (c *Coordinator) Dismiss() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked()
	if c.state != ConfirmPending {
		return false
	}
	c.state = Idle
	c.handle = ""
	return true
}

// ConfirmCancel sends the cancellation to the pipeline and waits for its
// acknowledgement, then clears the workflow. Called from any state other
// than ConfirmPending it does nothing.
func (c *Coordinator) ConfirmCancel(ctx context.Context) error {
	c.mu.Lock()
	// The job may have reached a terminal outcome, or been replaced by a
	// newer one, while the user was confirming.
	c.expireLocked()
	if c.state != ConfirmPending {
		c.mu.Unlock()
		return nil
	}
	wf, _ := c.tracker.Active(c.conversationID)
	c.state = Cancelling
	c.mu.Unlock()

	log.Printf("workflow: cancelling %s [conv=%s]", wf.Handle, c.conversationID)

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	result, err := c.canceller.Cancel(cctx, wf.Handle)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Idle
	c.handle = ""

	switch {
	case err == nil:
		c.tracker.ClearHandle(wf.Handle)
		log.Printf("workflow: cancel %s acknowledged (%s)", wf.Handle, result)
		return nil
	case ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded):
		c.tracker.ClearHandle(wf.Handle)
		log.Printf("workflow: cancel %s not acknowledged after %s, cleared locally", wf.Handle, c.timeout)
		return ErrCancelTimeout
	default:
		return fmt.Errorf("workflow: cancel %s: %w", wf.Handle, err)
	}
}
