package engine

import (
	"context"

	"github.com/zulandar/paperdeck/internal/workflow"
)

// coordinator returns the existing cancellation coordinator of conv.
func (e *Engine) coordinator(conv string) (*workflow.Coordinator, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.coordinators[conv]
	return c, ok
}

// activeCoordinator returns the coordinator of conv, creating it on first
// use. Conversations without a running workflow get none.
func (e *Engine) activeCoordinator(conv string) (*workflow.Coordinator, error) {
	if _, ok := e.tracker.Active(conv); !ok {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.coordinators[conv]; ok {
		return c, nil
	}
	c, err := workflow.NewCoordinator(workflow.CoordinatorOpts{
		ConversationID: conv,
		Tracker:        e.tracker,
		Canceller:      e.pipeline,
		Timeout:        e.cancelTimeout,
	})
	if err != nil {
		return nil, err
	}
	e.coordinators[conv] = c
	return c, nil
}

// RequestCancel asks for confirmation before cancelling the generation of
// conv. It reports whether a confirmation is now pending.
func (e *Engine) RequestCancel(conv string) bool {
	c, err := e.activeCoordinator(conv)
	if err != nil || c == nil {
		return false
	}
	return c.RequestCancel()
}

// Dismiss abandons a pending confirmation.
func (e *Engine) Dismiss(conv string) bool {
	c, ok := e.coordinator(conv)
	if !ok {
		return false
	}
	return c.Dismiss()
}

// ConfirmCancel cancels the generation of conv after a RequestCancel. It
// returns workflow.ErrCancelTimeout if the pipeline never acknowledged; the
// workflow is cleared either way.
func (e *Engine) ConfirmCancel(ctx context.Context, conv string) error {
	c, ok := e.coordinator(conv)
	if !ok {
		return nil
	}
	return c.ConfirmCancel(ctx)
}

// CancelState returns where conv is in the cancellation flow.
func (e *Engine) CancelState(conv string) workflow.CancelState {
	c, ok := e.coordinator(conv)
	if !ok {
		return workflow.Idle
	}
	return c.State()
}
