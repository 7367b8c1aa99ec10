package engine

import (
	"context"
	"fmt"

	"github.com/seantiz/taskd/internal/model"
)

// CreateDelegated creates a task whose work happens in another component.
// owner names the component to forward stop requests to; the owner reports
// progress and the outcome through Update and Finish.
func (e *Engine) CreateDelegated(ctx context.Context, name string, detail *string, owner string) (string, error) {
	t, err := e.tasks.Create(ctx, name, detail)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	e.owners.Set(t.ID, owner)
	tasksStartedTotal.WithLabelValues(kindDelegated).Inc()
	return t.ID, nil
}

// Update appends output and progress to a running task.
func (e *Engine) Update(ctx context.Context, id, output string, percent int) (bool, error) {
	ok, err := e.tasks.Update(ctx, id, output, percent)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	if ok {
		e.broker.Publish(id, output)
	}
	return ok, nil
}

// Finish records the result of a delegated task and releases its owner.
func (e *Engine) Finish(ctx context.Context, id string, result int) (bool, error) {
	ok, err := e.tasks.Finish(ctx, id, result)
	if err != nil {
		return false, fmt.Errorf("finish task: %w", err)
	}
	if ok {
		recordFinished(result)
	}
	e.release(id)
	return ok, nil
}

// release forgets the owner of a delegated task. Self-owned tasks are
// released by their script goroutine.
func (e *Engine) release(id string) {
	if owner, ok := e.owners.Get(id); ok && owner == OwnerSelf {
		return
	}
	e.owners.Delete(id)
	e.broker.Close(id)
}

// Stop finalizes a running task as stopped and asks its owner to stop the
// work. The task ends with result 9 even when no owner can be reached.
// The returned bool reports whether the owner acknowledged the request.
//
// For scripts run by this engine the acknowledgement only means the abort
// flag was raised; the script observes it at its next host call.
func (e *Engine) Stop(ctx context.Context, id string) (bool, error) {
	finished, err := e.tasks.FinishWithOutput(ctx, id, model.ResultStopped, model.StopMessage)
	if err != nil {
		return false, fmt.Errorf("finish stopped task: %w", err)
	}
	if finished {
		e.broker.Publish(id, model.StopMessage)
		recordFinished(model.ResultStopped)
	}

	logger := e.logger.With("task_id", id)
	owner, ok := e.owners.Get(id)
	if !ok {
		stopRequestsTotal.WithLabelValues(stopNoOwner).Inc()
		logger.Debug("stop: task has no owner")
		return false, nil
	}

	if owner == OwnerSelf {
		aborted := e.signals.Abort(id)
		stopRequestsTotal.WithLabelValues(stopAborted).Inc()
		logger.Info("stop: abort flag raised", "ok", aborted)
		return aborted, nil
	}

	defer e.release(id)
	c, err := e.registry.Lookup(owner)
	if err != nil {
		stopRequestsTotal.WithLabelValues(stopRefused).Inc()
		logger.Warn("stop: owner not registered", "owner", owner)
		return false, nil
	}
	acked := c.Stop(ctx, id)
	if acked {
		stopRequestsTotal.WithLabelValues(stopForwarded).Inc()
	} else {
		stopRequestsTotal.WithLabelValues(stopRefused).Inc()
	}
	logger.Info("stop: forwarded to owner", "owner", owner, "ok", acked)
	return acked, nil
}
