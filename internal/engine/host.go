package engine

import (
	"context"

	"github.com/seantiz/taskd/internal/component"
	"github.com/seantiz/taskd/internal/script"
)

// hostContext is the capability surface of one script run.
type hostContext struct {
	id       string
	tasks    TaskStore
	registry *component.Registry
	signals  *Signals
	broker   *OutputBroker
}

// ReportProgress appends output and progress to the task. It aborts the
// script once the task has been stopped or otherwise finalized.
func (h *hostContext) ReportProgress(ctx context.Context, output string, percent int) error {
	if h.signals.Aborted(h.id) {
		return script.ErrAborted
	}
	ok, err := h.tasks.Update(ctx, h.id, output, percent)
	if err != nil {
		return err
	}
	if !ok {
		return script.ErrAborted
	}
	h.broker.Publish(h.id, output)
	return nil
}

// CallComponent invokes a method on a registered component.
func (h *hostContext) CallComponent(ctx context.Context, name, method string, params component.Params) (component.Params, error) {
	if h.signals.Aborted(h.id) {
		return nil, script.ErrAborted
	}
	c, err := h.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, method, params)
}
