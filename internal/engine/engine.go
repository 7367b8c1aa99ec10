package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/taskd/internal/component"
	"github.com/seantiz/taskd/internal/model"
	"github.com/seantiz/taskd/internal/script"
	"github.com/seantiz/taskd/internal/store"
)

// APIVersion is the version of the task service contract offered to other
// components.
const APIVersion = "1.0.0"

// TaskStore is the subset of the task store the engine drives.
type TaskStore interface {
	Create(ctx context.Context, name string, detail *string) (*model.Task, error)
	CreateForScript(ctx context.Context, name string, detail *string, scriptID string) (*model.Task, error)
	Update(ctx context.Context, id, output string, percent int) (bool, error)
	Finish(ctx context.Context, id string, result int) (bool, error)
	FinishWithOutput(ctx context.Context, id string, result int, output string) (bool, error)
}

// ScriptStore loads stored scripts.
type ScriptStore interface {
	FindByID(ctx context.Context, id string) (*model.Script, error)
}

// Engine creates tasks, evaluates their scripts asynchronously and routes
// stop requests to task owners.
type Engine struct {
	tasks    TaskStore
	scripts  ScriptStore
	registry *component.Registry
	logger   *slog.Logger

	signals Signals
	owners  Owners
	broker  *OutputBroker

	wg        sync.WaitGroup
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// New creates an engine backed by the given stores and component registry.
func New(tasks TaskStore, scripts ScriptStore, reg *component.Registry, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		tasks:     tasks,
		scripts:   scripts,
		registry:  reg,
		logger:    logger,
		broker:    NewOutputBroker(),
		runCtx:    ctx,
		cancelRun: cancel,
	}
}

// APIVersion returns the contract version implemented by the engine.
func (e *Engine) APIVersion() string {
	return APIVersion
}

// Broker returns the engine's output broker for live subscriptions.
func (e *Engine) Broker() *OutputBroker {
	return e.broker
}

// RunScript creates a task and evaluates code for it in the background.
// The returned id is valid as soon as RunScript returns; the outcome is
// recorded in the store.
func (e *Engine) RunScript(ctx context.Context, name string, detail *string, code string) (string, error) {
	t, err := e.tasks.Create(ctx, name, detail)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	e.start(t.ID, code)
	return t.ID, nil
}

// RunScriptRecord runs a stored script. It reports false if no script has
// the given id. An empty name defaults to the script's name.
func (e *Engine) RunScriptRecord(ctx context.Context, name string, detail *string, scriptID string) (string, bool, error) {
	sc, err := e.scripts.FindByID(ctx, scriptID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find script: %w", err)
	}
	if name == "" {
		name = sc.Name
	}

	t, err := e.tasks.CreateForScript(ctx, name, detail, sc.ID)
	if err != nil {
		return "", false, fmt.Errorf("create task: %w", err)
	}
	e.start(t.ID, sc.Code)
	return t.ID, true, nil
}

// Wait blocks until all in-flight script goroutines return.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close interrupts every running script and waits for them to return.
// Interrupted tasks are left running in the store; the next startup marks
// them orphaned.
func (e *Engine) Close() {
	e.cancelRun()
	e.wg.Wait()
}

func (e *Engine) start(id, code string) {
	e.owners.Set(id, OwnerSelf)
	e.signals.Add(id)
	tasksStartedTotal.WithLabelValues(kindScript).Inc()
	scriptsRunning.Inc()

	e.wg.Go(func() {
		e.execute(id, code)
	})
}

// execute evaluates a script and records its outcome.
func (e *Engine) execute(id, code string) {
	start := time.Now()
	logger := e.logger.With("task_id", id)
	defer func() {
		e.signals.Remove(id)
		e.owners.Delete(id)
		e.broker.Close(id)
		scriptsRunning.Dec()
		scriptDuration.Observe(time.Since(start).Seconds())
	}()

	host := &hostContext{
		id:       id,
		tasks:    e.tasks,
		registry: e.registry,
		signals:  &e.signals,
		broker:   e.broker,
	}
	rc, err := script.Run(e.runCtx, code, host)

	// Store writes below must outlive a cancelled run context.
	ctx := context.WithoutCancel(e.runCtx)

	switch {
	case e.signals.Aborted(id) || errors.Is(err, script.ErrAborted):
		logger.Info("script aborted", "duration_ms", time.Since(start).Milliseconds())
	case err != nil && e.runCtx.Err() != nil:
		logger.Warn("script interrupted by shutdown", "error", err)
	case err != nil:
		msg := err.Error()
		ok, ferr := e.tasks.FinishWithOutput(ctx, id, model.ResultScriptError, msg)
		if ferr != nil {
			logger.Error("failed to record script error", "error", ferr, "script_error", msg)
			return
		}
		if ok {
			e.broker.Publish(id, msg)
			recordFinished(model.ResultScriptError)
		}
		logger.Info("script failed", "error", msg, "duration_ms", time.Since(start).Milliseconds())
	default:
		ok, ferr := e.tasks.Finish(ctx, id, rc)
		if ferr != nil {
			logger.Error("failed to record script result", "error", ferr, "result", rc)
			return
		}
		if ok {
			recordFinished(rc)
		}
		logger.Info("script finished", "result", rc, "duration_ms", time.Since(start).Milliseconds())
	}
}
