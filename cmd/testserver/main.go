// testserver starts a taskd API server on an in-memory database with stub
// components for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/seantiz/taskd/internal/api"
	"github.com/seantiz/taskd/internal/component"
	"github.com/seantiz/taskd/internal/engine"
	"github.com/seantiz/taskd/internal/model"
	"github.com/seantiz/taskd/internal/store"
)

// stubWorker owns delegated tasks that emit a line per tick until they
// reach 100% or are stopped.
type stubWorker struct {
	eng    *engine.Engine
	ticks  int
	delay  time.Duration
	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

func (w *stubWorker) start(ctx context.Context, params component.Params) (component.Params, error) {
	name := "worker"
	if v, ok := params.Get("name"); ok {
		name = v.String()
	}
	id, err := w.eng.CreateDelegated(ctx, name, nil, "worker")
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancel[id] = cancel
	w.mu.Unlock()

	go w.run(runCtx, id)
	return component.Params{}.Set("id", component.String(id)), nil
}

func (w *stubWorker) run(ctx context.Context, id string) {
	defer w.forget(id)
	step := 100 / w.ticks
	for i := range w.ticks {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.delay):
		}
		w.eng.Update(context.Background(), id, "[worker] tick "+time.Now().Format(time.TimeOnly)+"\n", step)
		if i == w.ticks-1 {
			w.eng.Finish(context.Background(), id, model.ResultSuccess)
		}
	}
}

func (w *stubWorker) stop(_ context.Context, id string) bool {
	w.mu.Lock()
	cancel, ok := w.cancel[id]
	w.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (w *stubWorker) forget(id string) {
	w.mu.Lock()
	delete(w.cancel, id)
	w.mu.Unlock()
}

func main() {
	addr := ":8080"
	if v := os.Getenv("TASKD_LISTEN_ADDR"); v != "" {
		addr = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	db, err := store.Open(context.Background(), ":memory:", logger)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	reg := component.NewRegistry()
	eng := engine.New(db.Tasks(), db.Scripts(), reg, logger)
	defer eng.Close()

	reg.Register("echo", &component.Local{
		Methods: map[string]component.Method{
			"echo": func(_ context.Context, params component.Params) (component.Params, error) {
				return params, nil
			},
		},
	})
	worker := &stubWorker{eng: eng, ticks: 5, delay: 500 * time.Millisecond, cancel: make(map[string]context.CancelFunc)}
	reg.Register("worker", &component.Local{
		StopFunc: worker.stop,
		Methods:  map[string]component.Method{"start": worker.start},
	})

	srv := api.NewServer(addr, db, reg, eng, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
