package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"

	"github.com/seantiz/taskd/internal/api"
	"github.com/seantiz/taskd/internal/component"
	"github.com/seantiz/taskd/internal/config"
	"github.com/seantiz/taskd/internal/engine"
	"github.com/seantiz/taskd/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("taskd: starting",
		"listen_addr", cfg.ListenAddr,
		"database", store.DialectFor(cfg.DatabaseDSN).String(),
		"service_id", engine.OwnerSelf,
	)

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// No task can be executing yet, so anything still running was cut off
	// by the previous process.
	err = db.InTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		n, err := db.Tasks().WithTx(tx).CleanRunning(ctx)
		if n > 0 {
			logger.Warn("taskd: marked interrupted tasks as orphaned", "count", n)
		}
		return err
	})
	if err != nil {
		log.Fatalf("failed to clean running tasks: %v", err)
	}

	reg := component.NewRegistry()
	eng := engine.New(db.Tasks(), db.Scripts(), reg, logger)
	defer eng.Close()

	if cfg.NATSURL != "" {
		conn, svc := connectBus(cfg, reg, eng, logger)
		defer conn.Drain()
		defer svc.Close()
	}

	srv := api.NewServer(cfg.ListenAddr, db, reg, eng, logger)
	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
	}
}

// connectBus joins the component bus: remote components become callable
// from scripts, and the engine's own contract is served to them.
func connectBus(cfg config.Config, reg *component.Registry, eng *engine.Engine, logger *slog.Logger) (*nats.Conn, *component.NATSService) {
	conn, err := component.Connect(cfg.NATSURL, "taskd-"+engine.OwnerSelf, cfg.NATSTimeout)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	for _, name := range cfg.Components {
		c := component.NewNATSComponent(conn, cfg.NATSSubjectPrefix, name, cfg.NATSTimeout)
		if err := reg.Register(name, c); err != nil {
			log.Fatalf("failed to register component %q: %v", name, err)
		}
		logger.Info("taskd: registered remote component", "component", name)
	}

	svc, err := component.ServeNATS(conn, cfg.NATSSubjectPrefix, engine.ComponentName, eng.Component(), logger)
	if err != nil {
		log.Fatalf("failed to serve task component: %v", err)
	}
	return conn, svc
}
