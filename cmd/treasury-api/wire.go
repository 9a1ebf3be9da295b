package main

import (
	"log/slog"
	"net/http"

	"github.com/ahmethakanbesel/treasury-api/internal/bank"
	"github.com/ahmethakanbesel/treasury-api/internal/client"
	"github.com/ahmethakanbesel/treasury-api/internal/config"
	"github.com/ahmethakanbesel/treasury-api/internal/connection"
	"github.com/ahmethakanbesel/treasury-api/internal/lifecycle"
	"github.com/ahmethakanbesel/treasury-api/internal/notification"
	"github.com/ahmethakanbesel/treasury-api/internal/platform/sqlite"
	clientrepo "github.com/ahmethakanbesel/treasury-api/internal/repository/client"
	connrepo "github.com/ahmethakanbesel/treasury-api/internal/repository/connection"
	notifrepo "github.com/ahmethakanbesel/treasury-api/internal/repository/notification"
	taskrepo "github.com/ahmethakanbesel/treasury-api/internal/repository/task"
	"github.com/ahmethakanbesel/treasury-api/internal/server"
	"github.com/ahmethakanbesel/treasury-api/internal/stream"
	"github.com/ahmethakanbesel/treasury-api/internal/task"
)

// app holds the wired services shared by every subcommand.
type app struct {
	server.Services
	pool *task.WorkerPool
}

func wire(cfg config.Config, db *sqlite.DB) *app {
	// Repositories
	clients := client.NewDirectory(clientrepo.NewRepository(db.DB))
	connRepo := connrepo.NewRepository(db.DB)

	if cfg.BankAPIURL == "" {
		slog.Warn("BANK_API_URL is not set; connection probes and syncs will fail")
	}
	bankClient := bank.NewClient(cfg.BankAPIURL,
		bank.WithHTTPClient(&http.Client{Timeout: cfg.BankAPITimeout}),
		bank.WithMaxTries(cfg.ProbeMaxTries),
		bank.WithWorkers(cfg.Workers),
	)

	// Services
	streams := stream.NewRegistry(cfg.HeartbeatInterval)
	tasks := task.NewService(taskrepo.NewRepository(db.DB), clients)
	notes := notification.NewService(notifrepo.NewRepository(db.DB), streams,
		notification.WithBatchSize(cfg.SweepBatchSize))
	conns := connection.NewService(connRepo, tasks, bankClient, clients)
	pipeline := lifecycle.New(tasks, conns, notes)
	tasks.SetObserver(pipeline)

	// Only DATA_SYNC runs in-process; other task types are driven over HTTP.
	registry := task.NewRegistry()
	registry.Register(task.TypeDataSync, connection.NewProcessor(connRepo, tasks, bankClient, connRepo))
	pool := task.NewWorkerPool(tasks, registry, cfg.Workers)
	tasks.SetNotify(pool.Notify)

	return &app{
		Services: server.Services{
			Tasks:         tasks,
			Connections:   conns,
			Notifications: notes,
			Streams:       streams,
			Pipeline:      pipeline,
		},
		pool: pool,
	}
}
