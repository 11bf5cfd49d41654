// Package daemon wires the control socket, connection pool, dispatcher
// and scheduler into one process with an orderly startup and teardown.
package daemon

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tgdog/internal/action"
	"tgdog/internal/backoff"
	"tgdog/internal/config"
	"tgdog/internal/ipc"
	"tgdog/internal/logger"
	"tgdog/internal/metrics"
	"tgdog/internal/plugin"
	"tgdog/internal/pool"
	"tgdog/internal/sched"
	"tgdog/internal/telegram"
	"tgdog/internal/workers"
)

// State is the daemon's lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

const probeTimeout = 2 * time.Second

// Daemon owns every long-lived component of the process.
type Daemon struct {
	cfg    *config.Config
	logger *logger.Logger
	state  atomic.Int32

	// Registry receives the daemon's collectors; the Prometheus default
	// registerer when nil. Tests substitute a private registry so repeated
	// daemons in one process do not collide.
	Registry prometheus.Registerer

	pool       *pool.Pool
	dispatcher *action.Dispatcher
	scheduler  *sched.Scheduler
	server     *ipc.Server
	writers    *workers.WorkerPool
	metrics    *metrics.Metrics
	metricsSrv *http.Server
}

// New builds a daemon from configuration. Nothing is bound or connected
// until Run.
func New(cfg *config.Config, log *logger.Logger) *Daemon {
	if log == nil {
		log = logger.NewNop()
	}
	d := &Daemon{cfg: cfg, logger: log}
	d.state.Store(int32(StateStarting))
	return d
}

// State reports the current lifecycle phase.
func (d *Daemon) State() State {
	return State(d.state.Load())
}

func (d *Daemon) setState(s State) {
	d.state.Store(int32(s))
	d.logger.Info("daemon state changed", logger.Field{Key: "state", Value: s.String()})
}

// Run starts the daemon and blocks until ctx is cancelled, then tears
// everything down in order. A live daemon already answering on the
// socket aborts startup.
func (d *Daemon) Run(ctx context.Context) error {
	d.setState(StateStarting)

	// A stale socket from a crashed predecessor is deleted; a live one
	// aborts startup.
	if err := ipc.RemoveStale(d.cfg.Daemon.Socket, probeTimeout); err != nil {
		return err
	}

	d.build()
	d.writers.Start()

	if err := d.server.Start(ctx); err != nil {
		d.writers.Stop()
		return err
	}

	registered := d.scheduler.Register(d.cfg.Tasks)
	d.scheduler.Start(ctx)
	d.logger.Info("scheduler tasks registered",
		logger.Field{Key: "configured", Value: len(d.cfg.Tasks)},
		logger.Field{Key: "registered", Value: registered})

	d.startMetrics()

	d.setState(StateRunning)
	<-ctx.Done()

	d.shutdown()
	return nil
}

// build constructs the component graph.
func (d *Daemon) build() {
	d.metrics = metrics.Init("tgdog", d.Registry)

	d.writers = workers.NewPool(d.cfg.Workers.PoolSize, d.cfg.Workers.QueueSize, d.logger)

	exec := backoff.New(d.cfg.Backoff.MaxRetries, d.logger)
	exec.OnWait = d.metrics.RecordRateLimitWait

	dialer := telegram.NewBotDialer(d.cfg.Daemon.SessionDir, d.logger)
	d.pool = pool.New(d.cfg, dialer, d.logger)

	plugins := plugin.NewRegistry(d.cfg.Plugins.Dir, d.cfg.Plugins.StateFile, d.logger)

	d.dispatcher = action.New(d.cfg, d.pool, exec, plugins, d.writers, d.logger)
	d.dispatcher.OnAction = d.metrics.RecordAction

	state := sched.NewStateStore(d.cfg.Daemon.SchedulerStatePath(), d.logger)
	d.scheduler = sched.New(d.dispatcher, state, d.logger)
	d.scheduler.OnRun = d.metrics.RecordSchedulerRun

	d.server = ipc.NewServer(d.cfg.Daemon.Socket, d.handle, d.logger)
	d.server.OnRequest = d.metrics.RecordRequest
}

// handle serves one IPC request. Ping answers before any dispatch so
// liveness probes never touch a profile connection.
func (d *Daemon) handle(ctx context.Context, req action.Request) action.Response {
	if action.Normalize(req.Action) == "ping" {
		return action.Response{OK: true}
	}

	d.metrics.RequestStarted()
	defer d.metrics.RequestFinished()
	return d.dispatcher.Handle(ctx, req)
}

func (d *Daemon) startMetrics() {
	addr := d.cfg.Daemon.MetricsAddr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	d.metricsSrv = &http.Server{Addr: addr, Handler: mux}

	go func() {
		d.logger.Info("metrics server started", logger.Field{Key: "addr", Value: addr})
		if err := d.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error("metrics server failed", err)
		}
	}()
}

// shutdown tears components down in order: no new firings, then no new
// connections (in-flight handlers finish), then pooled disconnects, then
// queued writes.
func (d *Daemon) shutdown() {
	d.setState(StateStopping)

	d.scheduler.Stop()
	d.server.Stop()
	if d.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		d.metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	d.pool.Close()
	d.writers.Stop()

	d.setState(StateStopped)
}
