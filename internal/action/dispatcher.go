package action

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tgdog/internal/backoff"
	"tgdog/internal/config"
	"tgdog/internal/logger"
	"tgdog/internal/plugin"
	"tgdog/internal/pool"
	"tgdog/internal/telegram"
	"tgdog/internal/workers"
)

// Dispatcher validates requests and routes them to their operation.
// Connection-backed operations run under the pool's per-profile lock with
// every remote call wrapped by the backoff executor.
type Dispatcher struct {
	cfg     *config.Config
	pool    *pool.Pool
	exec    *backoff.Executor
	plugins *plugin.Registry
	writers *workers.WorkerPool
	logger  *logger.Logger

	// OnAction, if set, observes every dispatched action (used for
	// metrics).
	OnAction func(action, status string, duration time.Duration)
}

// New wires a dispatcher. writers may be nil; disk writes then happen
// inline.
func New(cfg *config.Config, p *pool.Pool, exec *backoff.Executor, plugins *plugin.Registry, writers *workers.WorkerPool, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewNop()
	}
	return &Dispatcher{
		cfg:     cfg,
		pool:    p,
		exec:    exec,
		plugins: plugins,
		writers: writers,
		logger:  log,
	}
}

// Handle runs one request end to end and shapes the outcome into a
// response. Failures become {ok:false, error}; the daemon keeps serving.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	result, err := d.Dispatch(ctx, req)
	if err != nil {
		d.logger.Warn("action failed",
			logger.Field{Key: "action", Value: req.Action},
			logger.Field{Key: "profile", Value: req.Profile},
			logger.Field{Key: "error", Value: err})
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Result: result}
}

// Dispatch normalizes, validates and executes one request.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (any, error) {
	start := time.Now()
	normalized := Normalize(req.Action)

	result, err := d.dispatch(ctx, normalized, req)

	if d.OnAction != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		d.OnAction(string(normalized), status, time.Since(start))
	}
	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, normalized Type, req Request) (any, error) {
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	switch normalized {
	case TypeSend:
		if req.Target == "" {
			return nil, Errorf("Missing target")
		}
		text := payloadString(payload, "text", "message")
		if text == "" {
			return nil, Errorf("send action requires payload.text")
		}
		return d.withConn(ctx, req.Profile, func(ctx context.Context, conn telegram.Conn) (any, error) {
			return d.send(ctx, conn, req.Target, text)
		})

	case TypeInteractiveSend:
		if req.Target == "" {
			return nil, Errorf("Missing target")
		}
		text := payloadString(payload, "text", "message")
		if text == "" {
			return nil, Errorf("interactive_send requires payload.text")
		}
		timeout := time.Duration(payloadInt(payload, "timeout", 30)) * time.Second
		return d.withConn(ctx, req.Profile, func(ctx context.Context, conn telegram.Conn) (any, error) {
			return d.interactiveSend(ctx, conn, req.Target, text, timeout)
		})

	case TypeDownload:
		if req.Target == "" {
			return nil, Errorf("Missing target")
		}
		return d.withConn(ctx, req.Profile, func(ctx context.Context, conn telegram.Conn) (any, error) {
			return d.download(ctx, conn, req.Target, payload)
		})

	case TypeList:
		if req.Target == "" {
			return nil, Errorf("Missing target")
		}
		limit := payloadInt(payload, "limit", 10)
		return d.withConn(ctx, req.Profile, func(ctx context.Context, conn telegram.Conn) (any, error) {
			return d.listMessages(ctx, conn, req.Target, limit)
		})

	case TypeListDialogs:
		limit := payloadInt(payload, "limit", 30)
		return d.withConn(ctx, req.Profile, func(ctx context.Context, conn telegram.Conn) (any, error) {
			return d.listDialogs(ctx, conn, limit)
		})

	case TypeExport:
		if req.Target == "" {
			return nil, Errorf("Missing target")
		}
		return d.withConn(ctx, req.Profile, func(ctx context.Context, conn telegram.Conn) (any, error) {
			return d.export(ctx, conn, req.Target, payload)
		})

	case TypePlugin, TypePluginCLI:
		return d.runPlugin(ctx, normalized, req, payload)

	default:
		return nil, Errorf("Unknown action_type '%s'", normalized)
	}
}

// withConn runs fn under the profile's lock; the lock covers the whole
// operation, so two requests for one profile never interleave.
func (d *Dispatcher) withConn(ctx context.Context, profile string, fn func(ctx context.Context, conn telegram.Conn) (any, error)) (any, error) {
	var result any
	err := d.pool.Run(ctx, profile, func(conn telegram.Conn) error {
		var fnErr error
		result, fnErr = fn(ctx, conn)
		return fnErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) runPlugin(ctx context.Context, normalized Type, req Request, payload map[string]any) (any, error) {
	name := payloadString(payload, "plugin", "name")
	if name == "" {
		return nil, Errorf("plugin action requires payload.plugin")
	}

	args := req.Args
	if len(args) == 0 {
		args = payloadArgs(payload, "args")
	}

	profileKey, profile, err := d.cfg.ResolveProfile(req.Profile)
	if err != nil {
		return nil, err
	}
	pctx := plugin.Context{
		ProfileName: profileKey,
		Profile:     profile,
		SessionDir:  d.cfg.Daemon.SessionDir,
		SocketPath:  d.cfg.Daemon.Socket,
	}

	if req.Mode == "cli" || normalized == TypePluginCLI {
		if err := d.plugins.RunCLI(ctx, name, pctx, args); err != nil {
			return nil, err
		}
		return map[string]any{"result": nil}, nil
	}

	result, err := d.plugins.RunCode(ctx, name, pctx, args)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": serialize(result)}, nil
}

// serialize keeps values the response encoder can represent and
// stringifies the rest instead of failing the whole response.
func serialize(value any) any {
	if value == nil {
		return nil
	}
	if _, err := json.Marshal(value); err != nil {
		return fmt.Sprintf("%v", value)
	}
	return value
}
