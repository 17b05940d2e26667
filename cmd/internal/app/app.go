// Package app wires the Aegis runtime: root secret, key derivation, session
// store, sandbox barrier, heartbeat, admission pipeline, and the transport
// edge.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"aegis/cmd/internal/admission"
	"aegis/cmd/internal/heartbeat"
	"aegis/cmd/internal/loops"
	"aegis/cmd/internal/sandbox"
	"aegis/cmd/internal/session"
	"aegis/cmd/internal/transport"
	"aegis/cmd/security/keys"
	"aegis/cmd/security/token"
)

// App owns every subsystem and their shutdown order.
type App struct {
	cfg Config
	log *slog.Logger

	keystore  *keys.Store
	authority *token.Authority
	sessions  *session.Manager
	store     session.Store
	dbPool    *pgxpool.Pool
	barrier   *sandbox.Controller
	monitor   *heartbeat.Monitor
	pipeline  *admission.Pipeline
	server    *transport.Server
	adapters  []*loops.Adapter
	gateway   *loops.WSGateway
}

// New constructs a fully wired App. A missing root secret or an invalid
// boot token fails construction; the caller exits non-zero.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogPretty)
	}

	rootSecret, err := LoadRootSecret(cfg)
	if err != nil {
		return nil, err
	}
	keystore, err := keys.NewStore(rootSecret)
	if err != nil {
		return nil, err
	}

	authority, err := token.NewAuthority(keystore, 30*time.Second)
	if err != nil {
		return nil, err
	}

	// Boot token: a one-time bootstrap credential, checked against the
	// same authority that will validate traffic. Consumed here, before
	// anything is reachable.
	if cfg.BootToken != "" {
		claims, err := authority.Validate(cfg.BootToken, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("boot token rejected: %w", err)
		}
		log.Info("boot.token_consumed", "identity", claims.Identity)
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var (
		store  session.Store
		dbPool *pgxpool.Pool
	)
	if cfg.DatabaseURL != "" {
		dbPool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store = session.NewPostgresStore(dbPool)
	} else {
		store = session.NewMemoryStore()
	}

	sessions, err := session.NewManager(sessCfg, authority, store, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sandboxCfg, err := sandbox.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	barrier, err := sandbox.NewController(sandboxCfg, loops.KindIDs(), reg, log)
	if err != nil {
		return nil, err
	}

	hbCfg, err := heartbeat.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	monitor, err := heartbeat.NewMonitor(hbCfg, sessions, sessionProbe(sessions), log)
	if err != nil {
		return nil, err
	}

	transportCfg, err := transport.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	server, err := transport.NewServer(transportCfg, sessions, barrier, monitor, reg, log)
	if err != nil {
		return nil, err
	}

	sealer, err := admission.NewSealer(keystore)
	if err != nil {
		return nil, err
	}
	detector := admission.NewHoneypotDetector(cfg.HoneypotSeeds)
	pipeline, err := admission.NewPipeline(authority, sessions, barrier, sealer, detector, server, reg, log)
	if err != nil {
		return nil, err
	}
	server.SetPipeline(pipeline)

	adapters := make([]*loops.Adapter, 0, len(loops.Kinds()))
	var external *loops.Adapter
	for _, kind := range loops.Kinds() {
		a, err := loops.NewAdapter(kind, pipeline, barrier, dropHandler(log, kind), cfg.QueueDepth, log)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
		if kind == loops.KindExternal {
			external = a
		}
	}

	gateway, err := loops.NewWSGateway(external, log)
	if err != nil {
		return nil, err
	}
	server.Mount("GET /ws", gateway)

	return &App{
		cfg:       cfg,
		log:       log,
		keystore:  keystore,
		authority: authority,
		sessions:  sessions,
		store:     store,
		dbPool:    dbPool,
		barrier:   barrier,
		monitor:   monitor,
		pipeline:  pipeline,
		server:    server,
		adapters:  adapters,
		gateway:   gateway,
	}, nil
}

// Run starts every subsystem and blocks until ctx cancellation or a fatal
// server error, then tears down in order.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, adapter := range a.adapters {
		go adapter.Run(runCtx)
	}
	go a.barrier.Run(runCtx)
	go a.monitor.Run(runCtx)
	go a.sweepLoop(runCtx)

	err := a.server.Run(runCtx)

	cancel()
	a.shutdown()
	return err
}

func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sessions.Sweep(ctx, time.Now().UTC())
		}
	}
}

func (a *App) shutdown() {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.store.Close(closeCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
	a.keystore.Zero()
	a.log.Info("server.stopped")
}

// sessionProbe is the default liveness probe. It reports every active
// session healthy; deployments with a real reachability check swap in their
// own Probe. Expiry still retires idle sessions regardless.
func sessionProbe(_ *session.Manager) heartbeat.Probe {
	return func(_ context.Context, _ string) (session.Health, error) {
		return session.HealthHealthy, nil
	}
}

// dropHandler logs admitted plaintexts and drops them. Loop-local business
// logic lives outside the engine; this is the seam it plugs into.
func dropHandler(log *slog.Logger, kind loops.Kind) loops.Handler {
	return func(_ context.Context, plain []byte) error {
		log.Debug("loop.handled", "loop", kind, "bytes", len(plain))
		return nil
	}
}
