package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"dealdesk/internal/analytics"
	"dealdesk/internal/config"
	"dealdesk/internal/db"
	"dealdesk/internal/engine"
	"dealdesk/internal/esign"
	"dealdesk/internal/events"
	"dealdesk/internal/metrics"
	"dealdesk/internal/migrate"
	"dealdesk/internal/repo"
	"dealdesk/internal/scheduler"
	"dealdesk/internal/server"
)

// Job names known to the scheduler.
const (
	JobPremiumMetrics  = "premium-metrics"
	JobEscrowReconcile = "escrow-reconcile"
)

// Context holds every wired component of a running dealdesk process.
type Context struct {
	Config    *config.Config
	Log       zerolog.Logger
	DB        *sql.DB
	Engine    engine.Engine
	ESign     *esign.Handler
	Metrics   metrics.Service
	Scheduler *scheduler.Scheduler

	nats *events.NATSPublisher
}

// ResolveConfig loads the workspace config, falling back to defaults when no
// file exists. A non-empty workspace overrides database.workspace.
func ResolveConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Database.Workspace = workspace
	}
	return cfg, nil
}

// Open migrates the database and wires the engine, webhook handler, metrics
// and scheduler. Callers must Close the returned context.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: cfg.Database.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	c := &Context{Config: cfg, Log: log, DB: conn}
	pub := events.Multi{events.LogPublisher{Log: log.With().Str("component", "events").Logger()}}
	if cfg.Events.NATSURL != "" {
		np, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, log.With().Str("component", "nats").Logger())
		if err != nil {
			// events are best effort; the log publisher still runs
			log.Warn().Err(err).Str("url", cfg.Events.NATSURL).Msg("nats unavailable, publishing to log only")
		} else {
			c.nats = np
			pub = append(pub, np)
		}
	}

	r := repo.Repo{DB: conn}
	c.Engine = engine.New(conn, cfg, pub, log.With().Str("component", "engine").Logger())
	c.ESign = esign.NewHandler(c.Engine, analytics.New(r), cfg.Webhooks.ESign.Secret, log.With().Str("component", "esign").Logger())
	c.Metrics = metrics.New(r, cfg, log.With().Str("component", "metrics").Logger())
	c.Scheduler = scheduler.New(repo.JobStore{Repo: r}, log.With().Str("component", "scheduler").Logger())
	if err := c.registerJobs(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Context) registerJobs(ctx context.Context) error {
	fns := map[string]scheduler.JobFunc{
		JobPremiumMetrics:  c.Metrics.RunPremiumMetrics,
		JobEscrowReconcile: c.Metrics.RunEscrowReconcile,
	}
	names := make([]string, 0, len(fns))
	for name := range fns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		jc, ok := c.Config.Scheduler.Jobs[name]
		every, err := jc.Every()
		if err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
		// unconfigured or disabled jobs stay available for manual triggers
		if !ok || !jc.Enabled {
			every = 0
		}
		if err := c.Scheduler.Register(ctx, name, every, fns[name]); err != nil {
			return fmt.Errorf("register job %s: %w", name, err)
		}
	}
	return nil
}

// ServerConfig returns the HTTP API wiring for this context.
func (c *Context) ServerConfig() server.Config {
	return server.Config{
		Engine:    c.Engine,
		ESign:     c.ESign,
		Scheduler: c.Scheduler,
		Metrics:   c.Metrics,
		BasePath:  c.Config.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret:              c.Config.Server.JWTSecret,
			AllowLegacyActorHeader: c.Config.Server.AllowActorHeader,
		},
		Log: c.Log.With().Str("component", "http").Logger(),
	}
}

func (c *Context) Close() error {
	if c.nats != nil {
		if err := c.nats.Close(); err != nil {
			c.Log.Warn().Err(err).Msg("nats drain failed")
		}
	}
	return c.DB.Close()
}
