package app

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/coinpick/internal/cache/redis"
	"github.com/alanyoungcy/coinpick/internal/domain"
	"github.com/alanyoungcy/coinpick/internal/game"
	"github.com/alanyoungcy/coinpick/internal/server"
	"github.com/alanyoungcy/coinpick/internal/server/handler"
	"github.com/alanyoungcy/coinpick/internal/server/ws"
	"github.com/alanyoungcy/coinpick/internal/service"
)

const (
	// apiRateLimit caps mutating API calls per client IP per window.
	apiRateLimit    = 60
	apiRateWindow   = time.Minute
	shutdownTimeout = 10 * time.Second
)

// newSession builds the game session from config and the wired dependencies.
// extra sinks are registered ahead of deps.Sinks.
func (a *App) newSession(deps *Dependencies, extra ...domain.EventSink) (*service.Session, error) {
	policy, err := game.ParseWinPolicy(a.cfg.Game.WinPolicy, a.cfg.Game.TopN)
	if err != nil {
		return nil, err
	}
	sinks := slices.Concat(extra, deps.Sinks)
	return service.NewSession(service.SessionConfig{
		Player:           a.cfg.Player,
		Catalog:          catalog(a.cfg),
		InstrumentCount:  a.cfg.Game.InstrumentCount,
		TimeframeOptions: a.cfg.Game.TimeframeOptions,
		DefaultTimeframe: a.cfg.Game.DefaultTimeframe,
		Policy:           policy,
		TickInterval:     a.cfg.Game.TickInterval.Duration,
		PollInterval:     a.cfg.Game.PollInterval.Duration,
		LockGrace:        a.cfg.Game.LockGrace.Duration,
	}, service.SessionDeps{
		Source:  deps.Prices,
		Tracker: deps.Tracker,
		Rounds:  deps.Rounds,
		Locks:   deps.Locks,
		Sinks:   sinks,
		Logger:  a.logger,
	}), nil
}

// closeSession flushes stats with a fresh deadline, since ctx is usually
// already cancelled by the time a mode returns.
func (a *App) closeSession(sess *service.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sess.Close(ctx); err != nil {
		a.logger.Warn("session close failed", slog.String("error", err.Error()))
	}
}

// ServerMode serves the game over HTTP and WebSocket until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))

	g, ctx := errgroup.WithContext(ctx)

	var sess *service.Session
	hubCfg := ws.Config{Status: func() any { return sess.Snapshot() }}
	if deps.SignalBus != nil {
		// Every process publishes to the bus; the hub relays from it.
		hubCfg.Bus = deps.SignalBus
		hubCfg.Channel = redis.EventsChannel
	}
	hub := ws.NewHub(a.logger, hubCfg)

	var direct []domain.EventSink
	if deps.SignalBus == nil {
		direct = append(direct, hub)
	}
	sess, err := a.newSession(deps, direct...)
	if err != nil {
		return err
	}
	defer a.closeSession(sess)

	var exporter handler.HistoryExporter
	if deps.Archiver != nil {
		exporter = deps.Archiver
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		Limiter:         deps.RateLimiter,
		RateLimit:       apiRateLimit,
		RateLimitWindow: apiRateWindow,
	}, server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: &handler.StatusHandler{
			Mode:             a.cfg.Mode,
			Player:           a.cfg.Player,
			WinPolicy:        a.cfg.Game.WinPolicy,
			TimeframeOptions: a.cfg.Game.TimeframeOptions,
			StatsBackend:     a.cfg.Stats.Backend,
		},
		Round: handler.NewRoundHandler(sess, deps.Prices, exporter, a.logger),
	}, hub, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})

	return g.Wait()
}

// PlayMode runs the game in the terminal, reading commands from a.in.
func (a *App) PlayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting play mode")

	console := newConsole(a.out)
	sess, err := a.newSession(deps, console)
	if err != nil {
		return err
	}
	defer a.closeSession(sess)

	err = runConsole(ctx, sess, console, a.in)
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}
