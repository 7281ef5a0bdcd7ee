package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/angeloszaimis/poold/config"
	"github.com/angeloszaimis/poold/internal/runtime"
	"github.com/angeloszaimis/poold/internal/supervisor"
	"github.com/angeloszaimis/poold/pkg/logger"
)

const stopTimeout = 30 * time.Second

// app bundles the wiring every command needs: config, logger, runtime, and
// the supervisor built from them.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	runtime runtime.Runtime
	sup     *supervisor.Supervisor
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)
	rt := runtime.NewDocker(cfg.Runtime.Binary, log)

	sup, err := supervisor.New(cfg, log, rt)
	if err != nil {
		log.Error("Failed to build supervisor", slog.Any("err", err))
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     log,
		runtime: rt,
		sup:     sup,
	}, nil
}

// runForeground starts the service via begin, then blocks until a signal or a
// router failure, and finally stops everything.
func (a *app) runForeground(begin func(context.Context) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := begin(ctx); err != nil {
		return err
	}

	a.log.Info("Supervisor ready", slog.String("address", a.cfg.Server.Address))

	err := a.sup.Wait(ctx)

	a.log.Info("Shutting down gracefully...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()

	if stopErr := a.sup.Stop(stopCtx); stopErr != nil && err == nil {
		err = stopErr
	}

	return err
}

// routerURL returns the base URL the router answers on. A bare ":port"
// listen address answers on loopback.
func routerURL(cfg *config.Config) string {
	addr := cfg.Server.Address
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}
