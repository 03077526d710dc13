package main

import (
	"context"
	"fmt"
	"time"

	"github.com/VayuDev/nioev-mqtt/internal/broker"
	"github.com/VayuDev/nioev-mqtt/internal/config"
	"github.com/VayuDev/nioev-mqtt/internal/connio"
	"github.com/VayuDev/nioev-mqtt/internal/event"
	"github.com/VayuDev/nioev-mqtt/internal/logger"
	"github.com/VayuDev/nioev-mqtt/internal/server"
)

// cleanupSweepInterval is how often the writer sweeps expired
// keepalives and reaps logged-out connections (§4.6 CleanupReq).
const cleanupSweepInterval = 30 * time.Second

// shutdownFunc adapts a plain func into event.Callable.
type shutdownFunc func(ctx context.Context) error

func (f shutdownFunc) Invoke(ctx context.Context) error { return f(ctx) }

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("error reading config: %v", err)
		return
	}

	loggerShutdown := logger.Init()
	logger.Debug("application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerShutdown)

	ctx, cancel := context.WithCancel(context.Background())
	cleaner.Add(shutdownFunc(func(context.Context) error {
		cancel()
		return nil
	}))

	state, err := broker.NewState(cfg.ScriptAsyncWorkers, time.Duration(cfg.ScriptSyncTimeoutSeconds)*time.Second)
	if err != nil {
		logger.FatalF("error building broker state: %v", err)
		return
	}
	go state.Run(ctx)

	pools, err := connio.NewPools(cfg.SenderWorkers, cfg.ReceiverWorkers)
	if err != nil {
		logger.FatalF("error building connection io pools: %v", err)
		return
	}
	cleaner.Add(shutdownFunc(func(context.Context) error {
		pools.Release()
		return nil
	}))

	go runCleanupSweep(ctx, state)

	srv := server.New(state, pools, cfg)
	addr := fmt.Sprintf(":%d", cfg.AppPort)
	logger.InfoF("%s starting on %s", cfg.AppName, addr)
	if err := srv.Serve(ctx, addr); err != nil {
		logger.ErrorF("server exited: %v", err)
	}
}

// runCleanupSweep periodically submits a CleanupReq so expired
// keepalives and logged-out connections get reaped even when no new
// traffic is triggering writer activity.
func runCleanupSweep(ctx context.Context, state *broker.State) {
	ticker := time.NewTicker(cleanupSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = state.Submit(&broker.CleanupReq{}, broker.Async)
		case <-ctx.Done():
			return
		}
	}
}
