package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	httpx "github.com/shipgate/shipgate/internal/http"
	"github.com/shipgate/shipgate/internal/service/gateway"
	"github.com/shipgate/shipgate/internal/service/history"
	"github.com/shipgate/shipgate/internal/service/reconcile"
	"github.com/shipgate/shipgate/internal/service/remote"
	"github.com/shipgate/shipgate/internal/service/status"
	"github.com/shipgate/shipgate/internal/ws"
	"github.com/shipgate/shipgate/pkg/config"
	"github.com/shipgate/shipgate/pkg/logger"
)

func main() {
	cfg := config.LoadControlConfig()
	log := logger.New("control", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	historySvc, err := history.New(cfg.RepoPath, cfg.CommitLimit, log)
	if err != nil {
		log.Error("failed to open repository", "path", cfg.RepoPath, "error", err)
		os.Exit(1)
	}

	gatewaySvc := gateway.New(log, cfg)
	poller := remote.NewPoller(cfg.ExecutorURL, cfg.StatusTimeout, log)
	machine := reconcile.NewMachine(cfg.IntentTTL)
	statusHub := ws.NewHub()

	statusSvc := status.New(historySvc, gatewaySvc, poller, machine, statusHub, log, cfg)
	go statusSvc.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, statusSvc, statusHub, limiter)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("control server starting", "addr", cfg.Addr, "environment", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("control server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
