// Package main wires together the offerscout coordination service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/offerscout/offerscout/internal/api"
	"github.com/offerscout/offerscout/internal/app"
	"github.com/offerscout/offerscout/internal/clock/system"
	"github.com/offerscout/offerscout/internal/config"
	"github.com/offerscout/offerscout/internal/id/uuid"
	"github.com/offerscout/offerscout/internal/logging"
	"github.com/offerscout/offerscout/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	workflowName := flag.String("workflow", "", "Workflow to execute after startup")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.InitTracerProvider(ctx, "offerscout")
	if err != nil {
		logger.Warn("tracer init failed", zap.Error(err))
	} else {
		defer func() {
			if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
				logger.Warn("tracer shutdown failed", zap.Error(shutdownErr))
			}
		}()
	}

	services, err := app.New(ctx, cfg, system.New(), uuid.New(), nil, logger)
	if err != nil {
		logger.Error("service init failed", zap.Error(err))
		return
	}
	defer services.Close()

	if err := services.Proxies.Initialize(ctx); err != nil {
		logger.Warn("proxy pool initialization incomplete", zap.Error(err))
	}

	apiCfg := api.Config{RequestTimeout: 60 * time.Second}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	apiServer := api.NewServer(services.Engine, services.Proxies, apiCfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	if *workflowName != "" {
		go func() {
			logger.Info("executing workflow", zap.String("workflow", *workflowName))
			exec, err := services.Engine.Execute(ctx, *workflowName, nil)
			if err != nil {
				logger.Error("workflow failed",
					zap.String("workflow", *workflowName), zap.Error(err))
				return
			}
			logger.Info("workflow finished",
				zap.String("workflow", *workflowName), zap.String("execution", exec.ID))
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
