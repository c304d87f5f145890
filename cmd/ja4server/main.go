package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LeeBrotherston/ja4beacon/config"
	"github.com/LeeBrotherston/ja4beacon/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("ja4server", os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ja4server: %v\n", err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.Env, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ja4server: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Env == config.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}

	tlsConfig, err := cfg.TLSConfig(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting ja4server",
		zap.String("addr", cfg.Addr()),
		zap.Duration("ttl", cfg.TTL),
		zap.Bool("api_auth", cfg.AuthEnabled()),
	)
	return server.New(cfg, tlsConfig, logger).ListenAndServe(ctx)
}
