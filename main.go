package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"moodchat/global/config"
	"moodchat/logger"
	"moodchat/tools/ids"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	path := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		logger.Error("load config", zap.Error(err))
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)
	ids.SetNodeID(cfg.NodeID)
	gin.SetMode(gin.ReleaseMode)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap", zap.Error(err))
		os.Exit(1)
	}
	app.watchConfig(ctx, *path)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      app.router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr), zap.Int64("node", cfg.NodeID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()
	app.register()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdown, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	app.deregister()
	if err := srv.Shutdown(shutdown); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	app.close(shutdown)
}
