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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/api"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/app"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/config"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Initialize(cfg.Env)
	defer logger.Sync()
	log := logger.Log

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(context.Background(), cfg, app.Options{}, log)
	if err != nil {
		log.Fatal("Failed to initialize import service", zap.Error(err))
	}
	defer a.Close()

	handler := api.NewHandler(a.Import, a.Metrics, int64(cfg.Server.MaxUploadMB)<<20)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Import API listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}

	// background imports keep running until they reach a terminal state
	handler.Wait()
	log.Info("Server shutdown complete")
}
