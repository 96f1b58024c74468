package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/negotiator/internal/adapter/classifier"
	"github.com/xiaot623/gogo/negotiator/internal/config"
	"github.com/xiaot623/gogo/negotiator/internal/hub"
	"github.com/xiaot623/gogo/negotiator/internal/logger"
	"github.com/xiaot623/gogo/negotiator/internal/realtime"
	"github.com/xiaot623/gogo/negotiator/internal/repository"
	"github.com/xiaot623/gogo/negotiator/internal/service"
	server "github.com/xiaot623/gogo/negotiator/internal/transport/http"
	"github.com/xiaot623/gogo/negotiator/internal/transport/ws"
	"github.com/xiaot623/gogo/negotiator/policy"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	zl.Info("starting negotiator",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("database", cfg.DatabaseURL),
		zap.String("ai_gateway", cfg.AIGatewayURL),
		zap.String("mode", cfg.Mode),
	)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("failed to initialize store", zap.Error(err))
	}
	defer db.Close()

	feed := realtime.NewBroker(realtime.DefaultBuffer, zl.Named("realtime"))

	cls := classifier.New(classifier.Options{
		Mode:    cfg.Mode,
		BaseURL: cfg.AIGatewayURL,
		APIKey:  cfg.AIGatewayAPIKey,
		Model:   cfg.AIModel,
		Timeout: cfg.ClassifierTimeout,
	}, zl.Named("classifier"))

	// Initialize policy engine
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	policyEngine, err := loadPolicy(ctx, cfg.PolicyFile)
	if err != nil {
		zl.Fatal("failed to initialize policy engine", zap.Error(err))
	}

	// Initialize service
	svc := service.New(db, feed, cls, policyEngine, cfg, zl.Named("service"))

	h := hub.NewHub(zl.Named("hub"))
	go h.Run(ctx)

	wsServer := ws.NewServer(cfg, h, svc, feed, zl.Named("ws"))
	e := server.NewServer(cfg, svc, wsServer, zl.Named("http"))

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()

	zl.Info("negotiator started", zap.Int("port", cfg.HTTPPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down negotiator")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Warn("failed to shutdown server gracefully", zap.Error(err))
	}
	stop()
	svc.Wait()

	zl.Info("negotiator stopped")
}

func loadPolicy(ctx context.Context, path string) (*policy.Engine, error) {
	if path == "" {
		return policy.NewEngine(ctx, policy.DefaultPolicy)
	}
	return policy.NewEngineFromFile(ctx, path)
}
