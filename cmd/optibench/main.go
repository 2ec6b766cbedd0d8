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
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"optibench/internal/board"
	"optibench/internal/common/db"
	"optibench/internal/common/storage"
	"optibench/internal/executor"
	"optibench/internal/intake"
	"optibench/internal/stage"
	"optibench/internal/store"
	"optibench/internal/worker"
	"optibench/pkg/utils/logger"
)

const defaultConfigPath = "configs/optibench.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	// Local overrides (paths, secret location) may live in a .env file.
	_ = godotenv.Load()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	sqlite, err := db.NewSQLiteWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = sqlite.Close()
	}()

	jobStore := store.New(sqlite)
	if err := jobStore.InitSchema(context.Background()); err != nil {
		logger.Error(context.Background(), "init schema failed", zap.Error(err))
		return
	}

	objStorage, err := storage.New(appCfg.Storage)
	if err != nil {
		logger.Error(context.Background(), "init storage failed", zap.Error(err))
		return
	}

	stager, err := stage.NewStager(objStorage, appCfg.Benchmark.Backend, appCfg.Stage)
	if err != nil {
		logger.Error(context.Background(), "init stager failed", zap.Error(err))
		return
	}
	runner, err := executor.NewExecutor(appCfg.Benchmark.Backend, appCfg.Benchmark.toExecutorConfig())
	if err != nil {
		logger.Error(context.Background(), "init executor failed", zap.Error(err))
		return
	}

	pipeline := worker.NewPipeline(jobStore, objStorage, stager, runner)
	pool := worker.NewPool(jobStore, pipeline, appCfg.Worker)

	poolCtx, stopPool := context.WithCancel(context.Background())
	poolDone := make(chan struct{})
	go func() {
		pool.Run(poolCtx)
		close(poolDone)
	}()

	httpServer := buildHTTPServer(appCfg.Server, jobStore, objStorage)
	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "leaderboard server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}

	// Workers finish their in-flight jobs before the process exits.
	stopPool()
	select {
	case <-poolDone:
	case <-time.After(appCfg.Benchmark.Timeout + time.Minute):
		logger.Warn(context.Background(), "worker pool did not drain in time")
	}
}

func buildHTTPServer(cfg ServerConfig, jobStore *store.Store, objStorage storage.ObjectStorage) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	boardController := board.NewController(board.NewService(jobStore))
	boardController.RegisterRoutes(router)

	intakeController := intake.NewController(intake.NewService(jobStore, objStorage))
	intakeController.RegisterRoutes(router)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
