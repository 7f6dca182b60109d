package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mossy-p/stream-relay/config"
	"github.com/mossy-p/stream-relay/internal/chat"
	"github.com/mossy-p/stream-relay/internal/handlers"
	"github.com/mossy-p/stream-relay/internal/metrics"
	"github.com/mossy-p/stream-relay/internal/redis"
	"github.com/mossy-p/stream-relay/internal/rooms"
	"github.com/mossy-p/stream-relay/internal/signaling"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownReason      = "Server shutting down"
	readHeaderTimeout   = 10 * time.Second
	presenceQueueLength = 1024
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server.exit", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	sigOpts := []signaling.Option{signaling.WithMetrics(m)}
	chatOpts := []chat.Option{chat.WithMetrics(m)}

	bg, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	if cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		sigMirror := redis.NewMirror(client, redis.SignalingKey, cfg.Redis.PresenceTTL, presenceQueueLength, logger)
		chatMirror := redis.NewMirror(client, redis.ChatKey, cfg.Redis.PresenceTTL, presenceQueueLength, logger)
		go sigMirror.Run(bg)
		go chatMirror.Run(bg)
		sigOpts = append(sigOpts, signaling.WithPresence(sigMirror))
		chatOpts = append(chatOpts, chat.WithPresence(chatMirror))
	}

	sigRouter := signaling.New(logger, sigOpts...)
	chatRouter := chat.New(logger, chatOpts...)

	if err := metrics.RegisterRoomGauges(reg, metrics.RelaySignaling, sigRouter.Store().Len, sigRouter.Participants); err != nil {
		return fmt.Errorf("register signaling gauges: %w", err)
	}
	if err := metrics.RegisterRoomGauges(reg, metrics.RelayChat, chatRouter.Store().Len, chatRouter.Participants); err != nil {
		return fmt.Errorf("register chat gauges: %w", err)
	}

	janitor := rooms.NewJanitor(cfg.Cleanup.Interval, logger,
		rooms.Target{Store: sigRouter.Store(), MaxAge: cfg.Cleanup.StreamTimeout, Reason: signaling.ReasonStreamTimeout},
		rooms.Target{Store: chatRouter.Store(), MaxAge: cfg.Cleanup.ChatRoomTimeout, Reason: chat.ReasonRoomTimeout},
	)
	janitor.OnSweep(func(store string, swept int) { m.Swept(store, swept) })
	go janitor.Run(bg)
	go logMemory(bg, cfg.Cleanup.Interval, logger)

	failures := make(chan error, 1)
	server := handlers.NewServer(handlers.Deps{
		Config:    cfg,
		Logger:    logger,
		Signaling: sigRouter,
		Chat:      chatRouter,
		Gatherer:  reg,
		Version:   version,
		Started:   time.Now(),
		Failures:  failures,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server.started",
			"port", cfg.Port,
			"env", cfg.Environment,
			"version", version,
			"signaling", "ws://localhost:"+cfg.Port+"/ws",
			"chat", "ws://localhost:"+cfg.Port+"/chat",
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var exitErr error
	select {
	case <-ctx.Done():
		logger.Info("server.shutdown_requested")
	case err := <-failures:
		exitErr = err
		logger.Error("server.handler_failure", "err", err)
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("listen on :%s: %w", cfg.Port, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	logger.Info("server.final_stats", "rtc", sigRouter.Stats(), "chat", chatRouter.Stats())

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server.http_shutdown", "err", err)
	}
	streams := sigRouter.Shutdown(shutdownReason)
	chats := chatRouter.Shutdown(shutdownReason)
	if err := server.Shutdown(shutdownCtx, shutdownReason); err != nil {
		logger.Warn("server.drain_timeout", "err", err)
	}

	logger.Info("server.stopped", "streams_closed", streams, "chat_rooms_closed", chats)
	return exitErr
}

func logMemory(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			logger.Debug("server.memory",
				"heap_alloc_mb", ms.HeapAlloc>>20,
				"heap_sys_mb", ms.HeapSys>>20,
				"sys_mb", ms.Sys>>20,
				"goroutines", runtime.NumGoroutine(),
			)
		}
	}
}
