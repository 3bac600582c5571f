// Command signaling runs the room-scoped WebRTC signaling service: the
// Front Door HTTP/WebSocket server, the Room Hub it routes into, and the
// gRPC health surface orchestrators can poll alongside HTTP. Grounded on
// the teacher's cmd/v1/session/main.go: .env loading, gin router assembly,
// and graceful shutdown on SIGINT/SIGTERM follow the same shape.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roomrelay/signaling-server/internal/v1/config"
	"github.com/roomrelay/signaling-server/internal/v1/domain"
	"github.com/roomrelay/signaling-server/internal/v1/front"
	"github.com/roomrelay/signaling-server/internal/v1/health"
	"github.com/roomrelay/signaling-server/internal/v1/logging"
	"github.com/roomrelay/signaling-server/internal/v1/ratelimit"
	"github.com/roomrelay/signaling-server/internal/v1/room"
	"github.com/roomrelay/signaling-server/internal/v1/store"
	"github.com/roomrelay/signaling-server/internal/v1/tracing"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// redisKeyTTL is the Redis key expiry a Redis-backed room sets on each
// write, counted from the write, a backstop against orphaned keys per
// store.NewRedis's doc comment.
const redisKeyTTL = 10 * time.Minute

func loadDotEnv() {
	for _, path := range []string{".env", "../../.env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

func main() {
	loadDotEnv()

	cfg, err := config.ValidateEnv()
	if err != nil {
		// logging isn't initialized yet (its mode comes from a valid
		// config's GO_ENV), and a misconfigured process must not start
		// serving at all.
		println("signaling: invalid configuration: " + err.Error())
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		println("signaling: failed to initialize logging: " + err.Error())
		os.Exit(1)
	}

	ctx := context.Background()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tp, err := tracing.InitTracer(ctx, "signaling-server", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(ctx) }()
		}
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logging.Fatal(ctx, "redis enabled but unreachable at startup", zap.Error(err))
		}
	}

	newStore := func(roomID domain.RoomID) store.Store {
		if redisClient == nil {
			return store.NewMemory()
		}
		return store.NewRedis(redisClient, string(roomID), redisKeyTTL)
	}
	hub := room.NewHub(newStore)

	limiter, err := ratelimit.New(redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to construct rate limiter", zap.Error(err))
	}

	var storeChecker health.Checker
	if redisClient != nil {
		storeChecker = store.NewRedis(redisClient, "healthcheck", redisKeyTTL)
	}
	healthHandler := health.NewHandler(storeChecker)

	router := front.NewRouter(front.Deps{
		Hub:     hub,
		Config:  cfg,
		Limiter: limiter,
		Health:  healthHandler,
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, health.NewGRPCHealthServer(storeChecker))
	grpcLis, err := net.Listen("tcp", ":50051")
	if err != nil {
		logging.Fatal(ctx, "failed to bind gRPC health listener", zap.Error(err))
	}

	go func() {
		logging.Info(ctx, "signaling server listening", zap.String("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "http server failed", zap.Error(err))
		}
	}()

	go func() {
		logging.Info(ctx, "gRPC health server listening", zap.String("addr", grpcLis.Addr().String()))
		if err := grpcSrv.Serve(grpcLis); err != nil {
			logging.Error(ctx, "gRPC health server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "http server forced to shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	hub.Shutdown()

	logging.Info(ctx, "signaling server exited")
}
