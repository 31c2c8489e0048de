package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/guild-relay-service/internal/api"
	"github.com/teresa-solution/guild-relay-service/internal/config"
	"github.com/teresa-solution/guild-relay-service/internal/feed"
	"github.com/teresa-solution/guild-relay-service/internal/monitoring"
	"github.com/teresa-solution/guild-relay-service/internal/platform/discord"
	"github.com/teresa-solution/guild-relay-service/internal/service"
	"github.com/teresa-solution/guild-relay-service/internal/store"
	"github.com/teresa-solution/guild-relay-service/internal/telemetry"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	grpcPort := flag.Int("grpc-port", cfg.GRPCPort, "Port gRPC server")
	httpPort := flag.Int("http-port", cfg.HTTPPort, "Port HTTP ops server")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.OTel)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
	}

	configStore, err := openStore(ctx, cfg, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open config store")
	}
	defer configStore.Close()

	var (
		sessions store.SessionStore   = store.NewMemorySessionStore()
		ledger   store.DeliveryLedger = store.NewMemoryLedger()
	)
	if rdb != nil {
		sessions = store.NewRedisSessionStore(rdb)
		ledger = store.NewRedisLedger(rdb, cfg.LedgerTTL)
	}

	transport, err := discord.New(cfg.Token, cfg.PlatformTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Discord client")
	}
	if err := transport.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Discord")
	}
	defer transport.Close()

	deps := service.Deps{
		Store:      configStore,
		Transport:  transport,
		Sessions:   sessions,
		Ledger:     ledger,
		SessionTTL: cfg.SessionTTL,
		Engine: service.EngineConfig{
			Interval:          cfg.Feed.PollInterval,
			BootstrapPageSize: cfg.Feed.BootstrapPageSize,
			CatchUpPageSize:   cfg.Feed.CatchUpPageSize,
			MaxPages:          cfg.Feed.MaxPages,
		},
	}
	if cfg.Feed.Enabled() {
		deps.Source = feed.NewClient(feed.ClientConfig{
			BaseURL:  cfg.Feed.BaseURL,
			Author:   cfg.Feed.Author,
			Username: cfg.Feed.Username,
			Password: cfg.Feed.Password,
			Timeout:  cfg.Feed.Timeout,
		})
	} else {
		log.Warn().Msg("FEED_BASE_URL or FEED_AUTHOR not set, feed relay disabled")
	}
	rt := service.NewRuntime(deps)

	monitoring.InitMetrics()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", *grpcPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	grpcServer := grpc.NewServer()
	api.Register(grpcServer, api.NewCommandServer(rt.Commands))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	routerCfg := api.RouterConfig{}
	if cfg.OTel.Enabled() {
		routerCfg.TracingService = cfg.OTel.ServiceName
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", *httpPort),
		Handler:           api.NewRouter(routerCfg, rt.Store, rt.Commands),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("gRPC server listening at %v", lis.Addr())
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info().Msgf("HTTP server for health checks and metrics started on port %d", *httpPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if rt.Engine != nil {
		g.Go(func() error {
			if err := rt.Engine.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		grpcServer.GracefulStop()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Telemetry shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
	}
	log.Info().Msg("Server exiting")
}

func openStore(ctx context.Context, cfg config.Config, rdb *redis.Client) (store.ConfigStore, error) {
	var base store.ConfigStore
	switch cfg.Store.Backend {
	case config.BackendMemory:
		mem, err := store.NewMemoryConfigStore()
		if err != nil {
			return nil, err
		}
		log.Warn().Msg("Using in-memory config store; settings are lost on restart")
		base = mem
	default:
		repo, err := store.NewTenantRepository(ctx, store.PoolConfig{
			DSN:      cfg.Store.DSN,
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		base = repo
	}
	if rdb == nil {
		return base, nil
	}
	return store.NewCachedConfigStore(base, rdb, cfg.Redis.CacheTTL), nil
}
