package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/campus-offline/pkg/bgsync"
	"github.com/Sternrassler/campus-offline/pkg/cache"
	"github.com/Sternrassler/campus-offline/pkg/config"
	"github.com/Sternrassler/campus-offline/pkg/connectivity"
	"github.com/Sternrassler/campus-offline/pkg/logging"
	"github.com/Sternrassler/campus-offline/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", getEnv("CAMPUS_CONFIG", ""), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Proxy stopped")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	storage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer storage.Close()
	logger.Info().Str("backend", cfg.Cache.Backend).Msg("Cache storage ready")

	a, err := newApp(cfg, storage, http.DefaultClient)
	if err != nil {
		return err
	}

	if _, err := a.container.Register(ctx, cfg.Cache.Version); err != nil {
		// The proxy still passes requests through without a worker.
		logger.Error().Err(err).Int("version", cfg.Cache.Version).Msg("Worker registration failed")
	}

	e := newServer(a)
	addr := ":" + strconv.Itoa(cfg.Server.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", addr).Str("origin", cfg.Server.Origin).Msg("Starting campus proxy")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := a.monitor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info().Msg("Shutting down")
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStorage(ctx context.Context, cfg config.Config) (cache.Storage, error) {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		return cache.NewRedisStorage(redisClient, cfg.Cache.RedisPrefix), nil
	case config.BackendLevelDB:
		storage, err := cache.OpenLevelDBStorage(cfg.Cache.LevelDBPath)
		if err != nil {
			return nil, err
		}
		return storage, nil
	default:
		return cache.NewMemoryStorage(), nil
	}
}

// app wires the worker registration to sync and connectivity.
type app struct {
	cfg       config.Config
	container *worker.Container
	manager   *bgsync.Manager
	monitor   *connectivity.Monitor
	logger    zerolog.Logger
}

func newApp(cfg config.Config, storage cache.Storage, fetcher worker.Fetcher) (*app, error) {
	wc := cfg.WorkerConfig()
	container, err := worker.NewContainer(wc, storage, fetcher)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		container: container,
		manager:   bgsync.NewManager(container),
		monitor:   connectivity.NewMonitor(connectivity.NewHTTPProber(cfg.Server.Origin, cfg.Connectivity.ProbePath), cfg.ProbeInterval()),
		logger:    logging.NewLogger("proxy"),
	}

	a.monitor.Subscribe(func(online bool) {
		if !online {
			a.logger.Warn().Msg("Origin unreachable, serving from cache")
			return
		}
		a.logger.Info().Msg("Origin reachable again")
		a.sync(context.Background(), wc.SyncTag)
	})
	return a, nil
}

// sync registers tag and fires every pending sync.
func (a *app) sync(ctx context.Context, tag string) error {
	if err := a.manager.Register(tag); err != nil {
		return err
	}
	if err := a.manager.Fire(ctx); err != nil {
		a.logger.Warn().Err(err).Strs("pending", a.manager.Tags()).Msg("Background sync incomplete")
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
