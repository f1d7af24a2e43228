// Command gmpauth-sweeper expires lapsed role assignments on a schedule and
// exposes the engine's counters for Prometheus.
//
// Configuration comes from GMPAUTH_* variables (see gmpAuth.LoadConfigFromEnv)
// plus GMPAUTH_PG_DSN and, optionally, GMPAUTH_REDIS_ADDR.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	gmpAuth "github.com/MrEthical07/gmpAuth"
	"github.com/MrEthical07/gmpAuth/internal/sweeper"
	promexport "github.com/MrEthical07/gmpAuth/metrics/export/prometheus"
	"github.com/MrEthical07/gmpAuth/pgstore"
)

func main() {
	var (
		addr    = flag.String("addr", ":9464", "listen address for /healthz and /metrics")
		migrate = flag.Bool("migrate", false, "apply the database schema before starting")
	)
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*addr, *migrate, logger); err != nil {
		logger.Fatal("sweeper stopped", zap.Error(err))
	}
}

func run(addr string, migrate bool, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := gmpAuth.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	dsn := os.Getenv("GMPAUTH_PG_DSN")
	if dsn == "" {
		return errors.New("GMPAUTH_PG_DSN is required")
	}

	store, err := pgstore.Open(dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("schema applied")
	}

	builder := gmpAuth.New().
		WithConfig(cfg).
		WithUserStore(store).
		WithAuthorizationStore(store).
		WithLogger(logger).
		WithAuditSink(gmpAuth.NewZapSink(logger.Named("audit"))).
		WithMetricsEnabled(true)
	if redisAddr := os.Getenv("GMPAUTH_REDIS_ADDR"); redisAddr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: strings.Split(redisAddr, ",")})
		defer client.Close()
		builder = builder.WithRedis(client)
	}
	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		promexport.NewExporter(engine),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(store.Ping, reg),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	interval := cfg.Authorization.ExpirySweepInterval
	if interval > 0 {
		sw, err := sweeper.New(engine.RefreshExpiredAssignments, interval, logger.Named("sweeper"))
		if err != nil {
			return err
		}
		go sw.Run(ctx)
	} else {
		logger.Warn("assignment expiry sweep disabled", zap.Duration("interval", interval))
	}

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
