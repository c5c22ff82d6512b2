package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"openway.dev/internal/access"
	"openway.dev/internal/accounts"
	"openway.dev/internal/auth"
	"openway.dev/internal/config"
	"openway.dev/internal/httpapi"
	"openway.dev/internal/obs"
	"openway.dev/internal/provision"
	"openway.dev/internal/ratelimit"
	"openway.dev/internal/retention"
	"openway.dev/internal/store/memory"
	"openway.dev/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is what the API needs from a store implementation.
type backend interface {
	access.Store
	provision.Store
	accounts.Store
	retention.Store
	Ping(ctx context.Context) error
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var store backend
	if cfg.PGDSN != "" {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		obs.Info("no OPENWAY_PG_DSN set, using in-memory store", nil)
		store = memory.New()
	}

	if cfg.ProvisionFile != "" {
		doc, err := provision.Load(cfg.ProvisionFile)
		if err != nil {
			log.Fatalf("provision: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err = provision.NewApplier(store, accounts.NewService(store)).Apply(ctx, doc)
		cancel()
		if err != nil {
			log.Fatalf("provision: %v", err)
		}
	}

	rate, err := ratelimit.ParseRate(cfg.VerifyRate)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	var limiter ratelimit.Limiter = ratelimit.NewInMemory(rate)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		limiter = ratelimit.NewRedis(rdb, rate)
	}

	resolver, err := access.ResolverFor(cfg.CredentialMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	pipeline := access.NewPipeline(store, resolver,
		access.WithLimiter(limiter),
		access.WithAllowDuration(cfg.AllowDurationMS),
	)

	opts := []httpapi.Option{
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithAdminRateLimit(cfg.AdminRateBurst, cfg.AdminRatePerSec),
	}
	if cfg.AuthSecret != "" {
		tokens, err := auth.NewTokens(cfg.AuthSecret)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
		opts = append(opts, httpapi.WithAdmin(retention.NewPurger(store), tokens))
	}
	api := httpapi.New(pipeline, store, version, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	grpcSrv := httpapi.NewGRPCServer(store)

	obs.Info("starting openway-api", map[string]any{
		"version":         version,
		"http_addr":       cfg.HTTPAddr,
		"grpc_addr":       cfg.GRPCAddr,
		"credential_mode": cfg.CredentialMode,
		"verify_rate":     rate.String(),
		"redis":           cfg.RedisAddr != "",
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				obs.Error("grpc serve stopped", err, nil)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	obs.Info("shutting down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	obs.Info("stopped", nil)
}
