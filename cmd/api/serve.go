package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"shoplist.app/internal/auth"
	"shoplist.app/internal/broadcast"
	"shoplist.app/internal/config"
	"shoplist.app/internal/httpapi"
	"shoplist.app/internal/obs"
	"shoplist.app/internal/stream"
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = 5 * time.Second
)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, closeRegistry, err := newRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRegistry()

	issuerOpts := []auth.IssuerOption{
		auth.WithIssuerName(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	}
	if cfg.Auth.SessionEpochOnStart {
		issuerOpts = append(issuerOpts, auth.WithSessionEpoch(auth.NewSessionEpoch()))
	}
	issuer, err := auth.NewIssuer(cfg.Auth.Secret, issuerOpts...)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}

	if !cfg.PassphraseEnabled() {
		obs.Warn("admin_passphrase_disabled", map[string]any{
			"detail": "passphrase administrator routes reject every request",
		})
	}

	proxies, err := cfg.HTTP.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{DB: store}
	hub := stream.New()
	api := httpapi.New(httpapi.Deps{
		Auth:       auth.NewService(store, issuer, registry),
		Passphrase: auth.NewPassphrase(cfg.Admin.Passphrase),
		Broadcasts: broadcast.NewEngine(store, broadcast.WithNotifier(hub)),
		Stats:      store,
		Logs:       store.Audit(),
		Events:     hub,
		Ready:      probe,
	}, httpapi.Options{
		Version:        version,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RatePerSecond:  cfg.RateLimit.PerSecond,
		RateBurst:      cfg.RateLimit.Burst,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		obs.Info("http_listening", map[string]any{"addr": srv.Addr, "version": version})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	health := httpapi.NewGRPCHealth(probe)
	g.Go(func() error { return health.Run(gctx, healthInterval) })

	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv := httpapi.NewGRPCServer(health)
		g.Go(func() error {
			obs.Info("grpc_listening", map[string]any{"addr": cfg.GRPC.Addr})
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			grpcSrv.GracefulStop()
			return nil
		})
	}

	if mem, ok := registry.(*auth.MemoryRegistry); ok {
		g.Go(func() error { return compactLoop(gctx, mem, cfg.Revocation.CompactInterval) })
	}

	err = g.Wait()
	obs.Info("stopped", nil)
	return err
}

// newRegistry builds the configured revocation registry. The returned func
// releases its resources.
func newRegistry(ctx context.Context, cfg config.Config) (auth.RevocationRegistry, func(), error) {
	switch cfg.Revocation.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Revocation.RedisAddr})
		reg := auth.NewRedisRegistry(client)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := reg.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("revocation registry: %w", err)
		}
		return reg, func() { _ = client.Close() }, nil
	default:
		reg := auth.NewMemoryRegistry(func(n int) { obs.RevocationEntries.Set(float64(n)) })
		return reg, func() {}, nil
	}
}

// compactLoop drops revocations whose tokens have expired.
func compactLoop(ctx context.Context, reg *auth.MemoryRegistry, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := reg.Compact(now); n > 0 {
				obs.Info("revocations_compacted", map[string]any{"removed": n, "remaining": reg.Len()})
			}
		}
	}
}
