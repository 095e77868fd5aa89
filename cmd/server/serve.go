package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/atmx/dsc-engine/internal/engine"
	"github.com/atmx/dsc-engine/internal/metrics"
	"github.com/atmx/dsc-engine/internal/position"
	"github.com/atmx/dsc-engine/internal/store"
	"github.com/atmx/dsc-engine/internal/token"
)

func serveCmd(cfg *config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Port, "port", cfg.Port, "listen port (PORT)")
	f.BoolVar(&cfg.DevMode, "dev", cfg.DevMode, "enable price override and faucet endpoints (DEV_MODE)")
	f.IntVar(&cfg.RateLimitPerMin, "rate-limit", cfg.RateLimitPerMin, "mutating requests per client per minute, 0 disables (RATE_LIMIT_PER_MIN)")
	return cmd
}

func healthHandler(hub *position.WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"service":    "dsc-engine",
			"ws_clients": hub.Clients(),
		})
	}
}

func serve(parent context.Context, cfg *config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Collateral registry and price feeds ---
	reg, err := cfg.loadRegistry()
	if err != nil {
		return err
	}
	sources, statics, closeRPC, err := cfg.sources(ctx, reg)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closeRPC)
	timeout := cfg.priceTimeout(reg)
	slog.Info("collateral registry loaded", "assets", reg.IDs(), "price_timeout", timeout.String())

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("invalid REDIS_URL: %w", err)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- WebSocket hub ---
	wsHub := position.NewWSHub()
	go wsHub.Run(ctx)

	// --- Engine ---
	dsc := token.NewMemoryDebtToken()
	vault := token.NewMemoryVault()
	eng, err := engine.New(reg.IDs(), sources, dsc, vault,
		engine.WithJournal(st),
		engine.WithNotifier(wsHub),
		engine.WithPriceTimeout(timeout),
		engine.WithLogger(slog.Default()),
	)
	if err != nil {
		return err
	}

	entries, err := st.ListLedgerEntries(ctx)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	if err := eng.Restore(ctx, entries); err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}

	// --- Position service ---
	opts := []position.Option{position.WithRateLimiter(position.NewRateLimiter(cfg.RateLimitPerMin))}
	if cfg.DevMode {
		slog.Warn("dev mode: price override and faucet endpoints enabled")
		opts = append(opts, position.WithDevTools(statics, vault))
	}
	svc := position.NewService(eng, st, wsHub, opts...)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", healthHandler(wsHub))

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dsc-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down dsc-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Fprintln(os.Stderr, "dsc-engine stopped")
	return nil
}
