package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/atmx/dsc-engine/internal/oracle"
	"github.com/atmx/dsc-engine/internal/registry"
)

// config is read from the environment first; flags override it.
type config struct {
	Port             string
	DatabaseURL      string
	RedisURL         string
	RegistryFile     string
	CollateralAssets string
	CollateralFeeds  string
	RPCURL           string
	PriceTimeout     time.Duration
	DevMode          bool
	RateLimitPerMin  int
}

func configFromEnv() *config {
	return &config{
		Port:             envOr("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		RegistryFile:     os.Getenv("REGISTRY_FILE"),
		CollateralAssets: envOr("COLLATERAL_ASSETS", "WETH,WBTC"),
		CollateralFeeds:  envOr("COLLATERAL_FEEDS", "static:2000,static:30000"),
		RPCURL:           os.Getenv("ETH_RPC_URL"),
		PriceTimeout:     envDuration("PRICE_TIMEOUT", 0),
		DevMode:          envBool("DEV_MODE", false),
		RateLimitPerMin:  envInt("RATE_LIMIT_PER_MIN", 120),
	}
}

func (c *config) bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&c.RegistryFile, "registry", c.RegistryFile, "collateral registry YAML file (REGISTRY_FILE)")
	f.StringVar(&c.CollateralAssets, "assets", c.CollateralAssets, "comma-separated collateral assets when no registry file is set")
	f.StringVar(&c.CollateralFeeds, "feeds", c.CollateralFeeds, "comma-separated feed references, parallel to --assets")
	f.StringVar(&c.RPCURL, "rpc", c.RPCURL, "Ethereum JSON-RPC endpoint for chainlink feeds (ETH_RPC_URL)")
	f.DurationVar(&c.PriceTimeout, "price-timeout", c.PriceTimeout, "maximum accepted oracle answer age (PRICE_TIMEOUT)")
}

// loadRegistry prefers the YAML file; otherwise the asset and feed lists.
func (c *config) loadRegistry() (*registry.Registry, error) {
	if c.RegistryFile != "" {
		return registry.Load(c.RegistryFile)
	}
	return registry.FromLists(c.CollateralAssets, c.CollateralFeeds)
}

// priceTimeout resolves flag/env over the registry file value.
func (c *config) priceTimeout(reg *registry.Registry) time.Duration {
	if c.PriceTimeout > 0 {
		return c.PriceTimeout
	}
	if reg.PriceTimeout > 0 {
		return reg.PriceTimeout
	}
	return oracle.DefaultTimeout
}

// sources dials the RPC endpoint only when a chainlink feed needs it.
func (c *config) sources(ctx context.Context, reg *registry.Registry) ([]oracle.Source, map[string]*oracle.StaticSource, func(), error) {
	cleanup := func() {}
	if !reg.HasChainlink() {
		sources, statics, err := reg.Sources(nil)
		return sources, statics, cleanup, err
	}
	if c.RPCURL == "" {
		return nil, nil, cleanup, registry.ErrNoRPC
	}
	client, err := ethclient.DialContext(ctx, c.RPCURL)
	if err != nil {
		return nil, nil, cleanup, fmt.Errorf("dial rpc: %w", err)
	}
	slog.Info("connected to Ethereum RPC")
	sources, statics, err := reg.Sources(client)
	if err != nil {
		client.Close()
		return nil, nil, cleanup, err
	}
	return sources, statics, client.Close, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer", "key", key, "value", v)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean", "key", key, "value", v)
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring invalid duration", "key", key, "value", v)
		return fallback
	}
	return d
}
