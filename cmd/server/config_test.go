package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atmx/dsc-engine/internal/oracle"
	"github.com/atmx/dsc-engine/internal/registry"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("RATE_LIMIT_PER_MIN", "nope")
	t.Setenv("PRICE_TIMEOUT", "45m")
	t.Setenv("COLLATERAL_ASSETS", "WETH")
	t.Setenv("COLLATERAL_FEEDS", "static:1800")

	cfg := configFromEnv()
	if cfg.Port != "9090" || !cfg.DevMode {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.RateLimitPerMin != 120 {
		t.Errorf("invalid integer should fall back to 120, got %d", cfg.RateLimitPerMin)
	}

	reg, err := cfg.loadRegistry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids := reg.IDs(); len(ids) != 1 || ids[0] != "WETH" {
		t.Errorf("expected [WETH], got %v", ids)
	}
	if got := cfg.priceTimeout(reg); got != 45*time.Minute {
		t.Errorf("env timeout should win, got %s", got)
	}
}

func TestPriceTimeout_Precedence(t *testing.T) {
	cfg := &config{}
	reg := &registry.Registry{}
	if got := cfg.priceTimeout(reg); got != oracle.DefaultTimeout {
		t.Errorf("expected default, got %s", got)
	}
	reg.PriceTimeout = time.Hour
	if got := cfg.priceTimeout(reg); got != time.Hour {
		t.Errorf("expected registry value, got %s", got)
	}
}

func TestSources_ChainlinkNeedsRPC(t *testing.T) {
	cfg := &config{
		CollateralAssets: "WETH",
		CollateralFeeds:  "chainlink:0x694AA1769357215DE4FAC081bf1f309aDC325306",
	}
	reg, err := cfg.loadRegistry()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := cfg.sources(context.Background(), reg); !errors.Is(err, registry.ErrNoRPC) {
		t.Errorf("expected ErrNoRPC, got %v", err)
	}

	static := &config{CollateralAssets: "WETH", CollateralFeeds: "static:2000"}
	reg, _ = static.loadRegistry()
	sources, statics, cleanup, err := static.sources(context.Background(), reg)
	if err != nil {
		t.Fatal(err)
	}
	defer cleanup()
	if len(sources) != 1 || statics["WETH"] == nil {
		t.Errorf("expected one static source, got %d/%v", len(sources), statics)
	}
}
