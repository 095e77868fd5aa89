// Package registry parses and validates the collateral asset registry: the
// ordered list of accepted assets and the price feed backing each one.
//
// A registry comes from a YAML file or from two parallel comma-separated
// environment lists. Feed references take one of two forms:
//
//	chainlink:0x694AA1769357215DE4FAC081bf1f309aDC325306
//	static:2000.50
package registry

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/dsc-engine/internal/model"
)

// Supported feed kinds.
const (
	KindChainlink = "chainlink"
	KindStatic    = "static"
)

// assetRegex matches ticker-style IDs such as WETH or USDC2.
var assetRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,15}$`)

// feedRegex matches: {kind}:{value}
var feedRegex = regexp.MustCompile(`^([a-z]+):(\S+)$`)

var (
	ErrInvalidAsset   = errors.New("registry: invalid asset id")
	ErrDuplicateAsset = errors.New("registry: duplicate asset")
	ErrInvalidFeed    = errors.New("registry: invalid feed reference")
	ErrLengthMismatch = errors.New("registry: asset and feed lists differ in length")
	ErrEmpty          = errors.New("registry: no collateral assets")
)

// Feed is a parsed feed reference.
type Feed struct {
	Kind    string
	Address common.Address  // chainlink
	Price   decimal.Decimal // static, whole USD
}

// ParseFeed parses and validates a feed reference.
func ParseFeed(ref string) (Feed, error) {
	matches := feedRegex.FindStringSubmatch(strings.TrimSpace(ref))
	if matches == nil {
		return Feed{}, fmt.Errorf("%w: %q (expected chainlink:{address} or static:{usd})", ErrInvalidFeed, ref)
	}

	kind, value := matches[1], matches[2]
	switch kind {
	case KindChainlink:
		if !common.IsHexAddress(value) {
			return Feed{}, fmt.Errorf("%w: bad aggregator address %s", ErrInvalidFeed, value)
		}
		addr := common.HexToAddress(value)
		if addr == (common.Address{}) {
			return Feed{}, fmt.Errorf("%w: zero aggregator address", ErrInvalidFeed)
		}
		return Feed{Kind: kind, Address: addr}, nil
	case KindStatic:
		price, err := decimal.NewFromString(value)
		if err != nil || !price.IsPositive() {
			return Feed{}, fmt.Errorf("%w: static price must be a positive number, got %s", ErrInvalidFeed, value)
		}
		return Feed{Kind: kind, Price: price}, nil
	default:
		return Feed{}, fmt.Errorf("%w: unsupported kind %s", ErrInvalidFeed, kind)
	}
}

// Registry is the ordered collateral configuration.
type Registry struct {
	Assets       []model.Asset `yaml:"assets"`
	PriceTimeout time.Duration `yaml:"price_timeout"`
}

// Load reads a YAML registry from disk and validates it.
func Load(path string) (*Registry, error) {
	if path == "" {
		return nil, fmt.Errorf("registry path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer file.Close()

	var r Registry
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	r.normalize()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// FromLists builds a registry from parallel comma-separated lists, e.g.
// COLLATERAL_ASSETS=WETH,WBTC and COLLATERAL_FEEDS=static:2000,static:30000.
func FromLists(assets, feeds string) (*Registry, error) {
	ids := splitList(assets)
	refs := splitList(feeds)
	if len(ids) != len(refs) {
		return nil, fmt.Errorf("%w: %d assets, %d feeds", ErrLengthMismatch, len(ids), len(refs))
	}
	r := &Registry{}
	for i := range ids {
		r.Assets = append(r.Assets, model.Asset{ID: ids[i], Feed: refs[i]})
	}
	r.normalize()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks every asset ID and feed reference.
func (r *Registry) Validate() error {
	if len(r.Assets) == 0 {
		return ErrEmpty
	}
	seen := make(map[string]bool, len(r.Assets))
	for _, a := range r.Assets {
		if !assetRegex.MatchString(a.ID) || a.ID == model.DebtAsset {
			return fmt.Errorf("%w: %q", ErrInvalidAsset, a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateAsset, a.ID)
		}
		seen[a.ID] = true
		if _, err := ParseFeed(a.Feed); err != nil {
			return fmt.Errorf("asset %s: %w", a.ID, err)
		}
	}
	if r.PriceTimeout < 0 {
		return fmt.Errorf("registry: negative price_timeout %s", r.PriceTimeout)
	}
	return nil
}

// IDs returns the asset IDs in registry order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.Assets))
	for i, a := range r.Assets {
		ids[i] = a.ID
	}
	return ids
}

// HasChainlink reports whether any asset needs an RPC endpoint.
func (r *Registry) HasChainlink() bool {
	for _, a := range r.Assets {
		if f, err := ParseFeed(a.Feed); err == nil && f.Kind == KindChainlink {
			return true
		}
	}
	return false
}

func (r *Registry) normalize() {
	for i := range r.Assets {
		r.Assets[i].ID = strings.ToUpper(strings.TrimSpace(r.Assets[i].ID))
		r.Assets[i].Feed = strings.TrimSpace(r.Assets[i].Feed)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
