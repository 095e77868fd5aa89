package registry

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/dsc-engine/internal/engine"
	"github.com/atmx/dsc-engine/internal/fixed"
	"github.com/atmx/dsc-engine/internal/oracle"
	"github.com/atmx/dsc-engine/internal/token"
)

func TestParseFeed_Valid(t *testing.T) {
	f, err := ParseFeed("chainlink:0x694AA1769357215DE4FAC081bf1f309aDC325306")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Kind != KindChainlink {
		t.Errorf("expected kind=chainlink, got %s", f.Kind)
	}
	want := common.HexToAddress("0x694AA1769357215DE4FAC081bf1f309aDC325306")
	if f.Address != want {
		t.Errorf("expected address %s, got %s", want.Hex(), f.Address.Hex())
	}

	f, err = ParseFeed(" static:2000.50 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Kind != KindStatic || f.Price.String() != "2000.5" {
		t.Errorf("expected static 2000.5, got %s %s", f.Kind, f.Price)
	}
}

func TestParseFeed_Invalid(t *testing.T) {
	tests := []string{
		"",
		"chainlink",
		"chainlink:",
		"chainlink:0x1234",
		"chainlink:0x0000000000000000000000000000000000000000",
		"static:abc",
		"static:0",
		"static:-5",
		"pyth:0xabc",
		"STATIC:100",
	}
	for _, ref := range tests {
		if _, err := ParseFeed(ref); !errors.Is(err, ErrInvalidFeed) {
			t.Errorf("expected ErrInvalidFeed for %q, got %v", ref, err)
		}
	}
}

func TestFromLists(t *testing.T) {
	r, err := FromLists("weth, WBTC", "static:2000,static:30000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "WETH" || ids[1] != "WBTC" {
		t.Errorf("expected [WETH WBTC], got %v", ids)
	}
	if r.HasChainlink() {
		t.Error("static-only registry should not need RPC")
	}

	if _, err := FromLists("WETH,WBTC", "static:2000"); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
	if _, err := FromLists("", ""); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := FromLists("WETH,WETH", "static:1,static:2"); !errors.Is(err, ErrDuplicateAsset) {
		t.Errorf("expected ErrDuplicateAsset, got %v", err)
	}
	if _, err := FromLists("DSC", "static:1"); !errors.Is(err, ErrInvalidAsset) {
		t.Errorf("expected ErrInvalidAsset for reserved id, got %v", err)
	}
	if _, err := FromLists("W-ETH", "static:1"); !errors.Is(err, ErrInvalidAsset) {
		t.Errorf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	body := `
price_timeout: 90m
assets:
  - id: WETH
    feed: chainlink:0x694AA1769357215DE4FAC081bf1f309aDC325306
  - id: wbtc
    feed: static:30000
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.PriceTimeout != 90*time.Minute {
		t.Errorf("expected 90m timeout, got %s", r.PriceTimeout)
	}
	if r.Assets[1].ID != "WBTC" {
		t.Errorf("expected normalized id WBTC, got %s", r.Assets[1].ID)
	}
	if !r.HasChainlink() {
		t.Error("expected chainlink feed to be detected")
	}

	if _, err := Load(""); err == nil {
		t.Error("expected error for empty path")
	}
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("assets: []\nunknown: 1\n"), 0o600)
	if _, err := Load(bad); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestSources(t *testing.T) {
	r, _ := FromLists("WETH,WBTC", "static:2000.5,static:30000")
	sources, statics, err := r.Sources(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sources) != 2 || len(statics) != 2 {
		t.Fatalf("expected 2 sources, got %d/%d", len(sources), len(statics))
	}
	round, err := sources[0].Latest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if round.Answer.Cmp(big.NewInt(2000_50000000)) != 0 {
		t.Errorf("expected 8-decimal answer 200050000000, got %s", round.Answer)
	}
	if sources[1] != statics["WBTC"] {
		t.Error("static map should expose the same source")
	}

	withChainlink, _ := FromLists("WETH", "chainlink:0x694AA1769357215DE4FAC081bf1f309aDC325306")
	if _, _, err := withChainlink.Sources(nil); !errors.Is(err, ErrNoRPC) {
		t.Errorf("expected ErrNoRPC, got %v", err)
	}
}

// Configured static prices are not observations and never go stale, however
// long the server has been running.
func TestSources_StaticFeedsStayCurrent(t *testing.T) {
	r, err := FromLists("WETH,WBTC", "static:2000,static:30000")
	if err != nil {
		t.Fatal(err)
	}
	sources, _, err := r.Sources(nil)
	if err != nil {
		t.Fatal(err)
	}

	later := time.Now().Add(oracle.DefaultTimeout + time.Minute)
	vault := token.NewMemoryVault()
	e, err := engine.New(r.IDs(), sources, token.NewMemoryDebtToken(), vault,
		engine.WithClock(func() time.Time { return later }))
	if err != nil {
		t.Fatal(err)
	}
	if err := vault.Fund("WETH", "alice", fixed.Units(10)); err != nil {
		t.Fatal(err)
	}
	if err := e.DepositCollateralAndMintDsc(context.Background(), "alice", "WETH", fixed.Units(10), fixed.Units(1000)); err != nil {
		t.Fatalf("static feed went stale: %v", err)
	}

	res := r.Check(context.Background(), sources, later)
	for _, c := range res {
		if c.Err != nil {
			t.Errorf("%s: unexpected check error: %v", c.Asset, c.Err)
		}
	}
}

type decimalsSource struct {
	*oracle.StaticSource
	decimals uint8
}

func (s decimalsSource) Decimals(context.Context) (uint8, error) { return s.decimals, nil }

func TestCheck(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	fresh := &oracle.StaticSource{}
	fresh.SetRound(big.NewInt(2000_00000000), now.Add(-time.Hour))
	stale := &oracle.StaticSource{}
	stale.SetRound(big.NewInt(30000_00000000), now.Add(-4*time.Hour))
	wrongScale := decimalsSource{StaticSource: fresh, decimals: 18}

	r, _ := FromLists("WETH,WBTC,LINK", "static:1,static:1,static:1")
	results := r.Check(context.Background(), []oracle.Source{fresh, stale, wrongScale}, now)

	if results[0].Err != nil || results[0].Answer.Int64() != 2000_00000000 {
		t.Errorf("WETH: expected fresh answer, got %+v", results[0])
	}
	if !errors.Is(results[1].Err, oracle.ErrStalePrice) {
		t.Errorf("WBTC: expected stale, got %v", results[1].Err)
	}
	if !errors.Is(results[2].Err, ErrFeedDecimals) || results[2].Decimals != 18 {
		t.Errorf("LINK: expected decimals error, got %+v", results[2])
	}
}

var _ ethereum.ContractCaller = (*noopCaller)(nil)

type noopCaller struct{}

func (noopCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("not connected")
}

func TestSources_Chainlink(t *testing.T) {
	r, _ := FromLists("WETH", "chainlink:0x694AA1769357215DE4FAC081bf1f309aDC325306")
	sources, statics, err := r.Sources(noopCaller{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(statics) != 0 {
		t.Error("chainlink feeds are not static")
	}
	cl, ok := sources[0].(*oracle.ChainlinkSource)
	if !ok {
		t.Fatalf("expected *oracle.ChainlinkSource, got %T", sources[0])
	}
	if cl.Address() != common.HexToAddress("0x694AA1769357215DE4FAC081bf1f309aDC325306") {
		t.Errorf("unexpected address %s", cl.Address().Hex())
	}
	res := r.Check(context.Background(), sources, time.Now())
	if res[0].Err == nil {
		t.Error("expected transport error to surface in check")
	}
}
