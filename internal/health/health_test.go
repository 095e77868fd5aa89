package health

import (
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/dsc-engine/internal/fixed"
)

// units is a test helper for whole 18-decimal units.
func units(n uint64) *uint256.Int {
	return fixed.Units(n)
}

// --- Calculate ---

func TestCalculate_NoDebtIsUnconstrained(t *testing.T) {
	f := Calculate(fixed.Zero(), units(100))
	if !f.IsUnconstrained() {
		t.Fatalf("expected unconstrained, got %s", f)
	}
	if !f.IsHealthy() {
		t.Error("debtless position must be healthy")
	}
	if !Calculate(nil, nil).IsUnconstrained() {
		t.Error("nil debt should be unconstrained")
	}
}

func TestCalculate_ScenarioA(t *testing.T) {
	// $20,000 of collateral against 100 DSC.
	f := Calculate(units(100), units(20_000))
	if !f.Value().Eq(units(100)) {
		t.Errorf("expected health factor 100, got %s", f)
	}
}

func TestCalculate_ScenarioB(t *testing.T) {
	// $180 of collateral against 100 DSC.
	f := Calculate(units(100), units(180))
	want := uint256.NewInt(900_000_000_000_000_000)
	if !f.Value().Eq(want) {
		t.Errorf("expected health factor 0.9, got %s", f)
	}
	if f.IsHealthy() {
		t.Error("0.9 must be liquidatable")
	}
}

func TestCalculate_ExactlyAtThresholdIsHealthy(t *testing.T) {
	f := Calculate(units(100), units(200))
	if !f.Value().Eq(MinHealthFactor) {
		t.Errorf("expected 1.0, got %s", f)
	}
	if !f.IsHealthy() {
		t.Error("1.0 must be healthy")
	}
}

func TestCalculate_ZeroCollateral(t *testing.T) {
	f := Calculate(units(1), fixed.Zero())
	if !f.Value().IsZero() {
		t.Errorf("expected 0, got %s", f)
	}
}

func TestCalculate_ExtremeInputsNeverFail(t *testing.T) {
	tests := []struct {
		name       string
		debt, coll *uint256.Int
	}{
		{"max collateral", uint256.NewInt(1), fixed.Max()},
		{"max debt", fixed.Max(), uint256.NewInt(1)},
		{"both max", fixed.Max(), fixed.Max()},
		{"dust", uint256.NewInt(1), uint256.NewInt(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Calculate(tt.debt, tt.coll)
			if f.IsUnconstrained() {
				t.Error("non-zero debt must produce a ratio")
			}
		})
	}
}

// --- Factor ordering ---

func TestFactor_Ordering(t *testing.T) {
	low := FromValue(uint256.NewInt(1))
	high := FromValue(units(5))
	inf := Unconstrained()

	if !low.Less(high) {
		t.Error("low < high")
	}
	if !high.Less(inf) {
		t.Error("ratio < unconstrained")
	}
	if inf.Less(inf) {
		t.Error("unconstrained must not be less than itself")
	}
	if inf.Cmp(Unconstrained()) != 0 {
		t.Error("unconstrained values compare equal")
	}
	if (Factor{}).IsHealthy() {
		t.Error("zero factor is unhealthy")
	}
}

func TestFactor_JSONRoundTrip(t *testing.T) {
	for _, f := range []Factor{Unconstrained(), FromValue(uint256.NewInt(900_000_000_000_000_000)), FromValue(units(100))} {
		data, err := json.Marshal(f)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back Factor
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back.Cmp(f) != 0 {
			t.Errorf("round trip changed %s into %s", f, back)
		}
	}

	data, _ := json.Marshal(FromValue(uint256.NewInt(900_000_000_000_000_000)))
	if string(data) != `"0.9"` {
		t.Errorf("expected \"0.9\", got %s", data)
	}
	var bad Factor
	if err := json.Unmarshal([]byte(`"-1"`), &bad); err == nil {
		t.Error("negative factor must be rejected")
	}
}

func TestFactor_Decimal(t *testing.T) {
	f := FromValue(uint256.NewInt(1_250_000_000_000_000_000))
	if !f.Decimal().Equal(decimal.NewFromFloat(1.25)) {
		t.Errorf("expected 1.25, got %s", f.Decimal())
	}
}

// --- Helpers ---

func TestMaxSafeMint(t *testing.T) {
	got := MaxSafeMint(units(100), units(20_000))
	if !got.Eq(units(9_900)) {
		t.Errorf("expected 9900, got %s", got.Dec())
	}
	if !MaxSafeMint(units(100), units(180)).IsZero() {
		t.Error("underwater position has no mint headroom")
	}
	// Minting exactly the headroom lands on 1.0.
	f := Calculate(units(10_000), units(20_000))
	if !f.Value().Eq(MinHealthFactor) {
		t.Errorf("expected 1.0 after max mint, got %s", f)
	}
}

func TestDebtToCover_ScenarioC(t *testing.T) {
	got := DebtToCover(units(100), units(180))
	if !got.Eq(units(10)) {
		t.Errorf("expected 10, got %s", got.Dec())
	}
	if !DebtToCover(units(100), units(20_000)).IsZero() {
		t.Error("healthy position needs no cover")
	}
	if !DebtToCover(fixed.Zero(), fixed.Zero()).IsZero() {
		t.Error("empty position needs no cover")
	}
	if !DebtToCover(fixed.Max(), fixed.Zero()).Eq(fixed.Max()) {
		t.Error("extreme debt should be returned in full")
	}
}

func TestRequiredCollateral(t *testing.T) {
	if !RequiredCollateral(units(100)).Eq(units(200)) {
		t.Error("100 debt needs 200 collateral")
	}
}

func TestBonus(t *testing.T) {
	if !Bonus(units(50)).Eq(units(5)) {
		t.Error("bonus on 50 should be 5")
	}
}
