package fixed

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestMulDiv_Exact(t *testing.T) {
	got := MulDiv(u(6), u(7), u(2))
	if !got.Eq(u(21)) {
		t.Errorf("expected 21, got %s", got.Dec())
	}
}

func TestMulDiv_SaturatesOnOverflow(t *testing.T) {
	got := MulDiv(Max(), Max(), u(1))
	if !IsMax(got) {
		t.Errorf("expected saturation, got %s", got.Dec())
	}
}

func TestMulDiv_WideIntermediateDoesNotOverflow(t *testing.T) {
	// Max * 1e18 / 1e18 needs 512 bits in the middle but fits at the end.
	got := MulDiv(Max(), Precision, Precision)
	if !IsMax(got) {
		t.Errorf("expected Max round-trip, got %s", got.Dec())
	}
	half := new(uint256.Int).Rsh(Max(), 1)
	got = MulDiv(half, u(2), u(4))
	want := new(uint256.Int).Rsh(Max(), 2)
	if !got.Eq(want) {
		t.Errorf("expected %s, got %s", want.Dec(), got.Dec())
	}
}

func TestMulDiv_ZeroDivisor(t *testing.T) {
	if !IsMax(MulDiv(u(1), u(1), u(0))) {
		t.Error("zero divisor should saturate")
	}
	if !MulDiv(u(0), u(1), u(0)).IsZero() {
		t.Error("zero numerator should stay zero")
	}
}

func TestAddSub_Saturate(t *testing.T) {
	if !IsMax(Add(Max(), u(1))) {
		t.Error("Add should saturate")
	}
	if !Sub(u(1), u(2)).IsZero() {
		t.Error("Sub should clamp at zero")
	}
	if !Sub(u(5), u(2)).Eq(u(3)) {
		t.Error("Sub(5,2) should be 3")
	}
}

func TestUsdValue(t *testing.T) {
	price := Units(2000)
	got := UsdValue(price, Units(15))
	if !got.Eq(Units(30000)) {
		t.Errorf("expected 30000e18, got %s", got.Dec())
	}
}

func TestTokenAmountFromUsd(t *testing.T) {
	price := Units(2000)
	got := TokenAmountFromUsd(price, Units(100))
	want := u(50_000_000_000_000_000) // 0.05 units
	if !got.Eq(want) {
		t.Errorf("expected %s, got %s", want.Dec(), got.Dec())
	}
	if !IsMax(TokenAmountFromUsd(Zero(), Units(1))) {
		t.Error("zero price should saturate")
	}
	if !TokenAmountFromUsd(Zero(), Zero()).IsZero() {
		t.Error("zero usd should be zero")
	}
}

func TestParse(t *testing.T) {
	v, err := Parse(" 1000000000000000000 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Eq(Precision) {
		t.Errorf("expected 1e18, got %s", v.Dec())
	}
	for _, bad := range []string{"", "-1", "1.5", "abc", "0x10"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("2000.5", FeedDecimals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Eq(u(200_050_000_000)) {
		t.Errorf("expected 200050000000, got %s", v.Dec())
	}
	if _, err := ParseUnits("-3", FeedDecimals); err == nil {
		t.Error("expected error for negative value")
	}
}

func TestToDecimal(t *testing.T) {
	got := ToDecimal(u(1_500_000_000_000_000_000), Decimals)
	if !got.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("expected 1.5, got %s", got)
	}
	if !ToDecimal(nil, Decimals).IsZero() {
		t.Error("nil should render as zero")
	}
}
