package recovery

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestUnionAssetsDedupsAcrossBothSides(t *testing.T) {
	t.Parallel()

	a := map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1), "BNB": decimal.NewFromInt(2)}
	b := map[string]decimal.Decimal{"BNB": decimal.NewFromInt(3), "BTC": decimal.NewFromInt(4)}

	got := unionAssets(a, b)
	want := map[string]bool{"USDT": true, "BNB": true, "BTC": true}
	if len(got) != len(want) {
		t.Fatalf("unionAssets() = %v, want 3 distinct assets", got)
	}
	for _, asset := range got {
		if !want[asset] {
			t.Errorf("unionAssets() produced unexpected asset %q", asset)
		}
	}
}

func TestAdjustmentThresholdSkipsDust(t *testing.T) {
	t.Parallel()

	diff := decimal.NewFromFloat(0.00001)
	if diff.Abs().GreaterThanOrEqual(adjustmentThreshold) {
		t.Fatalf("test fixture diff %s is not below adjustmentThreshold %s", diff, adjustmentThreshold)
	}
}
