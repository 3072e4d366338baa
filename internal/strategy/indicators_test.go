package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"alphaengine-core/pkg/types"
)

func barsFromCloses(closes ...float64) []types.Bar {
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		bars[i] = types.Bar{
			OpenTime: time.Unix(int64(i)*60, 0),
			Open:     d,
			High:     d,
			Low:      d,
			Close:    d,
			Volume:   decimal.NewFromInt(1),
		}
	}
	return bars
}

func TestSMANotEnoughHistory(t *testing.T) {
	t.Parallel()

	_, ok := SMA(barsFromCloses(1, 2), 5)
	if ok {
		t.Error("expected ok=false with fewer bars than the period")
	}
}

func TestSMAComputesAverageOfLastPeriod(t *testing.T) {
	t.Parallel()

	bars := barsFromCloses(1, 2, 3, 4, 5)
	avg, ok := SMA(bars, 3)
	if !ok {
		t.Fatal("expected ok=true")
	}
	want := decimal.NewFromInt(4) // (3+4+5)/3
	if !avg.Equal(want) {
		t.Errorf("SMA() = %s, want %s", avg, want)
	}
}

func TestATRNotEnoughHistory(t *testing.T) {
	t.Parallel()

	_, ok := ATR(barsFromCloses(1, 2, 3), 5)
	if ok {
		t.Error("expected ok=false without period+1 bars")
	}
}

func TestATRComputesRollingMeanOfTrueRange(t *testing.T) {
	t.Parallel()

	bars := []types.Bar{
		{Close: decimal.NewFromInt(10)},
		{High: decimal.NewFromInt(12), Low: decimal.NewFromInt(9), Close: decimal.NewFromInt(11)},
		{High: decimal.NewFromInt(13), Low: decimal.NewFromInt(10), Close: decimal.NewFromInt(12)},
	}
	// bar1 TR = max(12-9, |12-10|, |9-10|) = max(3,2,1) = 3
	// bar2 TR = max(13-10, |13-11|, |10-11|) = max(3,2,1) = 3
	avg, ok := ATR(bars, 2)
	if !ok {
		t.Fatal("expected ok=true")
	}
	want := decimal.NewFromInt(3)
	if !avg.Equal(want) {
		t.Errorf("ATR() = %s, want %s", avg, want)
	}
}
