package strategy

import (
	"github.com/shopspring/decimal"

	"alphaengine-core/pkg/types"
)

// SMA computes the simple moving average of the last period closes. ok is
// false if bars doesn't carry enough history.
func SMA(bars []types.Bar, period int) (avg decimal.Decimal, ok bool) {
	if period <= 0 || len(bars) < period {
		return decimal.Zero, false
	}
	window := bars[len(bars)-period:]
	sum := decimal.Zero
	for _, b := range window {
		sum = sum.Add(b.Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// ATR computes the Average True Range over the last period bars (a rolling
// mean of true range, matching the source's pandas .rolling(period).mean()
// rather than Wilder's smoothing). ok is false without period+1 bars of
// history, since the first true range needs a previous close.
func ATR(bars []types.Bar, period int) (avg decimal.Decimal, ok bool) {
	if period <= 0 || len(bars) < period+1 {
		return decimal.Zero, false
	}
	sum := decimal.Zero
	start := len(bars) - period
	for i := start; i < len(bars); i++ {
		high, low, prevClose := bars[i].High, bars[i].Low, bars[i-1].Close
		tr := high.Sub(low)
		if hc := high.Sub(prevClose).Abs(); hc.GreaterThan(tr) {
			tr = hc
		}
		if lc := low.Sub(prevClose).Abs(); lc.GreaterThan(tr) {
			tr = lc
		}
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}
