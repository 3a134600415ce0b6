package analysis

import (
	"time"

	"github.com/shopspring/decimal"

	"breakout-failures/internal/fetcher"
)

// Level locations reported on detected failures.
const (
	LocationZoneHigh = "VRZ High"
	LocationZoneLow  = "VRZ Low"
)

// Params tune breakout failure detection.
type Params struct {
	// K scales ATR when projecting volatility zone levels off local extrema.
	K decimal.Decimal
	// Window is the number of bars on each side that must not exceed a bar
	// for it to count as a local extremum.
	Window int
	// ATRPeriod is the true-range rolling mean length.
	ATRPeriod int
	// Lookahead bounds how many bars after a breakout a reversal still
	// counts as a failure.
	Lookahead int
}

// DefaultParams mirror the production scanner settings.
func DefaultParams() Params {
	return Params{
		K:         decimal.NewFromFloat(1.5),
		Window:    5,
		ATRPeriod: 14,
		Lookahead: 10,
	}
}

// Failure is one detected breakout failure: price broke a volatility zone
// level and closed back across it within the lookahead window.
type Failure struct {
	Company        string
	Ticker         string
	Location       string
	BreakTime      time.Time
	FailureTime    time.Time
	CloseAtFailure decimal.Decimal
}

// ComputeATR returns the rolling-mean average true range per bar. The first
// bar's true range is its high-low span; later bars also consider gaps from
// the previous close. The mean warms up from a single sample, so every bar
// has a value.
func ComputeATR(candles []fetcher.Candle, period int) []decimal.Decimal {
	if period < 1 {
		period = 1
	}

	trueRanges := make([]decimal.Decimal, len(candles))
	for i, candle := range candles {
		tr := candle.High.Sub(candle.Low)
		if i > 0 {
			prevClose := candles[i-1].Close
			if gapHigh := candle.High.Sub(prevClose).Abs(); gapHigh.GreaterThan(tr) {
				tr = gapHigh
			}
			if gapLow := candle.Low.Sub(prevClose).Abs(); gapLow.GreaterThan(tr) {
				tr = gapLow
			}
		}
		trueRanges[i] = tr
	}

	atr := make([]decimal.Decimal, len(candles))
	var sum decimal.Decimal
	for i, tr := range trueRanges {
		sum = sum.Add(tr)
		if i >= period {
			sum = sum.Sub(trueRanges[i-period])
		}
		window := i + 1
		if window > period {
			window = period
		}
		atr[i] = sum.Div(decimal.NewFromInt(int64(window)))
	}
	return atr
}

// LocalMaxima returns indices of bars whose value is not exceeded anywhere
// within +/-window bars. Only interior bars with a full neighborhood qualify.
func LocalMaxima(values []decimal.Decimal, window int) []int {
	return localExtrema(values, window, func(neighbor, current decimal.Decimal) bool {
		return neighbor.LessThanOrEqual(current)
	})
}

// LocalMinima is the mirror of LocalMaxima.
func LocalMinima(values []decimal.Decimal, window int) []int {
	return localExtrema(values, window, func(neighbor, current decimal.Decimal) bool {
		return neighbor.GreaterThanOrEqual(current)
	})
}

func localExtrema(values []decimal.Decimal, window int, dominates func(neighbor, current decimal.Decimal) bool) []int {
	var indices []int
	if window < 1 {
		return indices
	}
	for i := window; i < len(values)-window; i++ {
		qualifies := true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if !dominates(values[j], values[i]) {
				qualifies = false
				break
			}
		}
		if qualifies {
			indices = append(indices, i)
		}
	}
	return indices
}

// DetectFailures runs the full pipeline over one symbol's candles: ATR,
// local extrema, volatility zone levels (extremum +/- k*ATR, forward filled),
// then a scan for closes that cross a level and revert within the lookahead.
func DetectFailures(ticker, company string, candles []fetcher.Candle, params Params) []Failure {
	if len(candles) == 0 {
		return nil
	}
	if params.Lookahead < 1 {
		params.Lookahead = DefaultParams().Lookahead
	}
	if params.K.IsZero() {
		params.K = DefaultParams().K
	}

	atr := ComputeATR(candles, params.ATRPeriod)

	highs := make([]decimal.Decimal, len(candles))
	lows := make([]decimal.Decimal, len(candles))
	for i, candle := range candles {
		highs[i] = candle.High
		lows[i] = candle.Low
	}

	zoneHigh := make([]*decimal.Decimal, len(candles))
	zoneLow := make([]*decimal.Decimal, len(candles))
	for _, i := range LocalMaxima(highs, params.Window) {
		level := highs[i].Add(params.K.Mul(atr[i]))
		zoneHigh[i] = &level
	}
	for _, i := range LocalMinima(lows, params.Window) {
		level := lows[i].Sub(params.K.Mul(atr[i]))
		zoneLow[i] = &level
	}
	forwardFill(zoneHigh)
	forwardFill(zoneLow)

	var failures []Failure

	above := func(close decimal.Decimal, level *decimal.Decimal) bool {
		return level != nil && close.GreaterThan(*level)
	}
	below := func(close decimal.Decimal, level *decimal.Decimal) bool {
		return level != nil && close.LessThan(*level)
	}

	failures = append(failures, scanLevel(ticker, company, candles, zoneHigh, params.Lookahead, LocationZoneHigh, above, below)...)
	failures = append(failures, scanLevel(ticker, company, candles, zoneLow, params.Lookahead, LocationZoneLow, below, above)...)

	return failures
}

// scanLevel finds bars that break a filled level and revert within the
// lookahead. The level captured at the breakout bar is the one the reversal
// is judged against.
func scanLevel(
	ticker, company string,
	candles []fetcher.Candle,
	levels []*decimal.Decimal,
	lookahead int,
	location string,
	breaks func(decimal.Decimal, *decimal.Decimal) bool,
	reverts func(decimal.Decimal, *decimal.Decimal) bool,
) []Failure {
	var failures []Failure
	for i := range candles {
		if !breaks(candles[i].Close, levels[i]) {
			continue
		}
		level := levels[i]
		end := i + lookahead
		if end >= len(candles) {
			end = len(candles) - 1
		}
		for j := i + 1; j <= end; j++ {
			if reverts(candles[j].Close, level) {
				failures = append(failures, Failure{
					Company:        company,
					Ticker:         ticker,
					Location:       location,
					BreakTime:      candles[i].Start,
					FailureTime:    candles[j].Start,
					CloseAtFailure: candles[j].Close,
				})
				break
			}
		}
	}
	return failures
}

func forwardFill(levels []*decimal.Decimal) {
	var last *decimal.Decimal
	for i := range levels {
		if levels[i] != nil {
			last = levels[i]
			continue
		}
		levels[i] = last
	}
}
