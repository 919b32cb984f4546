package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsim/paper-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// requireDecEq compares decimals by value, not representation.
func requireDecEq(t *testing.T, want, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.True(t, want.Equal(got), "expected %s, got %s %v", want, got, msgAndArgs)
}

// checkInvariant verifies cash + Σ(shares × currentPrice) == totalValue.
func checkInvariant(t *testing.T, l *Ledger) {
	t.Helper()
	m := l.Metrics()
	sum := m.CashBalance
	for _, p := range l.Positions() {
		sum = sum.Add(p.Shares.Mul(p.CurrentPrice))
	}
	require.True(t, sum.Equal(m.TotalValue),
		"invariant violated: cash+positions=%s totalValue=%s", sum, m.TotalValue)
}

func newTestLedger(initialCash float64) *Ledger {
	l := New(d(initialCash))
	// Strictly increasing clock for history assertions.
	base := time.Now().UTC()
	n := 0
	l.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return l
}

func TestBuyCreatesPosition(t *testing.T) {
	l := newTestLedger(10000)

	entry, err := l.Buy("AAPL", "Apple", d(150), d(10))
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, model.TradeTypeBuy, entry.Type)
	requireDecEq(t, d(1500), entry.Total)

	pos, ok := l.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, "Apple", pos.Name)
	requireDecEq(t, d(10), pos.Shares)
	requireDecEq(t, d(150), pos.AvgCost)
	requireDecEq(t, d(150), pos.CurrentPrice)
	requireDecEq(t, d(1500), pos.MarketValue)

	m := l.Metrics()
	requireDecEq(t, d(8500), m.CashBalance)
	requireDecEq(t, d(10000), m.TotalValue)
	checkInvariant(t, l)
}

func TestBuyMergesWeightedAverage(t *testing.T) {
	l := newTestLedger(10000)

	_, err := l.Buy("AAPL", "Apple", d(150), d(10))
	require.NoError(t, err)
	_, err = l.Buy("AAPL", "Apple", d(170), d(10))
	require.NoError(t, err)

	pos, ok := l.Position("AAPL")
	require.True(t, ok)
	requireDecEq(t, d(20), pos.Shares)
	// (10×150 + 10×170) / 20 = 160
	requireDecEq(t, d(160), pos.AvgCost)
	// Current price follows the latest trade.
	requireDecEq(t, d(170), pos.CurrentPrice)
	requireDecEq(t, d(3400), pos.MarketValue)

	requireDecEq(t, d(6800), l.Metrics().CashBalance)
	checkInvariant(t, l)
}

func TestBuyInsufficientFundsRejectedWithoutMutation(t *testing.T) {
	l := newTestLedger(100)

	_, err := l.Buy("AAPL", "Apple", d(50), d(5)) // cost 250 > cash 100
	require.ErrorIs(t, err, ErrInsufficientFunds)

	requireDecEq(t, d(100), l.Metrics().CashBalance)
	assert.Empty(t, l.Positions())
	assert.Empty(t, l.Trades())
	assert.Len(t, l.ValueHistory(), 1)
}

func TestBuyInvalidOrder(t *testing.T) {
	l := newTestLedger(10000)

	_, err := l.Buy("AAPL", "Apple", decimal.Zero, d(10))
	require.ErrorIs(t, err, ErrInvalidOrder)
	_, err = l.Buy("AAPL", "Apple", d(150), d(-1))
	require.ErrorIs(t, err, ErrInvalidOrder)
	assert.Empty(t, l.Trades())
}

func TestPartialSellKeepsAvgCost(t *testing.T) {
	l := newTestLedger(10000)
	_, err := l.Buy("AAPL", "Apple", d(150), d(10))
	require.NoError(t, err)
	_, err = l.Buy("AAPL", "Apple", d(170), d(10))
	require.NoError(t, err)

	cashBefore := l.Metrics().CashBalance
	entry, err := l.Sell("AAPL", d(170), d(15))
	require.NoError(t, err)
	assert.Equal(t, model.TradeTypeSell, entry.Type)
	requireDecEq(t, d(2550), entry.Total)

	pos, ok := l.Position("AAPL")
	require.True(t, ok)
	requireDecEq(t, d(5), pos.Shares)
	// Sells never adjust the average cost basis.
	requireDecEq(t, d(160), pos.AvgCost)
	requireDecEq(t, cashBefore.Add(d(2550)), l.Metrics().CashBalance)
	checkInvariant(t, l)
}

func TestFullSellRemovesPositionAndRestoresCash(t *testing.T) {
	l := newTestLedger(10000)
	_, err := l.Buy("AAPL", "Apple", d(150), d(10))
	require.NoError(t, err)
	_, err = l.Sell("AAPL", d(150), d(10))
	require.NoError(t, err)

	_, ok := l.Position("AAPL")
	assert.False(t, ok, "position must be removed, not kept at zero shares")
	requireDecEq(t, d(10000), l.Metrics().CashBalance)
	requireDecEq(t, d(10000), l.Metrics().TotalValue)
	assert.Len(t, l.Trades(), 2)
	checkInvariant(t, l)
}

func TestSellErrors(t *testing.T) {
	l := newTestLedger(10000)

	_, err := l.Sell("AAPL", d(150), d(5))
	require.ErrorIs(t, err, ErrPositionNotFound)

	_, err = l.Buy("AAPL", "Apple", d(150), d(5))
	require.NoError(t, err)

	_, err = l.Sell("AAPL", d(150), d(6))
	require.ErrorIs(t, err, ErrInsufficientShares)

	_, err = l.Sell("AAPL", decimal.Zero, d(1))
	require.ErrorIs(t, err, ErrInvalidOrder)

	// Failed sells leave no trace in the history.
	assert.Len(t, l.Trades(), 1)
	pos, _ := l.Position("AAPL")
	requireDecEq(t, d(5), pos.Shares)
}

func TestApplyPricesRecomputesDerivedValues(t *testing.T) {
	l := newTestLedger(10000)
	_, err := l.Buy("AAPL", "Apple", d(150), d(10))
	require.NoError(t, err)

	changed := l.ApplyPrices([]model.PriceUpdate{
		{Symbol: "AAPL", Price: d(165)},
		{Symbol: "MSFT", Price: d(400)}, // no position, ignored
		{Symbol: "TSLA", Price: d(-1)},  // non-positive, ignored
	})
	require.True(t, changed)

	pos, _ := l.Position("AAPL")
	requireDecEq(t, d(165), pos.CurrentPrice)
	requireDecEq(t, d(1650), pos.MarketValue)
	requireDecEq(t, d(150), pos.Gain) // (165−150)×10
	requireDecEq(t, d(10), pos.GainPct)
	checkInvariant(t, l)
}

func TestApplyPricesIdempotent(t *testing.T) {
	l := newTestLedger(10000)
	_, err := l.Buy("AAPL", "Apple", d(150), d(10))
	require.NoError(t, err)

	updates := []model.PriceUpdate{{Symbol: "AAPL", Price: d(160)}}
	require.True(t, l.ApplyPrices(updates))
	points := len(l.ValueHistory())

	// Same prices again: no mutation, no extra history point.
	require.False(t, l.ApplyPrices(updates))
	assert.Len(t, l.ValueHistory(), points)
}

func TestValueHistoryDeduplicated(t *testing.T) {
	l := newTestLedger(10000)

	// A buy moves cash into equity at the trade price; total value is
	// unchanged, so no new point is recorded.
	_, err := l.Buy("AAPL", "Apple", d(150), d(10))
	require.NoError(t, err)
	require.Len(t, l.ValueHistory(), 1)

	// A price move changes total value and records a point.
	require.True(t, l.ApplyPrices([]model.PriceUpdate{{Symbol: "AAPL", Price: d(155)}}))
	history := l.ValueHistory()
	require.Len(t, history, 2)
	requireDecEq(t, d(10050), history[1].TotalValue)
	assert.True(t, history[1].Timestamp.After(history[0].Timestamp))
}

func TestGainPctZeroWhenAvgCostZero(t *testing.T) {
	p := model.Position{Shares: d(10), AvgCost: decimal.Zero, CurrentPrice: d(5)}
	revalue(&p)
	requireDecEq(t, decimal.Zero, p.GainPct)
	requireDecEq(t, d(50), p.MarketValue)
}

func TestReset(t *testing.T) {
	l := newTestLedger(10000)
	_, err := l.Buy("AAPL", "Apple", d(150), d(10))
	require.NoError(t, err)
	l.SetDayGain(d(12), d(0.3))
	require.True(t, l.ApplyPrices([]model.PriceUpdate{{Symbol: "AAPL", Price: d(160)}}))

	l.Reset(d(5000))

	assert.Empty(t, l.Positions())
	assert.Empty(t, l.Trades())
	m := l.Metrics()
	requireDecEq(t, d(5000), m.CashBalance)
	requireDecEq(t, d(5000), m.TotalValue)
	requireDecEq(t, decimal.Zero, m.TotalGain)
	requireDecEq(t, decimal.Zero, m.DayGain)

	history := l.ValueHistory()
	require.Len(t, history, 1)
	requireDecEq(t, d(5000), history[0].TotalValue)
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := newTestLedger(10000)
	_, err := l.Buy("AAPL", "Apple", d(150), d(10))
	require.NoError(t, err)
	_, err = l.Buy("MSFT", "Microsoft", d(400), d(5))
	require.NoError(t, err)
	_, err = l.Sell("AAPL", d(160), d(4))
	require.NoError(t, err)
	l.SetDayGain(d(25), d(0.5))

	restored := FromSnapshot(l.Snapshot())

	wantM, gotM := l.Metrics(), restored.Metrics()
	requireDecEq(t, wantM.TotalValue, gotM.TotalValue)
	requireDecEq(t, wantM.CashBalance, gotM.CashBalance)
	requireDecEq(t, wantM.TotalGain, gotM.TotalGain)
	requireDecEq(t, wantM.DayGain, gotM.DayGain)
	requireDecEq(t, wantM.DayGainPct, gotM.DayGainPct)

	assert.Equal(t, l.Positions(), restored.Positions())
	assert.Len(t, restored.Trades(), 3)
	assert.Equal(t, len(l.ValueHistory()), len(restored.ValueHistory()))
	checkInvariant(t, restored)
}

func TestInvariantHoldsAcrossMixedSequence(t *testing.T) {
	l := newTestLedger(25000)

	steps := []func() error{
		func() error { _, err := l.Buy("AAPL", "Apple", d(150), d(20)); return err },
		func() error { _, err := l.Buy("MSFT", "Microsoft", d(390.25), d(8)); return err },
		func() error {
			l.ApplyPrices([]model.PriceUpdate{{Symbol: "AAPL", Price: d(161.5)}})
			return nil
		},
		func() error { _, err := l.Sell("AAPL", d(161.5), d(7)); return err },
		func() error { _, err := l.Buy("NVDA", "NVIDIA", d(118.75), d(30)); return err },
		func() error {
			l.ApplyPrices([]model.PriceUpdate{
				{Symbol: "MSFT", Price: d(385)},
				{Symbol: "NVDA", Price: d(124.4)},
			})
			return nil
		},
		func() error { _, err := l.Sell("MSFT", d(385), d(8)); return err },
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		checkInvariant(t, l)
	}
}

func TestWeightedAvgCost(t *testing.T) {
	tests := []struct {
		name                string
		oldShares, oldAvg   float64
		shares, price, want float64
	}{
		{"equal lots", 10, 150, 10, 170, 160},
		{"small add", 20, 100, 5, 120, 104},
		{"fractional", 0.5, 80, 1.5, 100, 95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := weightedAvgCost(d(tt.oldShares), d(tt.oldAvg), d(tt.shares), d(tt.price))
			requireDecEq(t, d(tt.want), got)
		})
	}
}

func TestAppendValuePoint(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	h := appendValuePoint(nil, t0, d(1000))
	require.Len(t, h, 1)

	// Unchanged value: no new point.
	h = appendValuePoint(h, t0.Add(time.Minute), d(1000))
	require.Len(t, h, 1)

	h = appendValuePoint(h, t0.Add(2*time.Minute), d(1001))
	require.Len(t, h, 2)
	requireDecEq(t, d(1001), h[1].TotalValue)
}
