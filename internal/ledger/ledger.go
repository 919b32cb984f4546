// Package ledger implements the in-memory state of one simulated brokerage
// account: cash balance, open positions, append-only trade history, and a
// de-duplicated time series of total portfolio value.
//
// A Ledger is not safe for concurrent use; callers serialize mutations.
// Persistence is a side effect layered on top via Snapshot/FromSnapshot —
// the in-memory state is always authoritative.
package ledger

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finsim/paper-engine/internal/model"
)

var (
	// ErrInvalidOrder is returned when price or shares are not positive.
	ErrInvalidOrder = errors.New("ledger: price and shares must be positive")

	// ErrInsufficientFunds is returned when a buy's cost exceeds cash.
	ErrInsufficientFunds = errors.New("ledger: insufficient cash for buy")

	// ErrPositionNotFound is returned when a sell targets a symbol with no
	// open position.
	ErrPositionNotFound = errors.New("ledger: no open position for symbol")

	// ErrInsufficientShares is returned when a sell exceeds the held shares.
	ErrInsufficientShares = errors.New("ledger: insufficient shares for sell")
)

// Ledger owns one account's state. Every mutation either completes fully or
// rejects before touching any state; there are no partial fills.
type Ledger struct {
	initialCash decimal.Decimal
	cash        decimal.Decimal
	positions   map[string]*model.Position
	trades      []model.TradeEntry
	history     []model.ValuePoint

	// Carried forward from external inputs, never derived here.
	dayGain    decimal.Decimal
	dayGainPct decimal.Decimal

	now func() time.Time
}

// New creates an empty ledger with the given starting cash and a single
// initial value-history point.
func New(initialCash decimal.Decimal) *Ledger {
	l := &Ledger{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*model.Position),
		now:         time.Now,
	}
	l.recordValue()
	return l
}

// FromSnapshot restores a ledger from a persisted snapshot. Derived position
// fields and metrics are recomputed so the total-value invariant holds even
// if the snapshot was written by an older build.
func FromSnapshot(snap *model.Snapshot) *Ledger {
	l := &Ledger{
		initialCash: snap.InitialCash,
		cash:        snap.Metrics.CashBalance,
		positions:   make(map[string]*model.Position, len(snap.Positions)),
		trades:      append([]model.TradeEntry(nil), snap.TradeHistory...),
		history:     append([]model.ValuePoint(nil), snap.ValueHistory...),
		dayGain:     snap.Metrics.DayGain,
		dayGainPct:  snap.Metrics.DayGainPct,
		now:         time.Now,
	}
	for _, p := range snap.Positions {
		if !p.Shares.IsPositive() {
			continue
		}
		pos := p
		revalue(&pos)
		l.positions[pos.Symbol] = &pos
	}
	return l
}

// Buy executes a purchase of shares at price. An existing position is merged
// using the weighted-average cost convention; otherwise a new position is
// created with avgCost = price. The trade price becomes the position's
// current price.
func (l *Ledger) Buy(symbol, name string, price, shares decimal.Decimal) (model.TradeEntry, error) {
	if !price.IsPositive() || !shares.IsPositive() {
		return model.TradeEntry{}, ErrInvalidOrder
	}
	cost := price.Mul(shares)
	if cost.GreaterThan(l.cash) {
		return model.TradeEntry{}, ErrInsufficientFunds
	}

	pos := l.positions[symbol]
	if pos == nil {
		pos = &model.Position{Symbol: symbol, Name: name, AvgCost: price}
		l.positions[symbol] = pos
	} else {
		pos.AvgCost = weightedAvgCost(pos.Shares, pos.AvgCost, shares, price)
		if name != "" {
			pos.Name = name
		}
	}
	pos.Shares = pos.Shares.Add(shares)
	pos.CurrentPrice = price
	revalue(pos)

	l.cash = l.cash.Sub(cost)
	entry := l.appendTrade(model.TradeTypeBuy, symbol, pos.Name, shares, price, cost)
	l.recordValue()
	return entry, nil
}

// Sell executes a sale of shares at price. Selling the full position removes
// it; a partial sell reduces shares and leaves the average cost unchanged.
func (l *Ledger) Sell(symbol string, price, shares decimal.Decimal) (model.TradeEntry, error) {
	if !price.IsPositive() || !shares.IsPositive() {
		return model.TradeEntry{}, ErrInvalidOrder
	}
	pos := l.positions[symbol]
	if pos == nil {
		return model.TradeEntry{}, ErrPositionNotFound
	}
	if shares.GreaterThan(pos.Shares) {
		return model.TradeEntry{}, ErrInsufficientShares
	}

	proceeds := price.Mul(shares)
	name := pos.Name

	pos.Shares = pos.Shares.Sub(shares)
	if pos.Shares.IsZero() {
		delete(l.positions, symbol)
	} else {
		pos.CurrentPrice = price
		revalue(pos)
	}

	l.cash = l.cash.Add(proceeds)
	entry := l.appendTrade(model.TradeTypeSell, symbol, name, shares, price, proceeds)
	l.recordValue()
	return entry, nil
}

// ApplyPrices refreshes current prices for positions named in the update
// batch. Symbols without an open position, non-positive quotes, and quotes
// equal to the stored price are ignored. Returns true when any position
// changed; a value point is appended only when total value moved.
func (l *Ledger) ApplyPrices(updates []model.PriceUpdate) bool {
	changed := false
	for _, u := range updates {
		pos := l.positions[u.Symbol]
		if pos == nil || !u.Price.IsPositive() || pos.CurrentPrice.Equal(u.Price) {
			continue
		}
		pos.CurrentPrice = u.Price
		revalue(pos)
		changed = true
	}
	if changed {
		l.recordValue()
	}
	return changed
}

// SetDayGain records externally supplied day gain figures. They are carried
// forward through snapshots as-is.
func (l *Ledger) SetDayGain(gain, pct decimal.Decimal) {
	l.dayGain = gain
	l.dayGainPct = pct
}

// Reset discards all positions and history and recreates the account with
// fresh starting cash and a single value-history point.
func (l *Ledger) Reset(initialCash decimal.Decimal) {
	l.initialCash = initialCash
	l.cash = initialCash
	l.positions = make(map[string]*model.Position)
	l.trades = nil
	l.history = nil
	l.dayGain = decimal.Zero
	l.dayGainPct = decimal.Zero
	l.recordValue()
}

// Metrics returns the derived account metrics.
func (l *Ledger) Metrics() model.Metrics {
	total := l.totalValue()
	return model.Metrics{
		TotalValue:  total,
		CashBalance: l.cash,
		TotalGain:   total.Sub(l.initialCash),
		DayGain:     l.dayGain,
		DayGainPct:  l.dayGainPct,
	}
}

// Positions returns the open positions sorted by symbol.
func (l *Ledger) Positions() []model.Position {
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns one open position by symbol.
func (l *Ledger) Position(symbol string) (model.Position, bool) {
	if p := l.positions[symbol]; p != nil {
		return *p, true
	}
	return model.Position{}, false
}

// Trades returns the append-only trade history, oldest first.
func (l *Ledger) Trades() []model.TradeEntry {
	return append([]model.TradeEntry(nil), l.trades...)
}

// ValueHistory returns the recorded total-value points, oldest first.
func (l *Ledger) ValueHistory() []model.ValuePoint {
	return append([]model.ValuePoint(nil), l.history...)
}

// InitialCash returns the starting cash the account was created or last
// reset with.
func (l *Ledger) InitialCash() decimal.Decimal {
	return l.initialCash
}

// Snapshot captures the full account state for persistence. The caller owns
// the returned value; later mutations do not affect it.
func (l *Ledger) Snapshot() *model.Snapshot {
	return &model.Snapshot{
		InitialCash:  l.initialCash,
		Positions:    l.Positions(),
		Metrics:      l.Metrics(),
		TradeHistory: l.Trades(),
		ValueHistory: l.ValueHistory(),
		UpdatedAt:    l.now().UTC(),
	}
}

func (l *Ledger) appendTrade(tradeType, symbol, name string, shares, price, total decimal.Decimal) model.TradeEntry {
	entry := model.TradeEntry{
		ID:        uuid.New().String(),
		Type:      tradeType,
		Symbol:    symbol,
		Name:      name,
		Shares:    shares,
		Price:     price,
		Total:     total,
		Timestamp: l.now().UTC(),
	}
	l.trades = append(l.trades, entry)
	return entry
}

func (l *Ledger) totalValue() decimal.Decimal {
	total := l.cash
	for _, p := range l.positions {
		total = total.Add(p.MarketValue)
	}
	return total
}

func (l *Ledger) recordValue() {
	l.history = appendValuePoint(l.history, l.now().UTC(), l.totalValue())
}

// weightedAvgCost merges a new lot into an existing position's cost basis:
// (oldShares×oldAvg + shares×price) / (oldShares+shares).
func weightedAvgCost(oldShares, oldAvg, shares, price decimal.Decimal) decimal.Decimal {
	newShares := oldShares.Add(shares)
	return oldShares.Mul(oldAvg).Add(shares.Mul(price)).Div(newShares)
}

// appendValuePoint appends (t, total) unless total equals the previously
// recorded point.
func appendValuePoint(history []model.ValuePoint, t time.Time, total decimal.Decimal) []model.ValuePoint {
	if n := len(history); n > 0 && history[n-1].TotalValue.Equal(total) {
		return history
	}
	return append(history, model.ValuePoint{Timestamp: t, TotalValue: total})
}

// revalue recomputes the derived fields from shares, avgCost and
// currentPrice. Gain percent is zero when avgCost is zero.
func revalue(p *model.Position) {
	p.MarketValue = p.Shares.Mul(p.CurrentPrice)
	p.Gain = p.CurrentPrice.Sub(p.AvgCost).Mul(p.Shares)
	if p.AvgCost.IsZero() {
		p.GainPct = decimal.Zero
		return
	}
	hundred := decimal.NewFromInt(100)
	p.GainPct = p.CurrentPrice.Div(p.AvgCost).Sub(decimal.NewFromInt(1)).Mul(hundred)
}
