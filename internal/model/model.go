// Package model defines the core domain types shared across the paper
// trading engine. All monetary values use shopspring/decimal — never
// float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade entry types.
const (
	TradeTypeBuy  = "BUY"
	TradeTypeSell = "SELL"
)

// Position is one open holding: a held quantity of one symbol with its
// weighted-average cost basis and current valuation. A position with zero
// shares is removed from the account, never retained as a zero entry.
type Position struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Shares       decimal.Decimal `json:"shares"`
	AvgCost      decimal.Decimal `json:"avg_cost"`      // weighted mean purchase price
	CurrentPrice decimal.Decimal `json:"current_price"` // last known quote
	MarketValue  decimal.Decimal `json:"market_value"`  // shares × currentPrice
	Gain         decimal.Decimal `json:"gain"`          // (currentPrice − avgCost) × shares
	GainPct      decimal.Decimal `json:"gain_pct"`      // (currentPrice/avgCost − 1) × 100
}

// Metrics is the derived account snapshot. TotalValue equals cash plus the
// sum of all position market values at every observation point. Day gain
// figures are carried forward from external inputs, never recomputed from
// price history.
type Metrics struct {
	TotalValue  decimal.Decimal `json:"total_value"`
	CashBalance decimal.Decimal `json:"cash_balance"`
	TotalGain   decimal.Decimal `json:"total_gain"` // totalValue − initialCash
	DayGain     decimal.Decimal `json:"day_gain"`
	DayGainPct  decimal.Decimal `json:"day_gain_pct"`
}

// TradeEntry is an immutable record of a single executed buy or sell.
// Once created, these are never modified or deleted.
type TradeEntry struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"` // "BUY" or "SELL"
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Shares    decimal.Decimal `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"` // shares × price
	Timestamp time.Time       `json:"timestamp"`
}

// ValuePoint is one point of the sparse total-value time series, appended
// only when total value changes from the previously recorded point.
type ValuePoint struct {
	Timestamp  time.Time       `json:"timestamp"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// PriceUpdate carries one fresh quote for batch application to an account.
type PriceUpdate struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Snapshot is the persistence unit for one account: everything needed to
// restore its ledger.
type Snapshot struct {
	AccountID    string          `json:"account_id"`
	InitialCash  decimal.Decimal `json:"initial_cash"`
	Positions    []Position      `json:"positions"`
	Metrics      Metrics         `json:"metrics"`
	TradeHistory []TradeEntry    `json:"trade_history"`
	ValueHistory []ValuePoint    `json:"value_history"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so stored snapshots cannot be mutated through
// shared slices.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Positions = append([]Position(nil), s.Positions...)
	out.TradeHistory = append([]TradeEntry(nil), s.TradeHistory...)
	out.ValueHistory = append([]ValuePoint(nil), s.ValueHistory...)
	return &out
}
