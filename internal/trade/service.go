// Package trade provides the HTTP handlers and account management for the
// paper trading engine: executing buys and sells, applying quote batches,
// and serving portfolio, trade-history, and value-history queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/finsim/paper-engine/internal/ledger"
	"github.com/finsim/paper-engine/internal/metrics"
	"github.com/finsim/paper-engine/internal/model"
	"github.com/finsim/paper-engine/internal/store"
)

// persistTimeout bounds the background snapshot save.
const persistTimeout = 5 * time.Second

// TradePublisher publishes executed-trade events to an external feed.
// Pass nil when no feed is configured.
type TradePublisher interface {
	PublishTradeExecuted(ctx context.Context, accountID string, entry model.TradeEntry) error
}

// Service owns the resident account ledgers. A single mutex serializes
// mutations (single-instance run-to-completion semantics); persistence is a
// fire-and-forget side effect that never blocks or rolls back a mutation.
type Service struct {
	store       store.Store
	hub         *WSHub // optional WebSocket hub for real-time broadcasts
	publisher   TradePublisher
	defaultCash decimal.Decimal

	mu       sync.Mutex
	accounts map[string]*ledger.Ledger
}

// NewService creates a new trade service. Pass nil for hub and publisher if
// WebSocket broadcasting or trade events are not needed.
func NewService(st store.Store, defaultCash decimal.Decimal, hub *WSHub, publisher TradePublisher) *Service {
	return &Service{
		store:       st,
		hub:         hub,
		publisher:   publisher,
		defaultCash: defaultCash,
		accounts:    make(map[string]*ledger.Ledger),
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"` // display name, optional on sells
	Side      string          `json:"side"` // "BUY" or "SELL"
	Price     decimal.Decimal `json:"price"`
	Shares    decimal.Decimal `json:"shares"`
}

// TradeResponse is the JSON body returned from POST /trade.
type TradeResponse struct {
	Trade    model.TradeEntry `json:"trade"`
	Position *model.Position  `json:"position,omitempty"` // absent after a full sell
	Metrics  model.Metrics    `json:"metrics"`
}

// PricesRequest is the JSON body for POST /portfolio/{accountID}/prices.
// Day gain figures are optional external inputs carried forward as-is.
type PricesRequest struct {
	Updates    []model.PriceUpdate `json:"updates"`
	DayGain    *decimal.Decimal    `json:"day_gain,omitempty"`
	DayGainPct *decimal.Decimal    `json:"day_gain_pct,omitempty"`
}

// PricesResponse reports whether the batch moved anything.
type PricesResponse struct {
	Changed bool          `json:"changed"`
	Metrics model.Metrics `json:"metrics"`
}

// ResetRequest is the JSON body for POST /portfolio/{accountID}/reset.
// A zero or missing initial_cash resets to the configured default.
type ResetRequest struct {
	InitialCash decimal.Decimal `json:"initial_cash"`
}

// PortfolioResponse is the JSON body for GET /portfolio/{accountID}.
type PortfolioResponse struct {
	AccountID   string           `json:"account_id"`
	InitialCash decimal.Decimal  `json:"initial_cash"`
	Positions   []model.Position `json:"positions"`
	Metrics     model.Metrics    `json:"metrics"`
}

// --- HTTP Handlers ---

// ExecuteTrade handles POST /api/v1/trade.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	side := strings.ToUpper(req.Side)
	if side != model.TradeTypeBuy && side != model.TradeTypeSell {
		writeError(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}

	start := time.Now()

	// Serialize trade execution.
	s.mu.Lock()
	l, err := s.loadLocked(r.Context(), req.AccountID)
	if err != nil {
		s.mu.Unlock()
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	var entry model.TradeEntry
	if side == model.TradeTypeBuy {
		entry, err = l.Buy(req.Symbol, req.Name, req.Price, req.Shares)
	} else {
		entry, err = l.Sell(req.Symbol, req.Price, req.Shares)
	}
	if err != nil {
		s.mu.Unlock()
		writeLedgerError(w, err)
		return
	}

	resp := TradeResponse{Trade: entry, Metrics: l.Metrics()}
	if pos, ok := l.Position(req.Symbol); ok {
		resp.Position = &pos
	}
	s.persistLocked(req.AccountID, l)
	s.mu.Unlock()

	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"trade_id", entry.ID,
		"account", req.AccountID,
		"symbol", req.Symbol,
		"side", side,
		"shares", entry.Shares.String(),
		"price", entry.Price.String(),
		"total", entry.Total.String(),
		"cash", resp.Metrics.CashBalance.String(),
	)

	if s.publisher != nil {
		if err := s.publisher.PublishTradeExecuted(r.Context(), req.AccountID, entry); err != nil {
			slog.Warn("trade event publish failed", "trade_id", entry.ID, "err", err)
		}
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:        "trade_executed",
			AccountID:   req.AccountID,
			Symbol:      req.Symbol,
			Side:        side,
			Shares:      entry.Shares.String(),
			Price:       entry.Price.String(),
			TotalValue:  resp.Metrics.TotalValue.String(),
			CashBalance: resp.Metrics.CashBalance.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetPortfolio handles GET /api/v1/portfolio/{accountID}.
// Accounts are created on first access with the default starting cash.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	s.mu.Lock()
	l, err := s.loadLocked(r.Context(), accountID)
	if err != nil {
		s.mu.Unlock()
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	resp := PortfolioResponse{
		AccountID:   accountID,
		InitialCash: l.InitialCash(),
		Positions:   l.Positions(),
		Metrics:     l.Metrics(),
	}
	s.mu.Unlock()

	if resp.Positions == nil {
		resp.Positions = []model.Position{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetTradeHistory handles GET /api/v1/portfolio/{accountID}/trades.
func (s *Service) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	s.mu.Lock()
	l, err := s.loadLocked(r.Context(), accountID)
	if err != nil {
		s.mu.Unlock()
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	entries := l.Trades()
	s.mu.Unlock()

	if entries == nil {
		entries = []model.TradeEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetValueHistory handles GET /api/v1/portfolio/{accountID}/history.
func (s *Service) GetValueHistory(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	s.mu.Lock()
	l, err := s.loadLocked(r.Context(), accountID)
	if err != nil {
		s.mu.Unlock()
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	points := l.ValueHistory()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(points)
}

// UpdatePrices handles POST /api/v1/portfolio/{accountID}/prices.
// The caller builds the batch from its quote source; the ledger never
// fetches prices itself.
func (s *Service) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req PricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	l, err := s.loadLocked(r.Context(), accountID)
	if err != nil {
		s.mu.Unlock()
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	changed := l.ApplyPrices(req.Updates)
	if req.DayGain != nil || req.DayGainPct != nil {
		gain, pct := l.Metrics().DayGain, l.Metrics().DayGainPct
		if req.DayGain != nil {
			gain = *req.DayGain
		}
		if req.DayGainPct != nil {
			pct = *req.DayGainPct
		}
		l.SetDayGain(gain, pct)
		changed = true
	}
	resp := PricesResponse{Changed: changed, Metrics: l.Metrics()}
	if changed {
		s.persistLocked(accountID, l)
	}
	s.mu.Unlock()

	if changed {
		metrics.QuoteUpdatesApplied.Inc()
		s.broadcastValuation(accountID, resp.Metrics)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ResetAccount handles POST /api/v1/portfolio/{accountID}/reset.
// Everything is discarded; the account restarts with fresh cash and a single
// value-history point.
func (s *Service) ResetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	initialCash := req.InitialCash
	if !initialCash.IsPositive() {
		initialCash = s.defaultCash
	}

	s.mu.Lock()
	l, err := s.loadLocked(r.Context(), accountID)
	if err != nil {
		s.mu.Unlock()
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	l.Reset(initialCash)
	resp := PortfolioResponse{
		AccountID:   accountID,
		InitialCash: initialCash,
		Positions:   []model.Position{},
		Metrics:     l.Metrics(),
	}
	s.persistLocked(accountID, l)
	s.mu.Unlock()

	slog.Info("account reset", "account", accountID, "initial_cash", initialCash.String())
	s.broadcastValuation(accountID, resp.Metrics)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ApplyQuotes applies a quote batch to every resident account. Used by the
// Kafka quote feed. Returns the number of accounts whose valuation changed.
func (s *Service) ApplyQuotes(_ context.Context, updates []model.PriceUpdate) int {
	type changedAccount struct {
		id string
		m  model.Metrics
	}
	var changed []changedAccount

	s.mu.Lock()
	for id, l := range s.accounts {
		if l.ApplyPrices(updates) {
			changed = append(changed, changedAccount{id: id, m: l.Metrics()})
			s.persistLocked(id, l)
		}
	}
	s.mu.Unlock()

	for _, c := range changed {
		metrics.QuoteUpdatesApplied.Inc()
		s.broadcastValuation(c.id, c.m)
	}
	return len(changed)
}

// --- Internals ---

// loadLocked returns the resident ledger for an account, loading it from the
// store or creating it with the default starting cash. Caller holds s.mu.
// Loading is idempotent: a missing snapshot creates and persists an empty
// ledger.
func (s *Service) loadLocked(ctx context.Context, accountID string) (*ledger.Ledger, error) {
	if l, ok := s.accounts[accountID]; ok {
		return l, nil
	}

	snap, err := s.store.LoadSnapshot(ctx, accountID)
	var l *ledger.Ledger
	switch {
	case err == nil:
		l = ledger.FromSnapshot(snap)
	case errors.Is(err, store.ErrNotFound):
		l = ledger.New(s.defaultCash)
		s.persistLocked(accountID, l)
		slog.Info("account created", "account", accountID, "initial_cash", s.defaultCash.String())
	default:
		return nil, err
	}

	s.accounts[accountID] = l
	metrics.ActiveAccounts.Set(float64(len(s.accounts)))
	return l, nil
}

// persistLocked snapshots the ledger and saves it in the background.
// Failures are surfaced as warnings; the in-memory state stays
// authoritative. Caller holds s.mu.
func (s *Service) persistLocked(accountID string, l *ledger.Ledger) {
	snap := l.Snapshot()
	snap.AccountID = accountID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.store.SaveSnapshot(ctx, accountID, snap); err != nil {
			metrics.PersistenceFailures.Inc()
			slog.Warn("snapshot save failed", "account", accountID, "err", err)
		}
	}()
}

func (s *Service) broadcastValuation(accountID string, m model.Metrics) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(WSMessage{
		Type:        "valuation_updated",
		AccountID:   accountID,
		TotalValue:  m.TotalValue.String(),
		CashBalance: m.CashBalance.String(),
	})
}

// writeLedgerError maps ledger precondition failures onto HTTP statuses.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidOrder):
		metrics.TradeRejections.WithLabelValues("invalid_order").Inc()
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrInsufficientShares):
		metrics.TradeRejections.WithLabelValues("insufficient_shares").Inc()
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrPositionNotFound):
		metrics.TradeRejections.WithLabelValues("position_not_found").Inc()
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		writeError(w, "trade failed", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
