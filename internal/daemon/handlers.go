package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/creditwatch/internal/model"
)

// StatusResponse is the /api/status and /api/sync payload. Amounts are
// rounded to cents.
type StatusResponse struct {
	Balance        json.Number     `json:"balance"`
	TotalDeposited json.Number     `json:"total_deposited"`
	TotalSpend     json.Number     `json:"total_spend"`
	DailyUsage     json.Number     `json:"daily_usage"`
	MonthlyUsage   json.Number     `json:"monthly_usage"`
	History        []MonthResponse `json:"history"`
	Currency       string          `json:"currency"`
	Threshold      json.Number     `json:"threshold"`
	AlertState     string          `json:"alert_state"`
	LastAlertSent  int64           `json:"last_alert_sent"`
	ComputedAt     time.Time       `json:"computed_at"`
	Stale          bool            `json:"stale"`
	LastError      string          `json:"last_error,omitempty"`
}

// MonthResponse is one month of spend history.
type MonthResponse struct {
	Month  string      `json:"month"`
	Amount json.Number `json:"amount"`
}

// LedgerResponse is the /api/deposit payload.
type LedgerResponse struct {
	TotalDeposited  json.Number `json:"total_deposited"`
	HistoricalSpend json.Number `json:"historical_spend"`
	StartDate       int64       `json:"start_date"`
	LastAlertSent   int64       `json:"last_alert_sent"`
}

var errAmountRequired = errors.New("invalid request body: amount is required")

type amountRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

// NewStatusResponse renders a balance view for the API.
func NewStatusResponse(v model.BalanceView) StatusResponse {
	history := make([]MonthResponse, 0, len(v.History))
	for _, m := range v.History {
		history = append(history, MonthResponse{Month: m.Month, Amount: money(m.Amount)})
	}
	return StatusResponse{
		Balance:        money(v.Balance),
		TotalDeposited: money(v.TotalDeposited),
		TotalSpend:     money(v.TotalSpend),
		DailyUsage:     money(v.DailyUsage),
		MonthlyUsage:   money(v.MonthlyUsage),
		History:        history,
		Currency:       v.Currency,
		Threshold:      money(v.Threshold),
		AlertState:     v.AlertState,
		LastAlertSent:  unix(v.LastAlertSent),
		ComputedAt:     v.ComputedAt,
		Stale:          v.Stale,
		LastError:      v.LastError,
	}
}

func newLedgerResponse(l model.Ledger) LedgerResponse {
	return LedgerResponse{
		TotalDeposited:  money(l.TotalDeposited),
		HistoricalSpend: money(l.HistoricalSpend),
		StartDate:       unix(l.Checkpoint),
		LastAlertSent:   unix(l.LastAlertSent),
	}
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewStatusResponse(s.monitor.Status(r.Context())))
}

func (s *Service) handleDeposit(w http.ResponseWriter, r *http.Request) {
	amount, err := decodeAmount(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	l, err := s.monitor.AddDeposit(r.Context(), amount)
	if err != nil {
		writeError(w, ErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, newLedgerResponse(l))
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	amount, err := decodeAmount(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := s.monitor.SyncBalance(r.Context(), amount)
	if err != nil {
		writeError(w, ErrorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, NewStatusResponse(view))
}

func (s *Service) handleCheckNow(w http.ResponseWriter, _ *http.Request) {
	if err := s.TriggerCheck(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Check triggered"})
}

// TriggerCheck starts a check in the background. It returns
// ErrShuttingDown once the service has begun draining.
func (s *Service) TriggerCheck() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrShuttingDown
	}

	base := context.WithoutCancel(s.base)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.checkOnce(base)
	}()
	return nil
}

func (s *Service) handleDaemonStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotStatus())
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	// Send current snapshot immediately.
	current := Event{
		Type:      EventSnapshot,
		Timestamp: time.Now(),
		Snapshot:  s.snapshotStatus().Summary,
	}
	writeSSE(w, current)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func decodeAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, error) {
	var req amountRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&req); err != nil {
		return decimal.Zero, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Amount == nil {
		return decimal.Zero, errAmountRequired
	}
	return *req.Amount, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}
