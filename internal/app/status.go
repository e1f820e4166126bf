package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type LedgerEntry struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Amount    float64   `json:"amount"`
	Count     int       `json:"count"`
	Origin    time.Time `json:"origin"`
}

type PendingStatus struct {
	ID           string    `json:"id"`
	Overlay      string    `json:"overlay"`
	State        string    `json:"state"`
	Confirmed    bool      `json:"confirmed"`
	TriggerAbove float64   `json:"trigger_above,omitempty"`
	TriggerBelow float64   `json:"trigger_below,omitempty"`
	CancelAbove  float64   `json:"cancel_above,omitempty"`
	CancelBelow  float64   `json:"cancel_below,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type TakeProfitStatus struct {
	OrderID string  `json:"order_id"`
	Overlay string  `json:"overlay"`
	Amount  float64 `json:"amount"`
	Price   float64 `json:"price"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	Exchange     string             `json:"exchange"`
	Symbol       string             `json:"symbol"`
	Paused       bool               `json:"paused"`
	StartedAt    time.Time          `json:"started_at"`
	LastTick     time.Time          `json:"last_tick"`
	LastClose    float64            `json:"last_close"`
	LastTickErr  string             `json:"last_tick_error,omitempty"`
	Ledger       []LedgerEntry      `json:"ledger"`
	Pending      []PendingStatus    `json:"pending"`
	TakeProfits  []TakeProfitStatus `json:"pending_take_profits"`
	Sizes        map[string]float64 `json:"sizes"`
	DroppedStats uint64             `json:"timescale_dropped,omitempty"`
}

func (a *App) Status() Status {
	a.opsMu.RLock()
	st := Status{
		StartedAt:   a.startedAt,
		LastTick:    a.lastTick,
		LastClose:   a.lastCandle.Close,
		LastTickErr: a.lastTickErr,
	}
	a.opsMu.RUnlock()
	st.Exchange = a.venue.Name()
	st.Symbol = a.market.Symbol()
	st.Paused = a.isPaused()
	st.DroppedStats = a.timescale.Dropped()
	st.Ledger = []LedgerEntry{}
	for _, liq := range a.ledger.Snapshot() {
		st.Ledger = append(st.Ledger, LedgerEntry{
			ID:        liq.ID,
			Direction: string(liq.Direction),
			Amount:    liq.Amount,
			Count:     liq.ReactionCount,
			Origin:    liq.OriginTime,
		})
	}
	st.Pending = []PendingStatus{}
	for _, p := range a.tracker.Snapshot() {
		st.Pending = append(st.Pending, PendingStatus{
			ID:           p.ID,
			Overlay:      p.Overlay.Name,
			State:        string(p.State()),
			Confirmed:    p.Confirmed,
			TriggerAbove: p.Levels.TriggerAbove,
			TriggerBelow: p.Levels.TriggerBelow,
			CancelAbove:  p.Levels.CancelAbove,
			CancelBelow:  p.Levels.CancelBelow,
			CreatedAt:    p.CreatedAt,
		})
	}
	st.TakeProfits = []TakeProfitStatus{}
	for _, tp := range a.takeProfits.Snapshot() {
		st.TakeProfits = append(st.TakeProfits, TakeProfitStatus{
			OrderID: tp.OrderID,
			Overlay: tp.Overlay,
			Amount:  tp.Amount,
			Price:   tp.TakeProfitPrice,
		})
	}
	st.Sizes = make(map[string]float64)
	for _, o := range a.selector.Overlays() {
		st.Sizes[o.Name] = a.sizer.Size(o.Name)
	}
	return st
}

func (a *App) router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	if a.prom != nil {
		router.Handle(a.cfg.Metrics.Path, a.prom.Handler()).Methods(http.MethodGet)
	}
	return router
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.Status()); err != nil {
		a.log.Warn("status encode failed", zap.Error(err))
	}
}

func (a *App) startServer(ctx context.Context) {
	if !a.cfg.Metrics.EnabledValue() {
		return
	}
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Address,
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.log.Info("status server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("status server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
