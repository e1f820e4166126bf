package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	LiquidationsDetected Counter
	LiquidationsEvicted  Counter
	PendingCreated       Counter
	PendingCancelled     Counter
	EntriesTriggered     Counter
	OrdersPlaced         Counter
	OrdersFailed         Counter
	TakeProfitsPlaced    Counter
	TakeProfitsFailed    Counter
	StaleEntriesCanceled Counter
	TickFailures         Counter

	LedgerSize         Gauge
	PendingEntries     Gauge
	PendingTakeProfits Gauge
	PositionSize       Gauge
}

type noop struct{}

func (noop) Inc() {}

func (noop) Set(float64) {}

func NewNoop() *Metrics {
	n := noop{}
	return &Metrics{
		LiquidationsDetected: n,
		LiquidationsEvicted:  n,
		PendingCreated:       n,
		PendingCancelled:     n,
		EntriesTriggered:     n,
		OrdersPlaced:         n,
		OrdersFailed:         n,
		TakeProfitsPlaced:    n,
		TakeProfitsFailed:    n,
		StaleEntriesCanceled: n,
		TickFailures:         n,
		LedgerSize:           n,
		PendingEntries:       n,
		PendingTakeProfits:   n,
		PositionSize:         n,
	}
}
