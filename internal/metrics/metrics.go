package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced    Counter
	OrdersFailed    Counter
	DeltaHedges     Counter
	GammaScalps     Counter
	OracleMisses    Counter
	BudgetExhausted Counter
	VenueFallbacks  Counter
	AggregatorSwaps Counter
	CyclesSkipped   Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:    n,
		OrdersFailed:    n,
		DeltaHedges:     n,
		GammaScalps:     n,
		OracleMisses:    n,
		BudgetExhausted: n,
		VenueFallbacks:  n,
		AggregatorSwaps: n,
		CyclesSkipped:   n,
	}
}
