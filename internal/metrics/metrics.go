package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced      Counter
	OrdersAmended     Counter
	OrdersCancelled   Counter
	OrdersFailed      Counter
	OrderNotFound     Counter
	BounceSuppressed  Counter
	FeedEventsDropped Counter
	TickErrors        Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:      n,
		OrdersAmended:     n,
		OrdersCancelled:   n,
		OrdersFailed:      n,
		OrderNotFound:     n,
		BounceSuppressed:  n,
		FeedEventsDropped: n,
		TickErrors:        n,
	}
}
