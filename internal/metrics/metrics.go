package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	FramesReceived   Counter
	FramesUnknown    Counter
	Reconnects       Counter
	SignalsGenerated Counter
	OrdersPlaced     Counter
	OrdersFailed     Counter
	OrdersSimulated  Counter
	TasksStarted     Counter
	TasksFailed      Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		FramesReceived:   n,
		FramesUnknown:    n,
		Reconnects:       n,
		SignalsGenerated: n,
		OrdersPlaced:     n,
		OrdersFailed:     n,
		OrdersSimulated:  n,
		TasksStarted:     n,
		TasksFailed:      n,
	}
}
