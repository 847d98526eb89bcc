package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "pm_arb_worker"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counters := make(map[string]prometheus.Counter)
	newCounter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		counters[name] = c
		return c
	}

	framesReceived := newCounter("frames_received_total", "Total websocket frames delivered to consumers.")
	framesUnknown := newCounter("frames_unknown_total", "Total frames that did not decode to a known message kind.")
	reconnects := newCounter("ws_reconnects_total", "Total websocket reconnect attempts.")
	signals := newCounter("signals_generated_total", "Total actionable strategy signals.")
	ordersPlaced := newCounter("orders_placed_total", "Total orders submitted to the venue.")
	ordersFailed := newCounter("orders_failed_total", "Total order submissions rejected by the venue.")
	ordersSimulated := newCounter("orders_simulated_total", "Total orders recorded in simulation mode.")
	tasksStarted := newCounter("tasks_started_total", "Total task pipelines started.")
	tasksFailed := newCounter("tasks_failed_total", "Total task pipelines that ended in FAILED.")

	m := &Metrics{
		FramesReceived:   promCounter{framesReceived},
		FramesUnknown:    promCounter{framesUnknown},
		Reconnects:       promCounter{reconnects},
		SignalsGenerated: promCounter{signals},
		OrdersPlaced:     promCounter{ordersPlaced},
		OrdersFailed:     promCounter{ordersFailed},
		OrdersSimulated:  promCounter{ordersSimulated},
		TasksStarted:     promCounter{tasksStarted},
		TasksFailed:      promCounter{tasksFailed},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
		counters: counters,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
