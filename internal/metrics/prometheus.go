package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "strike_guard_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	ordersPlaced     prometheus.Counter
	ordersAmended    prometheus.Counter
	ordersCancelled  prometheus.Counter
	ordersFailed     prometheus.Counter
	orderNotFound    prometheus.Counter
	bounceSuppressed prometheus.Counter
	eventsDropped    prometheus.Counter
	tickErrors       prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	newCounter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
	}
	ordersPlaced := newCounter("orders_placed_total", "Total number of protective orders placed.")
	ordersAmended := newCounter("orders_amended_total", "Total number of protective order price amendments.")
	ordersCancelled := newCounter("orders_cancelled_total", "Total number of protective orders cancelled.")
	ordersFailed := newCounter("orders_failed_total", "Total number of gateway call failures.")
	orderNotFound := newCounter("order_not_found_total", "Total number of amends or cancels that hit an already resolved order.")
	bounceSuppressed := newCounter("bounce_suppressed_total", "Total number of placements suppressed by the bounce limit.")
	eventsDropped := newCounter("feed_events_dropped_total", "Total number of feed events dropped because the queue was full.")
	tickErrors := newCounter("tick_errors_total", "Total number of engine ticks that ended with an error.")

	registry.MustRegister(ordersPlaced, ordersAmended, ordersCancelled, ordersFailed,
		orderNotFound, bounceSuppressed, eventsDropped, tickErrors)

	return &Prometheus{
		Metrics: &Metrics{
			OrdersPlaced:      promCounter{ordersPlaced},
			OrdersAmended:     promCounter{ordersAmended},
			OrdersCancelled:   promCounter{ordersCancelled},
			OrdersFailed:      promCounter{ordersFailed},
			OrderNotFound:     promCounter{orderNotFound},
			BounceSuppressed:  promCounter{bounceSuppressed},
			FeedEventsDropped: promCounter{eventsDropped},
			TickErrors:        promCounter{tickErrors},
		},
		registry:         registry,
		ordersPlaced:     ordersPlaced,
		ordersAmended:    ordersAmended,
		ordersCancelled:  ordersCancelled,
		ordersFailed:     ordersFailed,
		orderNotFound:    orderNotFound,
		bounceSuppressed: bounceSuppressed,
		eventsDropped:    eventsDropped,
		tickErrors:       tickErrors,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
