package share

import (
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/temoto/auvshare/bus"
)

type Metrics struct {
	collectors []prometheus.Collector
	update     prometheus.Histogram
}

func newMetrics(ch *Channel) *Metrics {
	m := &Metrics{
		update: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auvshare_update_seconds",
			Help:    "Duration of one UpdateTelemetry call, all three publishes.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
	m.collectors = append(m.collectors, m.update,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "auvshare_control_age_seconds",
			Help: "Time since last accepted control message, -1 if none yet.",
		}, func() float64 {
			if age := ch.ControlAge(); age >= 0 {
				return age.Seconds()
			}
			return -1
		}),
	)
	for _, name := range []string{EndpointBottom, EndpointFront, EndpointTelemetry, EndpointControl} {
		name := name
		m.collectors = append(m.collectors, endpointCollectors(name, func() *bus.Stat { return ch.Stat()[name] })...)
	}
	return m
}

func endpointCollectors(name string, stat func() *bus.Stat) []prometheus.Collector {
	labels := prometheus.Labels{"endpoint": name}
	counter := func(metric, help string, get func(*bus.StatSnapshot) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        "auvshare_" + metric,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 {
			s := stat().Snapshot()
			return float64(get(&s))
		})
	}
	return []prometheus.Collector{
		counter("sent_total", "Messages written to subscribers.", func(s *bus.StatSnapshot) uint64 { return s.Sent }),
		counter("sent_bytes_total", "Payload bytes written to subscribers.", func(s *bus.StatSnapshot) uint64 { return s.SentBytes }),
		counter("dropped_total", "Messages dropped on full queue.", func(s *bus.StatSnapshot) uint64 { return s.Dropped }),
		counter("received_total", "Messages received from clients.", func(s *bus.StatSnapshot) uint64 { return s.Received }),
		counter("rejected_total", "Received messages not accepted.", func(s *bus.StatSnapshot) uint64 { return s.Rejected }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "auvshare_clients",
			Help:        "Connected clients.",
			ConstLabels: labels,
		}, func() float64 { return float64(stat().Snapshot().Clients) }),
	}
}

func (m *Metrics) observeUpdate(d time.Duration) { m.update.Observe(d.Seconds()) }

// RegisterMetrics adds channel collectors to reg, e.g. prometheus.DefaultRegisterer.
func (ch *Channel) RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range ch.metrics.collectors {
		if err := reg.Register(c); err != nil {
			return errors.Annotate(err, "share RegisterMetrics")
		}
	}
	return nil
}
