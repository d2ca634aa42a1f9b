package metrics

import "github.com/prometheus/client_golang/prometheus"

type Observer interface {
	Observe(val float64, labels ...string)

	// for now we will tightly couple to the prometheus collector type
	// the go otel metrics sdk also has a prometheus adapter that implements this interface.
	prometheus.Collector
}

type Metrics struct {
	// Penalties counts seconds of penalty applied, labeled by reason.
	Penalties Observer
	// LevelUps counts levels gained by players.
	LevelUps Observer
	// Commands counts game commands run, labeled by command name.
	Commands Observer
	// Sent counts messages sent to networks.
	Sent Observer
	// Online is the number of players online as of the last tick.
	Online Observer
	// Saves observes the latency of saving game state.
	Saves Observer
}

// New creates metrics backed by new, unregistered Prometheus collectors.
func New() *Metrics {
	return &Metrics{
		Penalties: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idlerpg",
			Name:      "penalty_seconds_total",
			Help:      "Seconds of penalty applied to players.",
		}, []string{"reason"})),
		LevelUps: NewPromCounter(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "idlerpg",
			Name:      "level_ups_total",
			Help:      "Levels gained by players.",
		})),
		Commands: NewPromCounterVec(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "idlerpg",
			Name:      "commands_total",
			Help:      "Game commands executed.",
		}, []string{"command"})),
		Sent: NewPromCounter(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "idlerpg",
			Name:      "sent_messages_total",
			Help:      "Messages sent to chat networks.",
		})),
		Online: NewPromGauge(prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "idlerpg",
			Name:      "online_players",
			Help:      "Players online as of the last game tick.",
		})),
		Saves: NewPromHistogram(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "idlerpg",
			Name:      "save_latency_seconds",
			Help:      "How long it takes to save game state.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		})),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Penalties,
		m.LevelUps,
		m.Commands,
		m.Sent,
		m.Online,
		m.Saves,
	}
}
