package smartcard

import (
	"errors"

	"cardproto.dev/t1"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes per-session protocol counters as Prometheus
// collectors (prometheus.Counter/CounterVec registered once, updated per
// call).
type Metrics struct {
	Transmits prometheus.Counter
	Errors    *prometheus.CounterVec
	CRCErrors prometheus.Counter
	WTXRounds prometheus.Counter
	Aborts    prometheus.Counter
}

// NewMetrics builds and, if reg is non-nil, registers the card
// protocol collectors under the "cardproto" namespace.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cardproto",
			Name:      "transmits_total",
			Help:      "Number of Transmit calls completed.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardproto",
			Name:      "errors_total",
			Help:      "Number of Transmit/Reset/ATR calls by error kind.",
		}, []string{"kind"}),
		CRCErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cardproto",
			Name:      "crc_errors_total",
			Help:      "Number of calls that ended with a checksum-mismatch error; checksum errors recovered by retry are not counted.",
		}),
		WTXRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cardproto",
			Name:      "wtx_rounds_total",
			Help:      "Number of waiting-time-extension rounds granted by cards.",
		}),
		Aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cardproto",
			Name:      "aborts_total",
			Help:      "Number of sessions ended by a card-initiated ABORT.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Transmits, m.Errors, m.CRCErrors, m.WTXRounds, m.Aborts)
	}
	return m
}

func (m *Metrics) observe(err error) {
	m.Transmits.Inc()
	if err == nil {
		return
	}
	var perr *t1.Error
	switch {
	case errors.As(err, &perr):
		m.Errors.WithLabelValues(perr.Kind.String()).Inc()
		switch {
		case errors.Is(err, t1.ErrChecksum):
			m.CRCErrors.Inc()
		case errors.Is(err, t1.ErrAborted):
			m.Aborts.Inc()
		}
	default:
		m.Errors.WithLabelValues("unknown").Inc()
	}
}
