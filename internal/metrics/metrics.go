package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stockmedia"

// Metrics holds the Prometheus collectors for orders, the ledger, the broker and the sweeper.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	orderTransitions *prometheus.CounterVec
	ledgerOps        *prometheus.CounterVec
	brokerRequests   *prometheus.CounterVec
	sweeperRuns      *prometheus.CounterVec
	sweeperDuration  *prometheus.HistogramVec
}

// MustNewMetrics registers the collectors with reg and panics on registration errors.
// Collectors that are already registered are reused.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Applied order status transitions.",
		}, []string{"from", "to"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Points ledger operations by outcome.",
		}, []string{"op", "result"}),
		brokerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "requests_total",
			Help:      "Requests sent to the broker API by outcome.",
		}, []string{"op", "result"}),
		sweeperRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Background sweeper job runs by outcome.",
		}, []string{"job", "result"}),
		sweeperDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of background sweeper job runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}

	m.orderTransitions = registerCounterVec(reg, m.orderTransitions)
	m.ledgerOps = registerCounterVec(reg, m.ledgerOps)
	m.brokerRequests = registerCounterVec(reg, m.brokerRequests)
	m.sweeperRuns = registerCounterVec(reg, m.sweeperRuns)
	if err := reg.Register(m.sweeperDuration); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		m.sweeperDuration = already.ExistingCollector.(*prometheus.HistogramVec)
	}

	return m
}

func registerCounterVec(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector.(*prometheus.CounterVec)
		}
		panic(err)
	}
	return c
}

func (m *Metrics) IncOrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncLedgerOp(op string, err error) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) IncBrokerRequest(op, result string) {
	if m == nil {
		return
	}
	m.brokerRequests.WithLabelValues(op, result).Inc()
}

// ObserveSweeperRun records one run of a sweeper job.
func (m *Metrics) ObserveSweeperRun(job string, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.sweeperRuns.WithLabelValues(job, result(err)).Inc()
	m.sweeperDuration.WithLabelValues(job).Observe(took.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
