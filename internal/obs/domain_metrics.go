package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentIntentTotal counts transaction intent creation outcomes.
	PaymentIntentTotal *prometheus.CounterVec
	// PaymentConfirmTotal counts confirmation state machine terminal states.
	PaymentConfirmTotal *prometheus.CounterVec
	// SessionRefreshTotal counts session snapshot refresh outcomes.
	SessionRefreshTotal *prometheus.CounterVec
	// UpstreamRequestDuration records upstream platform API call latency.
	UpstreamRequestDuration *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentIntentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_intent_total",
			Help:      "Count of transaction intent creation outcomes.",
		}, []string{"purpose", "result"})
		PaymentConfirmTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirm_total",
			Help:      "Count of confirmation flow terminal states.",
		}, []string{"purpose", "state"})
		SessionRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_refresh_total",
			Help:      "Count of session snapshot refresh outcomes.",
		}, []string{"result"})
		UpstreamRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_ms",
			Help:      "Latency of upstream platform API calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation", "result"})

		registerOrReuse(reg, PaymentIntentTotal, func(c prometheus.Collector) {
			if v, ok := c.(*prometheus.CounterVec); ok {
				PaymentIntentTotal = v
			}
		})
		registerOrReuse(reg, PaymentConfirmTotal, func(c prometheus.Collector) {
			if v, ok := c.(*prometheus.CounterVec); ok {
				PaymentConfirmTotal = v
			}
		})
		registerOrReuse(reg, SessionRefreshTotal, func(c prometheus.Collector) {
			if v, ok := c.(*prometheus.CounterVec); ok {
				SessionRefreshTotal = v
			}
		})
		registerOrReuse(reg, UpstreamRequestDuration, func(c prometheus.Collector) {
			if v, ok := c.(*prometheus.HistogramVec); ok {
				UpstreamRequestDuration = v
			}
		})
	})
}
