package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	settlementMetricsOnce sync.Once
	settlementRegistry    *SettlementMetrics
)

// HTTP returns the lazily-initialised registry recording API requests.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "contentpay",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "contentpay",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "contentpay",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = labelRoute(route)
	method = strings.ToUpper(strings.TrimSpace(method))
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for route.
func (m *httpMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelRoute(route)).Inc()
}

// SettlementMetrics tracks settlement outcomes and the value moved per share.
type SettlementMetrics struct {
	settlements *prometheus.CounterVec
	transfers   *prometheus.CounterVec
	amounts     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// Settlements returns the lazily-initialised settlement metrics registry.
func Settlements() *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "contentpay",
				Subsystem: "settlement",
				Name:      "settlements_total",
				Help:      "Settlement attempts segmented by currency and outcome.",
			}, []string{"currency", "outcome"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "contentpay",
				Subsystem: "settlement",
				Name:      "transfers_total",
				Help:      "Transfers issued by committed settlements segmented by beneficiary.",
			}, []string{"currency", "beneficiary"}),
			amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "contentpay",
				Subsystem: "settlement",
				Name:      "settled_amount_total",
				Help:      "Base units settled segmented by currency and share.",
			}, []string{"currency", "share"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "contentpay",
				Subsystem: "settlement",
				Name:      "duration_seconds",
				Help:      "Time spent settling a purchase including the ledger commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"currency"}),
		}
		prometheus.MustRegister(
			settlementRegistry.settlements,
			settlementRegistry.transfers,
			settlementRegistry.amounts,
			settlementRegistry.duration,
		)
	})
	return settlementRegistry
}

// RecordOutcome counts one settlement attempt. Outcome is "settled" or the
// error kind that ended it.
func (m *SettlementMetrics) RecordOutcome(currency, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	currency = labelCurrency(currency)
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "error"
	}
	m.settlements.WithLabelValues(currency, outcome).Inc()
	m.duration.WithLabelValues(currency).Observe(d.Seconds())
}

// RecordShare records a non-zero share paid to beneficiary.
func (m *SettlementMetrics) RecordShare(currency, beneficiary string, amount uint64) {
	if m == nil || amount == 0 {
		return
	}
	currency = labelCurrency(currency)
	m.transfers.WithLabelValues(currency, beneficiary).Inc()
	m.amounts.WithLabelValues(currency, beneficiary).Add(float64(amount))
}

func labelRoute(route string) string {
	trimmed := strings.TrimSpace(route)
	if trimmed == "" {
		return "unmatched"
	}
	return trimmed
}

func labelCurrency(currency string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(currency))
	if trimmed == "" {
		return "UNKNOWN"
	}
	return trimmed
}
