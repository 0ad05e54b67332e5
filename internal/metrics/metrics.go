// Package metrics объявляет метрики Prometheus сервиса.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cardbook"

// RenewalPasses считает проходы продления по результату.
var RenewalPasses = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "renewal",
	Name:      "passes_total",
	Help:      "Total automatic renewal passes by result.",
}, []string{"result"})

// CreditsRenewed считает кредиты, переведённые в новый период.
var CreditsRenewed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "renewal",
	Name:      "credits_renewed_total",
	Help:      "Total credits rolled into a new period.",
})

// CreditsSkipped считает кредиты, для которых не удалось вычислить даты.
var CreditsSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "renewal",
	Name:      "credits_skipped_total",
	Help:      "Total credits skipped because their period could not be computed.",
})

var RenewalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "renewal",
	Name:      "pass_duration_seconds",
	Help:      "Duration of automatic renewal passes.",
	Buckets:   prometheus.DefBuckets,
})

// ActivationsCoalesced считает запуски продления, присоединённые к уже идущему проходу.
var ActivationsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "renewal",
	Name:      "activations_coalesced_total",
	Help:      "Total activation triggers merged into an in-flight pass.",
})

// UsageToggles считает ручные изменения статуса использования.
var UsageToggles = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "credits",
	Name:      "usage_changes_total",
	Help:      "Total manual usage state changes by new state.",
}, []string{"state"})

// HTTPRequests считает обработанные HTTP-запросы.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total HTTP requests by method and status code.",
}, []string{"method", "status"})
