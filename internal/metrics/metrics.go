package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zombor/invoice-tracker/internal/apperror"
)

var (
	// TokenRequests counts access token lookups, labeled by result
	// (cache_hit, refreshed, error)
	TokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_ocr_token_requests_total",
		Help: "Access token lookups, labeled by cache result",
	}, []string{"result"})

	// ProviderRequests counts OCR provider calls, labeled by endpoint and outcome
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_ocr_provider_requests_total",
		Help: "OCR provider calls, labeled by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "invoice_ocr_provider_request_duration_seconds",
		Help:    "Latency distribution of OCR provider calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	// Recognitions counts processed documents, labeled by operation and outcome
	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_recognitions_total",
		Help: "Documents processed by the recognition pipeline",
	}, []string{"operation", "outcome"})
)

// Outcome maps an error to the label value used by the counters above:
// "success", or the error kind
func Outcome(err error) string {
	if err != nil {
		return string(apperror.KindOf(err))
	}
	return "success"
}
