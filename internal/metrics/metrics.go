package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ledger metrics
	LedgerDebits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abbot_ledger_debits_total",
			Help: "Total number of debit attempts by outcome",
		},
		[]string{"outcome"},
	)
	LedgerCredits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abbot_ledger_credits_total",
			Help: "Total number of balance credits",
		},
	)

	// Invoice metrics
	InvoicesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abbot_invoices_created_total",
			Help: "Total number of invoices created by processor",
		},
		[]string{"processor"},
	)
	InvoicesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abbot_invoices_closed_total",
			Help: "Total number of invoices reaching a terminal state",
		},
		[]string{"state"},
	)
	InvoiceCreationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abbot_invoice_creation_failures_total",
			Help: "Total number of failed invoice creation attempts",
		},
	)
	PollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abbot_invoice_poll_ticks_total",
			Help: "Total number of invoice poll ticks by result",
		},
		[]string{"result"},
	)

	// Completion metrics
	Completions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abbot_completions_total",
			Help: "Total number of completions by provider",
		},
		[]string{"provider"},
	)
	CompletionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "abbot_completion_duration_seconds",
			Help:    "Completion call duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Oracle metrics
	RateFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abbot_rate_fetches_total",
			Help: "Total number of live rate fetches by outcome",
		},
		[]string{"outcome"},
	)
)

// Register registers all metrics with the default registry
func Register() {
	prometheus.MustRegister(
		LedgerDebits,
		LedgerCredits,
		InvoicesCreated,
		InvoicesClosed,
		InvoiceCreationFailures,
		PollTicks,
		Completions,
		CompletionDuration,
		RateFetches,
	)
}

// Serve starts the /metrics endpoint on the given address
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = srv.ListenAndServe()
	}()

	return srv
}
