package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InvoicesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_invoices_issued_total",
		Help: "Invoices successfully created with the payment provider.",
	})

	PaymentsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_payments_finalized_total",
		Help: "Payments transitioned out of pending, by terminal status.",
	}, []string{"status"})

	PaymentAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_payment_anomalies_total",
		Help: "Provider/local state mismatches that need operator attention.",
	})

	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhooks_received_total",
		Help: "Provider webhook deliveries, by result.",
	}, []string{"result"})

	StalePaymentsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_stale_payments_expired_total",
		Help: "Pending payments expired by the reconciler sweep.",
	})
)
