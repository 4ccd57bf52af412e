package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Total number of PENDING bookings created",
	})

	BookingsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_rejected_total",
		Help: "Total number of booking requests rejected",
	}, []string{"reason"})

	BookingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Total number of booking state transitions",
	}, []string{"status", "reason"})

	BookingLockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "booking_lock_wait_seconds",
		Help:    "Time spent acquiring the per-equipment lock",
		Buckets: prometheus.DefBuckets,
	})

	PaymentStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_status_total",
		Help: "Total number of applied payment status changes",
	}, []string{"status"})

	PaymentSignatureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_signature_failures_total",
		Help: "Total number of rejected payment signatures",
	}, []string{"source"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	EquipmentHoldsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "equipment_hold_changes_total",
		Help: "Total number of equipment holds added or released",
	}, []string{"action"})

	EventsConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_events_consumed_total",
		Help: "Total number of consumed saga events by outcome",
	}, []string{"topic", "outcome"})

	EventRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_event_retries_total",
		Help: "Total number of handler retries",
	}, []string{"topic"})

	DeadLetteredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "saga_events_dead_lettered_total",
		Help: "Total number of events sent to the dead-letter topic",
	}, []string{"topic"})

	OutboxRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_relayed_total",
		Help: "Total number of outbox messages relayed to the bus",
	}, []string{"store"})

	OutboxPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbox_pending",
		Help: "Outbox messages not yet relayed",
	}, []string{"store"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
