package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "driver_session"

var (
	OffersReceived = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_received_total", Help: "Ride offers received on the notification channel"})
	OffersCleared  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "offers_cleared_total", Help: "Pending offers cleared, by reason"},
		[]string{"reason"},
	)
	OfferDecisionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "offer_decision_seconds",
		Help:      "Seconds of the offer window used before accept or decline",
		Buckets:   []float64{1, 2, 5, 10, 15, 20, 30},
	})

	ChannelReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "channel_reconnects_total", Help: "Reconnection attempts, by channel"},
		[]string{"channel"},
	)
	ChannelSendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "channel_send_failures_total", Help: "Messages dropped because the channel was not open"},
		[]string{"channel"},
	)
	ChannelStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "channel_status", Help: "0 closed, 1 connecting, 2 open"},
		[]string{"channel"},
	)
	UnknownMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "unknown_messages_total", Help: "Inbound messages dropped for an unknown type"},
		[]string{"channel"},
	)

	LocationSamplesSent = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "location_samples_sent_total", Help: "Location samples sent on the location channel"})
	RideTransitions     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride session state transitions, by target state"},
		[]string{"to"},
	)
	ActionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "action_failures_total", Help: "Ride action failures, by action and kind"},
		[]string{"action", "kind"},
	)
	DriverOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "driver_online", Help: "1 when the driver is available for offers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total local HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Local HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
