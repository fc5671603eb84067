package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat core.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events by type.",
		},
		[]string{"event"},
	)
	onlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Number of users with at least one live connection.",
		},
	)
	dispatcherClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_dispatcher_claims_total",
			Help: "Scheduled messages claimed by the dispatcher, by outcome.",
		},
		[]string{"outcome"},
	)
	dispatcherTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_dispatcher_tick_duration_seconds",
			Help:    "Duration of dispatcher ticks in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	callsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_calls_total",
			Help: "Terminated call sessions by outcome.",
		},
		[]string{"outcome"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		onlineUsers,
		dispatcherClaimsTotal,
		dispatcherTickDuration,
		callsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() { wsActiveConnections.Inc() }

func DecWSActive() { wsActiveConnections.Dec() }

// WSActiveConnections reads the current gauge value so registry tests can
// assert connect/evict/disconnect accounting balances.
func WSActiveConnections() float64 {
	var m dto.Metric
	if err := wsActiveConnections.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func IncWSEvent(event string) { wsEventsTotal.WithLabelValues(event).Inc() }

func SetOnlineUsers(n int) { onlineUsers.Set(float64(n)) }

func IncDispatcherClaim(outcome string) { dispatcherClaimsTotal.WithLabelValues(outcome).Inc() }

func ObserveDispatcherTick(d time.Duration) { dispatcherTickDuration.Observe(d.Seconds()) }

func IncCall(outcome string) { callsTotal.WithLabelValues(outcome).Inc() }

func IncAMQPPublishError() { amqpPublishErrorsTotal.Inc() }
