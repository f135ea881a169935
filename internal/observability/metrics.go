package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
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
	grpcClientHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_client_handled_total",
			Help: "Total number of gRPC calls made to collaborators.",
		},
		[]string{"grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of authenticated websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	messagesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_routed_total",
			Help: "Messages routed grouped by outcome.",
		},
		[]string{"outcome"},
	)
	routeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_route_duration_seconds",
			Help:    "Time to persist and push a routed message.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
	presenceFanoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_fanout_total",
			Help: "user_status events enqueued grouped by status.",
		},
		[]string{"status"},
	)
	readReceiptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_read_receipts_total",
			Help: "Messages flipped to read.",
		},
	)
	signalsRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_signals_relayed_total",
			Help: "Call-signaling frames grouped by kind and outcome.",
		},
		[]string{"kind", "outcome"},
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
		grpcClientHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		messagesRoutedTotal,
		routeDuration,
		presenceFanoutTotal,
		readReceiptsTotal,
		signalsRelayedTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// GRPCClientMetricsUnaryInterceptor counts outbound calls to collaborators by status code.
func GRPCClientMetricsUnaryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		grpcClientHandledTotal.WithLabelValues(method, status.Code(err).String()).Inc()
		return err
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

// ObserveRoute records one Route call; outcome is delivered, queued, invalid or store_error.
func ObserveRoute(outcome string, started time.Time) {
	messagesRoutedTotal.WithLabelValues(outcome).Inc()
	routeDuration.Observe(time.Since(started).Seconds())
}

func AddPresenceFanout(status string, n int) {
	presenceFanoutTotal.WithLabelValues(status).Add(float64(n))
}

func AddReadReceipts(n int) {
	readReceiptsTotal.Add(float64(n))
}

func IncSignal(kind, outcome string) {
	signalsRelayedTotal.WithLabelValues(kind, outcome).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
