package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"chat-engine/internal/models"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_engine_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat engine.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_engine_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_engine_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_engine_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	fanoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_engine_fanout_total",
			Help: "Per-session outcomes of live event fan-out.",
		},
		[]string{"result"},
	)
	domainEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_engine_domain_events_total",
			Help: "Domain events handed to the broker, by type and outcome.",
		},
		[]string{"event_type", "result"},
	)
	storeTxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_engine_store_tx_duration_seconds",
			Help:    "Duration of store transactions.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"driver", "result"},
	)
	usersRegisteredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_engine_users_registered_total",
			Help: "Users stored for the first time.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		fanoutTotal,
		domainEventsTotal,
		storeTxDuration,
		usersRegisteredTotal,
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

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

// IncFanout counts one session delivery attempt; result is "delivered" or "dropped".
func IncFanout(result string) {
	fanoutTotal.WithLabelValues(result).Inc()
}

func IncDomainEvent(eventType, result string) {
	domainEventsTotal.WithLabelValues(eventType, result).Inc()
}

func ObserveStoreTx(driver string, started time.Time, err error) {
	result := "commit"
	if err != nil {
		result = "rollback"
	}
	storeTxDuration.WithLabelValues(driver, result).Observe(time.Since(started).Seconds())
}

// UserMetrics counts user registrations. Subscribe it to the chat service.
type UserMetrics struct{}

func (UserMetrics) UserRegistered(context.Context, models.UserRegistered) {
	usersRegisteredTotal.Inc()
}
