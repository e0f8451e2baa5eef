package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lchat"

// 中继相关指标。
var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Open websocket connections, authenticated or not",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online_users",
		Help:      "Identities currently bound to a connection",
	})
	WsMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_routed_total",
		Help:      "Direct messages accepted by the router, by kind",
	}, []string{"kind"})
	WsEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_events_total",
		Help:      "Inbound websocket events by name and outcome",
	}, []string{"event", "outcome"})
	WsDroppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_dropped_frames_total",
		Help:      "Outbound frames dropped because a connection's send buffer was full",
	})
	Conversations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "conversations",
		Help:      "Conversations with a retained history window",
	})
)

// HTTP 指标。
var (
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, OnlineUsers, WsMessagesTotal, WsEventsTotal, WsDroppedFrames, Conversations,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// ObserveEvent 记录一次入站事件的处理结果，未知事件名统一记为 unknown，避免标签基数失控。
func ObserveEvent(event, outcome string, known bool) {
	if !known {
		event = "unknown"
	}
	WsEventsTotal.WithLabelValues(event, outcome).Inc()
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			// 未匹配路由的原始路径不可控，合并成一个标签值
			path = "unmatched"
		}
		labels := prometheus.Labels{
			"method": c.Request.Method,
			"path":   path,
			"status": strconv.Itoa(c.Writer.Status()),
		}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
