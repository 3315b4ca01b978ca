// Package metrics provides Prometheus instrumentation for the platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bakehouse"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// --- Tenant connection pool ---

	// TenantHandlesResident tracks cached per-tenant handles. The pool never
	// evicts idle handles, so this grows with the number of active tenants.
	TenantHandlesResident = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tenant_handles_resident",
		Help:      "Number of per-tenant connection handles currently cached.",
	})

	// TenantConnectionsOpened counts underlying tenant connections created.
	TenantConnectionsOpened = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tenant_connections_opened_total",
		Help:      "Total per-tenant connection handles opened.",
	})

	// TenantHandleEvictions counts handles dropped from the pool by reason.
	TenantHandleEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tenant_handle_evictions_total",
		Help:      "Total per-tenant handles evicted by reason.",
	}, []string{"reason"})

	// TenantPoolLookups counts handle resolutions by cache result.
	TenantPoolLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tenant_pool_lookups_total",
		Help:      "Tenant handle resolutions by result (hit, miss).",
	}, []string{"result"})

	// --- Provisioning ---

	// ProvisioningTotal counts tenant provisioning attempts by outcome.
	ProvisioningTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tenant_provisioning_total",
		Help:      "Tenant provisioning attempts by outcome.",
	}, []string{"outcome"})

	// ProvisioningDuration observes end-to-end provisioning latency.
	ProvisioningDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tenant_provisioning_duration_seconds",
		Help:      "Time to provision a tenant schema in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// --- Billing ---

	// WebhookEventsTotal counts processor webhook events by type and outcome.
	WebhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Payment webhook events by event type and outcome.",
	}, []string{"event", "outcome"})

	// SubscriptionTransitionsTotal counts subscription status changes.
	SubscriptionTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscription_transitions_total",
		Help:      "Subscription status transitions by target status.",
	}, []string{"to"})

	// ProcessorCancelFailures counts cancellations that succeeded locally but
	// could not be confirmed with the payment processor.
	ProcessorCancelFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "processor_cancel_failures_total",
		Help:      "Subscription cancellations not confirmed by the payment processor.",
	})

	// ProcessorRequestsTotal counts payment processor API calls.
	ProcessorRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "processor_requests_total",
		Help:      "Payment processor API calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	// ProcessorRequestDuration observes payment processor latency.
	ProcessorRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "processor_request_duration_seconds",
		Help:      "Payment processor API latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// PlanSyncRunsTotal counts catalog sync runs by outcome.
	PlanSyncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plan_sync_runs_total",
		Help:      "Plan catalog sync runs by outcome.",
	}, []string{"outcome"})

	// PlanSyncPlansTotal counts per-plan sync results.
	PlanSyncPlansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "plan_sync_plans_total",
		Help:      "Plans processed by catalog sync by result (created, updated, unchanged).",
	}, []string{"result"})

	// --- Tenant directory ---

	// EmailsTotal counts outbound emails by kind and result.
	EmailsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emails_total",
		Help:      "Outbound emails by kind and result.",
	}, []string{"kind", "result"})

	// ActiveWebSocketClients tracks connected notification stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected notification stream clients.",
		},
	)

	// RateLimitedTotal counts requests rejected by the rate limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_requests_total",
		Help:      "Requests rejected with 429 by the rate limiter.",
	})

	// DBOpenConnections tracks open control-plane database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TenantHandlesResident,
		TenantConnectionsOpened,
		TenantHandleEvictions,
		TenantPoolLookups,
		ProvisioningTotal,
		ProvisioningDuration,
		WebhookEventsTotal,
		SubscriptionTransitionsTotal,
		ProcessorCancelFailures,
		ProcessorRequestsTotal,
		ProcessorRequestDuration,
		PlanSyncRunsTotal,
		RateLimitedTotal,
		PlanSyncPlansTotal,
		EmailsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recordDBStats(db.Stats())
		}
	}
}

func recordDBStats(stats sql.DBStats) {
	DBOpenConnections.Set(float64(stats.OpenConnections))
	DBIdleConnections.Set(float64(stats.Idle))
	DBInUseConnections.Set(float64(stats.InUse))
	DBWaitCount.Set(float64(stats.WaitCount))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Route pattern keeps tenant ids out of label values; unmatched
		// paths share one label so scanners cannot grow the series count.
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, route))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
