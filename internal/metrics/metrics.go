// Package metrics holds the service's Prometheus collectors on a private
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/StricklySoft/stricklysoft-iam/pkg/auth"
	"github.com/StricklySoft/stricklysoft-iam/pkg/rbac"
)

const namespace = "iam"

// Token kinds for [Metrics.TokenIssued].
const (
	TokenSigned = "signed"
	TokenOpaque = "opaque"
)

// Metrics is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	logins          *prometheus.CounterVec
	bearerAuth      *prometheus.CounterVec
	cacheReloads    *prometheus.CounterVec
	cachedRoles     prometheus.Gauge
	tokensIssued    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers every collector, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by credential provider and result.",
		}, []string{"provider", "result"}),
		bearerAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bearer_authentications_total",
			Help:      "Bearer credential checks by accepting method and result.",
		}, []string{"method", "result"}),
		cacheReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_cache_reloads_total",
			Help:      "Completed permission cache reloads by origin.",
		}, []string{"source"}),
		cachedRoles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "permission_cache_roles",
			Help:      "Roles held by the permission cache after the last reload.",
		}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by kind.",
		}, []string{"kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route, method and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins,
		m.bearerAuth,
		m.cacheReloads,
		m.cachedRoles,
		m.tokensIssued,
		m.requestDuration,
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return m
}

// Registry exposes the registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveLogin matches credentials.Observer. An empty provider means no
// provider accepted the credential.
func (m *Metrics) ObserveLogin(provider string, ok bool) {
	if m == nil {
		return
	}
	if provider == "" {
		provider = "none"
	}
	m.logins.WithLabelValues(provider, result(ok)).Inc()
}

// ObserveBearer matches auth.Observer.
func (m *Metrics) ObserveBearer(method auth.Method, ok bool) {
	if m == nil {
		return
	}
	m.bearerAuth.WithLabelValues(string(method), result(ok)).Inc()
}

// ObserveReload is a permission cache reload listener.
func (m *Metrics) ObserveReload(ev rbac.ReloadEvent) {
	if m == nil {
		return
	}
	source := rbac.ReloadSourceLocal
	if ev.Source != rbac.ReloadSourceLocal {
		source = "peer"
	}
	m.cacheReloads.WithLabelValues(source).Inc()
	m.cachedRoles.Set(float64(ev.Roles))
}

// TokenIssued counts one issued token of kind.
func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(kind).Inc()
}

// Middleware records the duration of every request under its chi route
// pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.requestDuration.
			WithLabelValues(routePattern(r), r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
