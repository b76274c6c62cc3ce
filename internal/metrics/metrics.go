package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/academy-portal/internal/version"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec
	errorsTotal    *prometheus.CounterVec

	// rate limiting, labelled by limiter name (auth|api|public)
	ratelimitDeniedTotal  *prometheus.CounterVec
	ratelimitEvictedTotal *prometheus.CounterVec

	// authn/authz
	authzDeniedTotal   *prometheus.CounterVec
	loginAttemptsTotal *prometheus.CounterVec
	accountsLoaded     prometheus.Gauge

	profilingActive prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{64, 256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		ratelimitDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter, by limiter",
		}, []string{"limiter"}),
		ratelimitEvictedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_evicted_buckets_total",
			Help: "Total buckets removed by capacity eviction, by limiter",
		}, []string{"limiter"}),
		authzDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authz_denied_total",
			Help: "Total requests denied by the authorization gate, by reason",
		}, []string{"reason"}),
		loginAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total login attempts by result",
		}, []string{"result"}),
		accountsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "accounts_loaded",
			Help: "Number of accounts in the directory",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight, m.reqTotal, m.reqDur, m.respBytes, m.errorsTotal,
		m.httpPanicTotal, m.buildInfo, m.profilingActive,
		m.ratelimitDeniedTotal, m.ratelimitEvictedTotal,
		m.authzDeniedTotal, m.loginAttemptsTotal, m.accountsLoaded,
	)
	m.reg = reg
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return m
}

// Handler serves this registry in the OpenMetrics or text format.
func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// IncHTTPPanic counts a panic recovered by either listener.
func (m *ServerMetrics) IncHTTPPanic() { m.httpPanicTotal.Inc() }

// SetBuildInfo publishes the constant build_info series. Call once at startup.
func (m *ServerMetrics) SetBuildInfo(vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.WithLabelValues(
		vi.App, vi.Component, vi.Version, vi.Commit, vi.CommitDate,
		vi.BuildId, vi.BuildDate, dirty, vi.GoVersion,
	).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied(limiter string) {
	m.ratelimitDeniedTotal.WithLabelValues(limiter).Inc()
}

func (m *ServerMetrics) AddRateLimitEvicted(limiter string, n int) {
	m.ratelimitEvictedTotal.WithLabelValues(limiter).Add(float64(n))
}

// RegisterRateLimitTracked exposes a limiter's table size, read at scrape time.
func (m *ServerMetrics) RegisterRateLimitTracked(limiter string, size func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "ratelimit_tracked_clients",
		Help:        "Number of client buckets currently tracked",
		ConstLabels: prometheus.Labels{"limiter": limiter},
	}, func() float64 { return float64(size()) }))
}

func (m *ServerMetrics) IncAuthzDenied(reason string) {
	m.authzDeniedTotal.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) IncLoginAttempt(result string) {
	m.loginAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *ServerMetrics) SetAccountsLoaded(n int) {
	m.accountsLoaded.Set(float64(n))
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
