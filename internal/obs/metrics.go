package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	serviceReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Доменные метрики аутентификации.
var (
	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Issued JWTs by kind (access, refresh).",
		},
		[]string{"kind"},
	)

	authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Rejected authentication attempts by reason.",
		},
		[]string{"reason"},
	)

	tokensInvalidated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_invalidated_total",
		Help: "Token ids written to the invalidation ledger.",
	})

	sweptTokens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_invalid_tokens_swept_total",
		Help: "Invalidation records removed by the scheduled sweep.",
	})

	mailPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mail_published_total",
			Help: "Outgoing mail messages by result.",
		},
		[]string{"result"},
	)
)

var initOnce sync.Once

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, serviceReady,
			tokensIssued, authFailures, tokensInvalidated, sweptTokens, mailPublished,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the service_ready gauge.
func SetReady(ok bool) {
	if ok {
		serviceReady.Set(1)
		return
	}
	serviceReady.Set(0)
}

func TokenIssued(kind string) { tokensIssued.WithLabelValues(kind).Inc() }

func AuthFailure(reason string) { authFailures.WithLabelValues(reason).Inc() }

func TokensInvalidated(n int) { tokensInvalidated.Add(float64(n)) }

func TokensSwept(n int64) { sweptTokens.Add(float64(n)) }

func MailPublished(result string) { mailPublished.WithLabelValues(result).Inc() }

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)
		path := CanonicalPath(r)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath returns the matched chi route pattern so ids do not explode label cardinality.
func CanonicalPath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
