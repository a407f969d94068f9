package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Причины ошибок для conveyor_request_errors_total.
const (
	ReasonMissingRef   = "missing_ref"
	ReasonTypeMismatch = "type_mismatch"
	ReasonHandler      = "handler"
	ReasonWorkerURL    = "worker_url"
)

// Metrics — Prometheus метрики worker'а и архиватора.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestErrors   *prometheus.CounterVec
	dequeueTimeouts *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	archived        *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// nil — регистрация в prometheus.DefaultRegisterer (то, что отдаёт /metrics).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_requests_total",
			Help: "Requests processed, by result code.",
		}, []string{"worker_type", "code"}),
		requestErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_request_errors_total",
			Help: "Requests that failed validation or business logic.",
		}, []string{"worker_type", "reason"}),
		dequeueTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_dequeue_timeouts_total",
			Help: "XREADGROUP calls that returned no message.",
		}, []string{"worker_type"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conveyor_request_duration_seconds",
			Help:    "Time from dequeue to response delivery.",
			Buckets: prometheus.DefBuckets,
		}, []string{"worker_type"}),
		archived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_archived_total",
			Help: "Response stream entries archived.",
		}, []string{"stream"}),
	}
}

// ObserveRequest учитывает обработанный запрос.
func (m *Metrics) ObserveRequest(workerType string, code int, d time.Duration) {
	m.requests.WithLabelValues(workerType, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(workerType).Observe(d.Seconds())
}

// RequestError учитывает ошибку обработки запроса.
func (m *Metrics) RequestError(workerType, reason string) {
	m.requestErrors.WithLabelValues(workerType, reason).Inc()
}

// DequeueTimeout учитывает пустой XREADGROUP.
func (m *Metrics) DequeueTimeout(workerType string) {
	m.dequeueTimeouts.WithLabelValues(workerType).Inc()
}

// Archived учитывает заархивированные записи.
func (m *Metrics) Archived(stream string, n int) {
	m.archived.WithLabelValues(stream).Add(float64(n))
}

// NewServeMux возвращает mux с /healthz и /metrics.
func NewServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// StartServer занимает addr и обслуживает NewServeMux в фоне.
// Ошибка bind (например, порт занят другим экземпляром) возвращается сразу,
// до того как процесс начнёт работу.
func StartServer(addr string, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{Handler: NewServeMux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()
	return srv, nil
}
