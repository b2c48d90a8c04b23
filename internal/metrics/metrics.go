package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Исходы операций для метки result.
const (
	ResultOK                 = "ok"
	ResultInvalid            = "invalid"
	ResultDuplicate          = "duplicate"
	ResultNotFound           = "not_found"
	ResultNotEditable        = "not_editable"
	ResultSubmitterImmutable = "submitter_immutable"
	ResultConflict           = "conflict"
	ResultError              = "error"
)

// Recorder хранит собственный реестр Prometheus и счётчики сервиса.
// Методы безопасно вызывать на nil: метрики тогда просто не пишутся.
type Recorder struct {
	registry    *prometheus.Registry
	submissions *prometheus.CounterVec
	updates     *prometheus.CounterVec
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// New создает Recorder и регистрирует все коллекторы, включая рантайм Go и процесс.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pereval_submissions_total",
			Help: "Количество отправок данных о перевалах по исходу.",
		}, []string{"result"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pereval_updates_total",
			Help: "Количество попыток редактирования перевалов по исходу.",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Количество HTTP-запросов.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Длительность обработки HTTP-запросов.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.submissions, r.updates, r.requests, r.duration,
	)
	return r
}

// ObserveSubmission учитывает исход отправки новой записи.
func (r *Recorder) ObserveSubmission(result string) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(result).Inc()
}

// ObserveUpdate учитывает исход редактирования записи.
func (r *Recorder) ObserveUpdate(result string) {
	if r == nil {
		return
	}
	r.updates.WithLabelValues(result).Inc()
}

// ObserveRequest учитывает завершенный HTTP-запрос.
func (r *Recorder) ObserveRequest(method, route string, status int, took time.Duration) {
	if r == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.duration.WithLabelValues(method, route).Observe(took.Seconds())
}

// Handler отдает метрики реестра в формате Prometheus.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Middleware пишет метрики каждого запроса. Маршрут берется из шаблона chi
// (например /submitData/{id}), чтобы ID записей не размножали метки.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		var route string
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		r.ObserveRequest(req.Method, route, status, time.Since(start))
	})
}

// Submissions возвращает счётчик отправок (для тестов и дашбордов в процессе).
func (r *Recorder) Submissions() *prometheus.CounterVec {
	return r.submissions
}

// Updates возвращает счётчик редактирований.
func (r *Recorder) Updates() *prometheus.CounterVec {
	return r.updates
}
