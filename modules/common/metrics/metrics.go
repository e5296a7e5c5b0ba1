package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "imagen_relay"

// Generation results
const (
	ResultSuccess         = "success"
	ResultValidationError = "validation_error"
	ResultCredentialError = "credential_error"
	ResultUpstreamError   = "upstream_error"
)

// Token cache results
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Collector - 서버 메트릭 (전용 registry 사용)
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	generationsTotal    *prometheus.CounterVec
	imagesReturned      prometheus.Counter
	tokenCacheTotal     *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		generationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_generations_total",
			Help:      "Image generation requests by outcome",
		}, []string{"result"}),
		imagesReturned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_returned_total",
			Help:      "Images returned to callers",
		}),
		tokenCacheTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_cache_total",
			Help:      "Access token cache lookups by result",
		}, []string{"result"}),
	}
}

// RecordHTTPRequest - route template 기준으로 기록 (high-cardinality 방지)
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (c *Collector) RecordGeneration(result string, images int) {
	c.generationsTotal.WithLabelValues(result).Inc()
	if images > 0 {
		c.imagesReturned.Add(float64(images))
	}
}

func (c *Collector) RecordTokenCache(result string) {
	c.tokenCacheTotal.WithLabelValues(result).Inc()
}

// Handler - /metrics 엔드포인트
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
