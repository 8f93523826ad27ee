package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты изменяющих операций.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// CatalogMetrics содержит метрики операций каталога, повторов и кеша.
type CatalogMetrics struct {
	// Счётчики операций
	mutations        *prometheus.CounterVec
	versionConflicts *prometheus.CounterVec
	retriesExhausted *prometheus.CounterVec

	// Кеш view
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec

	mutationDuration *prometheus.HistogramVec

	outboxEvents prometheus.Counter

	// Gauge для выполняющихся изменений
	inFlight prometheus.Gauge
}

// NewCatalogMetrics создаёт метрики в DefaultRegisterer.
func NewCatalogMetrics() *CatalogMetrics {
	return NewCatalogMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCatalogMetricsWithRegisterer создаёт метрики в указанном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewCatalogMetricsWithRegisterer(registerer prometheus.Registerer) *CatalogMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CatalogMetrics{
		mutations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_mutations_total",
			Help: "Total number of catalog mutations by operation and result",
		}, []string{"operation", "result"}),
		versionConflicts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_version_conflicts_total",
			Help: "Total number of optimistic version conflicts by operation",
		}, []string{"operation"}),
		retriesExhausted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_retries_exhausted_total",
			Help: "Total number of operations that exhausted retry attempts",
		}, []string{"operation"}),
		cacheHits: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_cache_hits_total",
			Help: "Total number of cache hits by view",
		}, []string{"view"}),
		cacheMisses: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_cache_misses_total",
			Help: "Total number of cache misses by view",
		}, []string{"view"}),
		cacheInvalidations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "catalog_cache_invalidations_total",
			Help: "Total number of cache invalidations by view",
		}, []string{"view"}),
		mutationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "catalog_mutation_duration_seconds",
			Help:    "Duration of catalog mutations including retries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "catalog_outbox_events_total",
			Help: "Total number of catalog change events enqueued to outbox",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "catalog_mutations_in_flight",
			Help: "Number of catalog mutations currently executing",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordMutation учитывает завершённую операцию и её длительность.
func (m *CatalogMetrics) RecordMutation(operation string, err error, duration time.Duration) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.mutations.WithLabelValues(operation, result).Inc()
	m.mutationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordMutationStarted увеличивает количество выполняющихся изменений.
func (m *CatalogMetrics) RecordMutationStarted() {
	m.inFlight.Inc()
}

// RecordMutationFinished уменьшает количество выполняющихся изменений.
func (m *CatalogMetrics) RecordMutationFinished() {
	m.inFlight.Dec()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CatalogMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// ObserveConflict учитывает конфликт версий (retry.Observer).
func (m *CatalogMetrics) ObserveConflict(op string) {
	m.versionConflicts.WithLabelValues(op).Inc()
}

// ObserveExhausted учитывает исчерпание попыток (retry.Observer).
func (m *CatalogMetrics) ObserveExhausted(op string) {
	m.retriesExhausted.WithLabelValues(op).Inc()
}

// CacheHit реализует cache.Recorder.
func (m *CatalogMetrics) CacheHit(view string) {
	m.cacheHits.WithLabelValues(view).Inc()
}

// CacheMiss реализует cache.Recorder.
func (m *CatalogMetrics) CacheMiss(view string) {
	m.cacheMisses.WithLabelValues(view).Inc()
}

// CacheInvalidated реализует cache.Recorder.
func (m *CatalogMetrics) CacheInvalidated(view string) {
	m.cacheInvalidations.WithLabelValues(view).Inc()
}
