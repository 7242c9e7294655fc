package prom

import (
	"sync"

	xhttp "github.com/ericomondi/e-api/pkg/http"
	"github.com/ericomondi/e-api/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemPayment = "payment"
	SystemGateway = "gateway"
)

const (
	MetricPaymentInitiations    = "initiations_total"
	MetricPaymentCallbacks      = "callbacks_total"
	MetricPaymentOrphansReplay  = "orphans_replayed_total"
	MetricGatewayRequestSeconds = "request_duration_seconds"
)

var lockCreateMetricLock = &sync.Mutex{}
var namespace = "none"

var MetricSystemEnabled = false

var MetricCollectionCounterVec = make(map[string]*prometheus.CounterVec)
var MetricCollectionHistogramVec = make(map[string]*prometheus.HistogramVec)

var defaultLabels prometheus.Labels

// Create registers every metric of the service. Until it is called the Add
// helpers are no-ops, which keeps tests and tools free of a registry.
func Create(host string, env string, nameSpace string) error {
	defaultLabels = make(prometheus.Labels)
	defaultLabels["env"] = env
	defaultLabels["instance"] = host
	namespace = nameSpace

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounterVec(SystemPayment, MetricPaymentInitiations, []string{"outcome"}))
	hasError(createCounterVec(SystemPayment, MetricPaymentCallbacks, []string{"outcome"}))
	hasError(createCounterVec(SystemPayment, MetricPaymentOrphansReplay, []string{"outcome"}))
	hasError(createHistogramVec(SystemGateway, MetricGatewayRequestSeconds, []string{"endpoint", "outcome"}))

	if err == nil {
		MetricSystemEnabled = true
	}
	return err
}

func ListenAndServer(port string, url string) {
	hh := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	s := xhttp.CreateServer()
	s.GET(url, hh)
	logger.Info("[metrics-server] listening...", "url", url, "addr", port)
	if err := s.ListenAndServe(port); err != nil {
		logger.Panic("[metrics-server] http listen error", "error", err)
	}
}

func createCounterVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionCounterVec[subsystem+name] = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
	}, labels)
	return prometheus.Register(MetricCollectionCounterVec[subsystem+name])
}

func createHistogramVec(subsystem, name string, labels []string) error {
	lockCreateMetricLock.Lock()
	defer lockCreateMetricLock.Unlock()
	MetricCollectionHistogramVec[subsystem+name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        "",
		ConstLabels: defaultLabels,
		Buckets:     prometheus.DefBuckets,
	}, labels)
	return prometheus.Register(MetricCollectionHistogramVec[subsystem+name])
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionCounterVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if v, ok := MetricCollectionHistogramVec[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func AddPaymentInitiation(outcome string) {
	IncCounterVec(SystemPayment, MetricPaymentInitiations, outcome)
}

func AddPaymentCallback(outcome string) {
	IncCounterVec(SystemPayment, MetricPaymentCallbacks, outcome)
}

func AddOrphanReplay(outcome string) {
	IncCounterVec(SystemPayment, MetricPaymentOrphansReplay, outcome)
}

func AddGatewayRequestDuration(seconds float64, endpoint, outcome string) {
	AddHistogramVec(SystemGateway, MetricGatewayRequestSeconds, seconds, endpoint, outcome)
}
