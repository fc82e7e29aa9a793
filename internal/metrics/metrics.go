// Package metrics is a small counter/gauge facade over
// github.com/prometheus/client_golang: named metrics scoped by label
// maps, registered once in a package-level registry and served on a
// dedicated scrape port.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.Mutex
	counters = make(map[string]*prometheus.CounterVec)
	gauges   = make(map[string]*prometheus.GaugeVec)
	registry = prometheus.NewRegistry()
)

// Counter is a monotonic increment-only metric.
type Counter interface {
	Inc(delta ...int64)
}

// Gauge matches metrics2.Int64Metric's call-site shape.
type Gauge interface {
	Update(v float64)
}

type boundCounter struct {
	c prometheus.Counter
}

func (b boundCounter) Inc(delta ...int64) {
	n := int64(1)
	if len(delta) > 0 {
		n = delta[0]
	}
	b.c.Add(float64(n))
}

type boundGauge struct {
	g prometheus.Gauge
}

func (b boundGauge) Update(v float64) { b.g.Set(v) }

// GetCounter returns (creating if necessary) the named counter scoped by
// labels, matching metrics2.GetCounter(name, tags).
func GetCounter(name string, labels map[string]string) Counter {
	mu.Lock()
	defer mu.Unlock()
	cv, ok := counters[name]
	if !ok {
		cv = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, labelNames(labels))
		registry.MustRegister(cv)
		counters[name] = cv
	}
	return boundCounter{c: cv.With(labels)}
}

// GetGauge returns (creating if necessary) the named gauge scoped by
// labels, matching metrics2.GetInt64Metric.
func GetGauge(name string, labels map[string]string) Gauge {
	mu.Lock()
	defer mu.Unlock()
	gv, ok := gauges[name]
	if !ok {
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, labelNames(labels))
		registry.MustRegister(gv)
		gauges[name] = gv
	}
	return boundGauge{g: gv.With(labels)}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

// Handler returns the /metrics scrape endpoint for the process's
// registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve starts a dedicated HTTP server exposing Handler on addr, so the
// scrape port never competes with the main listener. The caller shuts it
// down via the returned *http.Server.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
