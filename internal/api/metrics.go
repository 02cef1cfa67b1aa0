package api

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/fourheat-core/internal/controller"
	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

const metricsNamespace = "fourheat"

// Metrics holds the Prometheus collectors for one stove.
//
// It uses its own registry rather than the global default so tests and
// multiple servers never collide.
type Metrics struct {
	registry *prometheus.Registry

	stato       prometheus.Gauge
	errore      prometheus.Gauge
	statoCrono  prometheus.Gauge
	setpoint    prometheus.Gauge
	temperature *prometheus.GaugeVec
	sensor      *prometheus.GaugeVec

	polls        *prometheus.CounterVec
	pollDuration prometheus.Histogram
	failures     prometheus.Gauge
	suspended    prometheus.Gauge
	lastSuccess  prometheus.Gauge
}

// NewMetrics builds and registers the stove collectors.
//
// Parameters:
//   - deviceID: Constant device_id label
//   - wsClients: Reports connected WebSocket clients at scrape time
func NewMetrics(deviceID string, wsClients func() float64) *Metrics {
	labels := prometheus.Labels{"device_id": deviceID}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "stove",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		registry:   prometheus.NewRegistry(),
		stato:      gauge("stato", "Operating mode code (0 off .. 9 blocked)."),
		errore:     gauge("errore", "Error code, 0 when none."),
		statoCrono: gauge("stato_crono", "Raw schedule state byte."),
		setpoint:   gauge("setpoint_celsius", "Target temperature."),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "stove",
			Name:        "temperature_celsius",
			Help:        "Probe temperature.",
			ConstLabels: labels,
		}, []string{"probe"}),
		sensor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "stove",
			Name:        "sensor_value",
			Help:        "Sensor reading scaled by the decimal position.",
			ConstLabels: labels,
		}, []string{"sensor_id"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "poll",
			Name:        "total",
			Help:        "Status polls by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "poll",
			Name:        "duration_seconds",
			Help:        "Status poll round-trip time.",
			ConstLabels: labels,
			Buckets:     []float64{0.25, 0.5, 0.75, 1, 2, 5, 10},
		}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "poll",
			Name:        "consecutive_failures",
			Help:        "Failed polls since the last success.",
			ConstLabels: labels,
		}),
		suspended: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "poll",
			Name:        "suspended",
			Help:        "1 while regular polling is suspended.",
			ConstLabels: labels,
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "poll",
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time of the last successful poll.",
			ConstLabels: labels,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.stato, m.errore, m.statoCrono, m.setpoint, m.temperature, m.sensor,
		m.polls, m.pollDuration, m.failures, m.suspended, m.lastSuccess,
	)
	if wsClients != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}, wsClients))
	}
	return m
}

// Observe records one poll outcome.
func (m *Metrics) Observe(result controller.PollResult) {
	m.pollDuration.Observe(result.Duration.Seconds())
	m.failures.Set(float64(result.Failures))
	m.suspended.Set(boolGauge(result.Suspended))

	state := result.State
	if state == nil {
		m.polls.WithLabelValues("error").Inc()
		return
	}
	m.polls.WithLabelValues("ok").Inc()
	m.lastSuccess.Set(float64(state.LastUpdate.Unix()))

	m.stato.Set(float64(state.Stato))
	m.errore.Set(float64(state.Errore))
	m.statoCrono.Set(float64(state.StatoCrono))
	m.temperature.WithLabelValues("principal").Set(state.TempPrinc)
	m.temperature.WithLabelValues("secondary").Set(state.TempSec)
	if sp, ok := state.Parameters[pinkey.ParamTempSetpoint]; ok {
		m.setpoint.Set(sp.Value)
	}
	for id, sv := range state.Sensors {
		m.sensor.WithLabelValues(fmt.Sprintf("%04x", id)).Set(pinkey.ApplyPosPunto(sv.Valore, state.PosPunto))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
