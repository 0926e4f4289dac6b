package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter publishes the latest collection as Prometheus gauges on its own
// registry.
type Exporter struct {
	registry *prometheus.Registry

	efficiency  *prometheus.GaugeVec
	health      *prometheus.GaugeVec
	backlog     *prometheus.GaugeVec
	utilization *prometheus.GaugeVec
	alerts      prometheus.Gauge
	collections prometheus.Counter
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		efficiency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarmlab_swarm_efficiency_percent",
			Help: "Swarm efficiency, 0-100",
		}, []string{"swarm"}),
		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarmlab_swarm_health_percent",
			Help: "Swarm health, 0-100",
		}, []string{"swarm"}),
		backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarmlab_swarm_backlog_tasks",
			Help: "Tasks assigned but not completed",
		}, []string{"swarm"}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "swarmlab_swarm_utilization_percent",
			Help: "Share of working agents",
		}, []string{"swarm"}),
		alerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarmlab_active_alerts",
			Help: "Number of active alerts",
		}),
		collections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarmlab_collections_total",
			Help: "Metric collections performed",
		}),
	}
	e.registry.MustRegister(e.efficiency, e.health, e.backlog, e.utilization, e.alerts, e.collections)
	return e
}

// Observe records one collection.
func (e *Exporter) Observe(ps PerformanceSnapshot, activeAlerts int) {
	for id, r := range ps.Swarms {
		e.efficiency.WithLabelValues(id).Set(r.Efficiency)
		e.health.WithLabelValues(id).Set(r.Health)
		e.backlog.WithLabelValues(id).Set(float64(r.Backlog))
		e.utilization.WithLabelValues(id).Set(r.Utilization)
	}
	e.alerts.Set(float64(activeAlerts))
	e.collections.Inc()
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
