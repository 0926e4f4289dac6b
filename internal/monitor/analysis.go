package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/mtzanidakis/swarmlab/internal/config"
)

// trendThreshold is the |slope| above which a series counts as moving.
const trendThreshold = 0.1

// slope is the ordinary least-squares slope of ys against 0..n-1.
func slope(ys []float64) float64 {
	n := float64(len(ys))
	if n < 2 {
		return 0
	}
	var sx, sy, sxy, sxx float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxy += x * y
		sxx += x * x
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}

func trendOf(ys []float64) Trend {
	s := slope(ys)
	dir := TrendStable
	switch {
	case s > trendThreshold:
		dir = TrendIncreasing
	case s < -trendThreshold:
		dir = TrendDecreasing
	}
	return Trend{Slope: s, Direction: dir}
}

// computeTrends runs over window, oldest first.
func computeTrends(window []Aggregates) Trends {
	if len(window) < 2 {
		return Trends{Status: StatusInsufficientData, Samples: len(window)}
	}
	eff := make([]float64, len(window))
	thr := make([]float64, len(window))
	errs := make([]float64, len(window))
	res := make([]float64, len(window))
	for i, a := range window {
		eff[i] = a.AverageEfficiency
		thr[i] = a.TotalThroughput
		errs[i] = a.ErrorRate
		res[i] = a.ResourceUsage
	}
	return Trends{
		Status:        "ok",
		Samples:       len(window),
		Efficiency:    trendOf(eff),
		Throughput:    trendOf(thr),
		ErrorRate:     trendOf(errs),
		ResourceUsage: trendOf(res),
	}
}

func detectAnomalies(swarms []SwarmMetrics, th config.Thresholds) []Anomaly {
	out := []Anomaly{}
	for _, m := range swarms {
		if m.Efficiency < th.EfficiencyCritical {
			out = append(out, Anomaly{Type: AnomalyCriticalEfficiency, SwarmID: m.SwarmID, Severity: SeverityCritical, Value: m.Efficiency, Threshold: th.EfficiencyCritical})
		}
		if m.Backlog > th.BacklogCritical {
			out = append(out, Anomaly{Type: AnomalyCriticalBacklog, SwarmID: m.SwarmID, Severity: SeverityCritical, Value: float64(m.Backlog), Threshold: float64(th.BacklogCritical)})
		}
		if m.Utilization > th.UtilizationCritical {
			out = append(out, Anomaly{Type: AnomalyHighUtilization, SwarmID: m.SwarmID, Severity: SeverityWarning, Value: m.Utilization, Threshold: th.UtilizationCritical})
		}
		if m.ErrorRate > th.ErrorRateCritical {
			out = append(out, Anomaly{Type: AnomalyHighErrorRate, SwarmID: m.SwarmID, Severity: SeverityCritical, Value: m.ErrorRate, Threshold: th.ErrorRateCritical})
		}
	}
	return out
}

// predict is a heuristic: linear clearance of the backlog at the current
// throughput, linear extrapolation of resource usage to 100% and a
// degradation flag from unfavourable trends.
func predict(window []time.Time, agg Aggregates, trends Trends) Predictions {
	var p Predictions

	p.Backlog.Backlog = agg.Backlog
	switch {
	case agg.Backlog == 0:
		p.Backlog.Status = "clear"
	case agg.TotalThroughput <= 0:
		p.Backlog.Status = StatusInsufficientData
	default:
		p.Backlog.Status = "ok"
		p.Backlog.ClearTime = time.Duration(float64(agg.Backlog) / agg.TotalThroughput * float64(time.Second))
	}

	p.Exhaustion.Current = agg.ResourceUsage
	step := meanInterval(window)
	switch {
	case trends.Status == StatusInsufficientData || step <= 0:
		p.Exhaustion.Status = StatusInsufficientData
	case trends.ResourceUsage.Slope <= 0:
		p.Exhaustion.Status = TrendStable
	default:
		p.Exhaustion.Status = "rising"
		steps := math.Max(0, 100-agg.ResourceUsage) / trends.ResourceUsage.Slope
		p.Exhaustion.ETA = time.Duration(steps * float64(step))
	}

	p.Degradation.Factors = []string{}
	if trends.Status == StatusInsufficientData {
		return p
	}
	if trends.Efficiency.Direction == TrendDecreasing {
		p.Degradation.Factors = append(p.Degradation.Factors, "efficiency declining")
		p.Degradation.EstimatedImpact += math.Abs(trends.Efficiency.Slope) * 10
	}
	if trends.ErrorRate.Direction == TrendIncreasing {
		p.Degradation.Factors = append(p.Degradation.Factors, "error rate rising")
		p.Degradation.EstimatedImpact += math.Abs(trends.ErrorRate.Slope) * 10
	}
	p.Degradation.AtRisk = len(p.Degradation.Factors) > 0
	p.Degradation.EstimatedImpact = math.Min(100, p.Degradation.EstimatedImpact)
	return p
}

func meanInterval(ts []time.Time) time.Duration {
	if len(ts) < 2 {
		return 0
	}
	return ts[len(ts)-1].Sub(ts[0]) / time.Duration(len(ts)-1)
}

func recommendations(anomalies []Anomaly, p Predictions) []string {
	out := []string{}
	for _, a := range anomalies {
		switch a.Type {
		case AnomalyCriticalEfficiency:
			out = append(out, fmt.Sprintf("%s: efficiency %.0f%% is critical, request assistance", a.SwarmID, a.Value))
		case AnomalyCriticalBacklog:
			out = append(out, fmt.Sprintf("%s: backlog of %.0f tasks, add agents or redistribute", a.SwarmID, a.Value))
		case AnomalyHighUtilization:
			out = append(out, fmt.Sprintf("%s: utilization %.0f%%, no spare capacity", a.SwarmID, a.Value))
		case AnomalyHighErrorRate:
			out = append(out, fmt.Sprintf("%s: error rate %.1f%%, investigate failing agents", a.SwarmID, a.Value))
		}
	}
	if p.Degradation.AtRisk {
		out = append(out, fmt.Sprintf("performance degradation risk (impact %.1f)", p.Degradation.EstimatedImpact))
	}
	return out
}
