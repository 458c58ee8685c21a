package analytics

import (
	"fmt"
)

// AnomalyType categorizes a flagged day.
type AnomalyType string

const (
	AnomalySpike AnomalyType = "spike"
	AnomalyDrop  AnomalyType = "drop"
)

// Severity indicates how far a day strays from the mean.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Thresholds relative to the mean daily event count.
const (
	SpikeFactor         = 2.0
	DropFactor          = 0.5
	CriticalSpikeFactor = 5.0
)

// MetricEvents is the only metric anomalies are computed for.
const MetricEvents = "events"

// Anomaly is a day whose event count crosses a threshold.
type Anomaly struct {
	Date        string      `json:"date"`
	Type        AnomalyType `json:"type"`
	Metric      string      `json:"metric"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
}

// DetectAnomalies flags days above SpikeFactor x mean or below
// DropFactor x mean. Nothing is flagged when the mean is zero.
func DetectAnomalies(series []DailyPoint) []Anomaly {
	anomalies := []Anomaly{}
	if len(series) == 0 {
		return anomalies
	}

	var sum int64
	for _, p := range series {
		sum += p.Events
	}
	mean := float64(sum) / float64(len(series))
	if mean <= 0 {
		return anomalies
	}

	for _, p := range series {
		v := float64(p.Events)
		switch {
		case v > mean*SpikeFactor:
			sev := SeverityWarning
			if v > mean*CriticalSpikeFactor {
				sev = SeverityCritical
			}
			anomalies = append(anomalies, Anomaly{
				Date:        p.Date,
				Type:        AnomalySpike,
				Metric:      MetricEvents,
				Severity:    sev,
				Description: fmt.Sprintf("Events spike: %d (avg: %d)", p.Events, int64(mean)),
			})
		case v < mean*DropFactor:
			anomalies = append(anomalies, Anomaly{
				Date:        p.Date,
				Type:        AnomalyDrop,
				Metric:      MetricEvents,
				Severity:    SeverityWarning,
				Description: fmt.Sprintf("Events drop: %d (avg: %d)", p.Events, int64(mean)),
			})
		}
	}
	return anomalies
}
