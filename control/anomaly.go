package control

import (
	"log/slog"

	"github.com/FerroO2000/nanostage/internal/telemetry"
)

type anomaly struct {
	field    string
	reason   string
	actual   any
	fallback any
}

// AnomalyCollector accumulates configuration values that were replaced by
// their fallbacks during validation.
type AnomalyCollector struct {
	anomalies []*anomaly
}

// Add records one anomaly.
func (ac *AnomalyCollector) Add(field, reason string, actual, fallback any) {
	ac.anomalies = append(ac.anomalies, &anomaly{
		field:    field,
		reason:   reason,
		actual:   actual,
		fallback: fallback,
	})
}

// Empty reports whether no anomaly was collected.
func (ac *AnomalyCollector) Empty() bool {
	return len(ac.anomalies) == 0
}

// LogAll emits one warning per collected anomaly.
func (ac *AnomalyCollector) LogAll(tel *telemetry.Telemetry) {
	for _, a := range ac.anomalies {
		tel.LogWarn("config anomaly, falling back",
			slog.String("field", a.field),
			slog.String("reason", a.reason),
			slog.Any("actual", a.actual),
			slog.Any("fallback", a.fallback),
		)
	}
}
