package analyzer

import (
	"math"
	"strings"

	"go-auditrisk/pkg/models"
)

// Scorer combines geographic, operational and temporal factors.
type Scorer struct {
	s *settings
}

// Factors computes the three factor scores, each in [0,1].
func (sc *Scorer) Factors(event *models.Event, temporal Temporal) models.RiskFactors {
	return models.RiskFactors{
		Geo:       sc.geoRisk(event),
		Operation: sc.operationRisk(event.Operation),
		Temporal:  sc.temporalRisk(temporal),
	}
}

// Combine weights the factors into a score clamped to [0,1].
func (sc *Scorer) Combine(f models.RiskFactors) float64 {
	w := sc.s.weights
	score := w.Geo*f.Geo + w.Operation*f.Operation + w.Temporal*f.Temporal
	return math.Min(1, math.Max(0, score))
}

// Level maps a score onto a risk level. It depends on the score alone.
func (sc *Scorer) Level(score float64) models.RiskLevel {
	switch {
	case score >= sc.s.thresholds.High:
		return models.RiskHigh
	case score >= sc.s.thresholds.Medium:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// Apply fills in factors, score and level on the event.
func (sc *Scorer) Apply(event *models.Event, temporal Temporal) {
	event.Factors = sc.Factors(event, temporal)
	event.RiskScore = sc.Combine(event.Factors)
	event.RiskLevel = sc.Level(event.RiskScore)
}

func (sc *Scorer) geoRisk(event *models.Event) float64 {
	country := event.Country()
	if event.IPClass == models.IPClassPrivate || country == "" {
		return sc.s.geoRisk.Default
	}
	switch {
	case sc.s.highRisk[country]:
		return sc.s.geoRisk.High
	case sc.s.mediumRisk[country]:
		return sc.s.geoRisk.Medium
	default:
		return sc.s.geoRisk.Low
	}
}

func (sc *Scorer) operationRisk(operation string) float64 {
	if v, ok := sc.s.operationRisk[strings.ToLower(operation)]; ok {
		return v
	}
	return sc.s.defaultOperationRisk
}

// temporalRisk takes the larger of the off-hours and weekend risks; the two
// conditions overlap and are not added. A weekend event inside business hours
// carries the OffHours flag but only the weekend risk.
func (sc *Scorer) temporalRisk(t Temporal) float64 {
	var risk float64
	if t.OutsideHours {
		risk = sc.s.offHoursRisk
	}
	if t.Weekend && sc.s.weekendRisk > risk {
		risk = sc.s.weekendRisk
	}
	return risk
}
