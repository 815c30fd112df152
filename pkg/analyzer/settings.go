package analyzer

import (
	"strings"
	"time"

	"go-auditrisk/pkg/config"
	"go-auditrisk/pkg/models"
)

// settings is config.Analysis compiled into lookup tables. Operation and
// status names are lower-cased.
type settings struct {
	highRisk   map[string]bool
	mediumRisk map[string]bool
	home       map[string]bool
	geoRisk    config.GeoRisk

	operationRisk        map[string]float64
	defaultOperationRisk float64
	highSeverity         map[string]bool
	failureStatuses      map[string]bool
	failedOperations     map[string]bool

	frequencyThreshold int
	maxTravelSpeedKmh  float64
	failedLoginWindow  time.Duration
	maxUserIPs         int

	hoursStart   int
	hoursEnd     int
	location     *time.Location
	autoTimezone bool
	weekend      map[time.Weekday]bool
	offHoursRisk float64
	weekendRisk  float64

	weights    config.Weights
	thresholds config.Thresholds

	anomalousFlags models.AnomalyFlags
}

func compile(a config.Analysis) (*settings, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	loc, auto, _ := config.ResolveTimezone(a.BusinessHours.Timezone)
	weekend, _ := config.ParseWeekdays(a.WeekendDays)
	anomalous, _ := models.ParseAnomalyFlags(a.AnomalousFlags)

	s := &settings{
		highRisk:             set(a.HighRiskCountries, false),
		mediumRisk:           set(a.MediumRiskCountries, false),
		home:                 set(a.HomeCountries, false),
		geoRisk:              a.GeoRisk,
		operationRisk:        make(map[string]float64, len(a.OperationRiskTable)),
		defaultOperationRisk: a.DefaultOperationRisk,
		highSeverity:         set(a.HighSeverityOperations, true),
		failureStatuses:      set(a.FailureStatuses, true),
		failedOperations:     set(a.FailedOperations, true),
		frequencyThreshold:   a.FrequencyThreshold,
		maxTravelSpeedKmh:    a.MaxTravelSpeedKmh,
		failedLoginWindow:    a.FailedLoginWindow,
		maxUserIPs:           a.MaxUserIPs,
		hoursStart:           a.BusinessHours.Start,
		hoursEnd:             a.BusinessHours.End,
		location:             loc,
		autoTimezone:         auto,
		weekend:              weekend,
		offHoursRisk:         a.OffHoursRisk,
		weekendRisk:          a.WeekendRisk,
		weights:              a.Weights,
		thresholds:           a.Thresholds,
		anomalousFlags:       anomalous,
	}
	for op, v := range a.OperationRiskTable {
		s.operationRisk[strings.ToLower(op)] = v
	}
	return s, nil
}

// isFailure reports whether the event records a failed operation.
func (s *settings) isFailure(event *models.Event) bool {
	return s.failureStatuses[strings.ToLower(event.ResultStatus)] ||
		s.failedOperations[strings.ToLower(event.Operation)]
}

func (s *settings) isHighSeverity(operation string) bool {
	return s.highSeverity[strings.ToLower(operation)]
}

func set(values []string, lower bool) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		if lower {
			v = strings.ToLower(v)
		}
		m[v] = true
	}
	return m
}
