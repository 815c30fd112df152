package config

import (
	"fmt"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go-auditrisk/pkg/models"
)

const weightEpsilon = 1e-6

// TimezoneAuto derives the local offset from the event longitude.
const TimezoneAuto = "auto"

var (
	countryCode = regexp.MustCompile(`^[A-Z]{2}$`)
	fixedOffset = regexp.MustCompile(`^(?:UTC)?([+-])(\d{1,2})(?::?(\d{2}))?$`)
)

// Validate checks the whole configuration and returns a
// *models.ConfigurationError for the first violation found.
func (c *Config) Validate() error {
	for _, entry := range c.Security.PrivateNetworks {
		cidr := NormalizeCIDR(entry)
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return invalid("security.private_networks", "bad CIDR %q", cidr)
		}
	}
	for i, k := range c.Security.KnownIPs {
		if net.ParseIP(k.IP) == nil {
			return invalid(fmt.Sprintf("security.known_ips[%d].ip", i), "bad address %q", k.IP)
		}
		if k.Country != "" && !countryCode.MatchString(k.Country) {
			return invalid(fmt.Sprintf("security.known_ips[%d].country", i), "want ISO 3166 alpha-2, got %q", k.Country)
		}
	}
	if c.Webhook.Cooldown < 0 {
		return invalid("webhook.cooldown", "must not be negative")
	}
	return c.Analysis.Validate()
}

// Validate checks the analysis settings.
func (a *Analysis) Validate() error {
	for _, set := range []struct {
		field string
		codes []string
	}{
		{"high_risk_countries", a.HighRiskCountries},
		{"medium_risk_countries", a.MediumRiskCountries},
		{"home_countries", a.HomeCountries},
	} {
		for _, code := range set.codes {
			if !countryCode.MatchString(code) {
				return invalid("analysis."+set.field, "want ISO 3166 alpha-2, got %q", code)
			}
		}
	}

	for field, v := range map[string]float64{
		"geo_risk.high":          a.GeoRisk.High,
		"geo_risk.medium":        a.GeoRisk.Medium,
		"geo_risk.low":           a.GeoRisk.Low,
		"geo_risk.default":       a.GeoRisk.Default,
		"default_operation_risk": a.DefaultOperationRisk,
		"off_hours_risk":         a.OffHoursRisk,
		"weekend_risk":           a.WeekendRisk,
	} {
		if !unit(v) {
			return invalid("analysis."+field, "%v outside [0,1]", v)
		}
	}
	for op, v := range a.OperationRiskTable {
		if strings.TrimSpace(op) == "" {
			return invalid("analysis.operation_risk_table", "empty operation name")
		}
		if !unit(v) {
			return invalid("analysis.operation_risk_table."+op, "%v outside [0,1]", v)
		}
	}

	w := a.Weights
	if !unit(w.Geo) || !unit(w.Operation) || !unit(w.Temporal) {
		return invalid("analysis.weights", "each weight must be within [0,1], got %v/%v/%v", w.Geo, w.Operation, w.Temporal)
	}
	if sum := w.Geo + w.Operation + w.Temporal; !(math.Abs(sum-1) <= weightEpsilon) {
		return invalid("analysis.weights", "weights sum to %v, want 1", sum)
	}

	t := a.Thresholds
	if !(t.Medium > 0 && t.High > t.Medium && t.High <= 1) {
		return invalid("analysis.thresholds", "need 0 < medium < high <= 1, got medium=%v high=%v", t.Medium, t.High)
	}

	if a.FrequencyThreshold < 1 {
		return invalid("analysis.frequency_threshold", "must be at least 1")
	}
	if !(a.MaxTravelSpeedKmh > 0) || math.IsInf(a.MaxTravelSpeedKmh, 1) {
		return invalid("analysis.max_travel_speed_kmh", "must be positive")
	}
	if a.FailedLoginWindow < 0 {
		return invalid("analysis.failed_login_window", "must not be negative")
	}
	if a.MaxUserIPs < 1 {
		return invalid("analysis.max_user_ips", "must be at least 1")
	}
	if a.ChunkSize < 0 || a.Workers < 0 {
		return invalid("analysis", "chunk_size and workers must not be negative")
	}

	bh := a.BusinessHours
	if bh.Start < 0 || bh.Start > 24 || bh.End < 0 || bh.End > 24 || bh.Start == bh.End {
		return invalid("analysis.business_hours", "need start != end within [0,24], got %d-%d", bh.Start, bh.End)
	}
	if _, _, err := ResolveTimezone(bh.Timezone); err != nil {
		return invalid("analysis.business_hours.timezone", "%v", err)
	}
	if _, err := ParseWeekdays(a.WeekendDays); err != nil {
		return invalid("analysis.weekend_days", "%v", err)
	}
	if _, err := models.ParseAnomalyFlags(a.AnomalousFlags); err != nil {
		return invalid("analysis.anomalous_flags", "%v", err)
	}

	seen := make(map[string]bool)
	for i, r := range a.CompromiseRules {
		field := fmt.Sprintf("analysis.compromise_rules[%d]", i)
		if r.Name == "" {
			return invalid(field, "rule needs a name")
		}
		if seen[r.Name] {
			return invalid(field, "duplicate rule %q", r.Name)
		}
		seen[r.Name] = true
		switch r.Kind {
		case RuleKindCondition:
			if r.MinLevel == "" && len(r.AnyFlags) == 0 && len(r.Operations) == 0 && !r.HighSeverityOnly {
				return invalid(field, "condition rule %q has no clauses", r.Name)
			}
			if r.MinLevel != "" {
				if _, err := models.ParseRiskLevel(r.MinLevel); err != nil {
					return invalid(field, "%v", err)
				}
			}
			if _, err := models.ParseAnomalyFlags(r.AnyFlags); err != nil {
				return invalid(field, "%v", err)
			}
		case RuleKindFailedThenSuccess, RuleKindUserIPSpread:
		default:
			return invalid(field, "unknown rule kind %q", r.Kind)
		}
	}
	return nil
}

// ResolveTimezone turns the configured timezone into a location. The second
// return is true for "auto".
func ResolveTimezone(tz string) (*time.Location, bool, error) {
	switch {
	case tz == "" || strings.EqualFold(tz, "UTC"):
		return time.UTC, false, nil
	case strings.EqualFold(tz, TimezoneAuto):
		return time.UTC, true, nil
	}
	if m := fixedOffset.FindStringSubmatch(tz); m != nil {
		hours, _ := strconv.Atoi(m[2])
		minutes := 0
		if m[3] != "" {
			minutes, _ = strconv.Atoi(m[3])
		}
		if hours > 14 || minutes > 59 {
			return nil, false, fmt.Errorf("offset %q out of range", tz)
		}
		secs := hours*3600 + minutes*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(tz, secs), false, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, false, err
	}
	return loc, false, nil
}

// ParseWeekdays maps English day names (any case, 3-letter abbreviations
// allowed) to weekdays.
func ParseWeekdays(names []string) (map[time.Weekday]bool, error) {
	days := make(map[time.Weekday]bool, len(names))
	for _, name := range names {
		found := false
		for d := time.Sunday; d <= time.Saturday; d++ {
			full := d.String()
			if strings.EqualFold(name, full) || strings.EqualFold(name, full[:3]) {
				days[d] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
	}
	return days, nil
}

// unit is false for NaN.
func unit(v float64) bool {
	return v >= 0 && v <= 1
}

// NormalizeCIDR turns a bare address into a single-host range, /32 for IPv4
// and /128 for IPv6.
func NormalizeCIDR(entry string) string {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		return entry
	}
	if strings.Contains(entry, ":") {
		return entry + "/128"
	}
	return entry + "/32"
}

func invalid(field, format string, args ...interface{}) error {
	return &models.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
