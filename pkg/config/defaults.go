package config

import (
	"time"

	"github.com/spf13/viper"
)

// Defaults returns the documented default configuration.
func Defaults() *Config {
	cfg := &Config{}
	cfg.Kafka.InputTopic = "audit-batches"
	cfg.Kafka.ResultTopic = "audit-events-scored"
	cfg.Kafka.SummaryTopic = "audit-batch-summaries"
	cfg.Kafka.GroupID = "audit-risk-analyzer"
	cfg.Webhook.Cooldown = time.Hour
	cfg.Log.Level = "info"
	cfg.Analysis = DefaultAnalysis()
	return cfg
}

// DefaultAnalysis returns the documented default analysis settings.
func DefaultAnalysis() Analysis {
	return Analysis{
		HighRiskCountries:   []string{"RU", "KP", "IR", "SY"},
		MediumRiskCountries: []string{"CN", "NG", "VN", "BR"},
		GeoRisk: GeoRisk{
			High:    1.0,
			Medium:  0.6,
			Low:     0.1,
			Default: 0.1,
		},
		OperationRiskTable: map[string]float64{
			"harddelete":            0.9,
			"softdelete":            0.8,
			"filedeleted":           0.8,
			"movetodeleteditems":    0.7,
			"add-mailboxpermission": 0.8,
			"set-mailbox":           0.7,
			"new-inboxrule":         0.7,
			"set-inboxrule":         0.7,
			"userloginfailed":       0.7,
			"filedownloaded":        0.5,
			"userloggedin":          0.3,
			"fileaccessed":          0.2,
			"mailitemsaccessed":     0.2,
			"filepreviewed":         0.1,
		},
		DefaultOperationRisk: 0.5,
		FrequencyThreshold:   50,
		BusinessHours: BusinessHours{
			Start:    8,
			End:      18,
			Timezone: "UTC",
		},
		WeekendDays:            []string{"Saturday", "Sunday"},
		OffHoursRisk:           0.7,
		WeekendRisk:            0.3,
		Weights:                Weights{Geo: 1.0 / 3, Operation: 1.0 / 3, Temporal: 1.0 / 3},
		Thresholds:             Thresholds{High: 0.7, Medium: 0.4},
		MaxTravelSpeedKmh:      900,
		HighSeverityOperations: []string{"SoftDelete", "HardDelete", "MoveToDeletedItems", "FileDeleted", "Add-MailboxPermission"},
		FailureStatuses:        []string{"Failed", "Failure"},
		FailedOperations:       []string{"UserLoginFailed"},
		FailedLoginWindow:      30 * time.Minute,
		MaxUserIPs:             3,
		AnomalousFlags:         []string{"FrequentIP", "CrossCountryIP", "ImpossibleTravel", "OffHours", "NoLocation"},
		CompromiseRules:        DefaultRules(),
		ChunkSize:              5000,
		Workers:                4,
	}
}

// DefaultRules the compromise rules enabled out of the box. user_ip_spread is
// available but has to be listed explicitly.
func DefaultRules() []RuleSpec {
	return []RuleSpec{
		{
			Name:     "high_risk_new_location",
			Kind:     RuleKindCondition,
			MinLevel: "High",
			AnyFlags: []string{"FirstTimeIP", "CrossCountryIP"},
		},
		{
			Name:             "high_severity_first_time_ip",
			Kind:             RuleKindCondition,
			AnyFlags:         []string{"FirstTimeIP"},
			HighSeverityOnly: true,
		},
		{
			Name: "failed_then_success_cross_country",
			Kind: RuleKindFailedThenSuccess,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.input_topic", d.Kafka.InputTopic)
	v.SetDefault("kafka.result_topic", d.Kafka.ResultTopic)
	v.SetDefault("kafka.summary_topic", d.Kafka.SummaryTopic)
	v.SetDefault("kafka.group_id", d.Kafka.GroupID)
	v.SetDefault("geoip.city_path", "")
	v.SetDefault("geoip.asn_path", "")
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.cooldown", d.Webhook.Cooldown)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.path", "")
	v.SetDefault("security.private_networks", []string{})

	a := d.Analysis
	v.SetDefault("analysis.high_risk_countries", a.HighRiskCountries)
	v.SetDefault("analysis.medium_risk_countries", a.MediumRiskCountries)
	v.SetDefault("analysis.home_countries", []string{})
	v.SetDefault("analysis.geo_risk.high", a.GeoRisk.High)
	v.SetDefault("analysis.geo_risk.medium", a.GeoRisk.Medium)
	v.SetDefault("analysis.geo_risk.low", a.GeoRisk.Low)
	v.SetDefault("analysis.geo_risk.default", a.GeoRisk.Default)
	v.SetDefault("analysis.operation_risk_table", a.OperationRiskTable)
	v.SetDefault("analysis.default_operation_risk", a.DefaultOperationRisk)
	v.SetDefault("analysis.frequency_threshold", a.FrequencyThreshold)
	v.SetDefault("analysis.business_hours.start", a.BusinessHours.Start)
	v.SetDefault("analysis.business_hours.end", a.BusinessHours.End)
	v.SetDefault("analysis.business_hours.timezone", a.BusinessHours.Timezone)
	v.SetDefault("analysis.weekend_days", a.WeekendDays)
	v.SetDefault("analysis.off_hours_risk", a.OffHoursRisk)
	v.SetDefault("analysis.weekend_risk", a.WeekendRisk)
	v.SetDefault("analysis.weights.geo", a.Weights.Geo)
	v.SetDefault("analysis.weights.operation", a.Weights.Operation)
	v.SetDefault("analysis.weights.temporal", a.Weights.Temporal)
	v.SetDefault("analysis.thresholds.high", a.Thresholds.High)
	v.SetDefault("analysis.thresholds.medium", a.Thresholds.Medium)
	v.SetDefault("analysis.max_travel_speed_kmh", a.MaxTravelSpeedKmh)
	v.SetDefault("analysis.high_severity_operations", a.HighSeverityOperations)
	v.SetDefault("analysis.failure_statuses", a.FailureStatuses)
	v.SetDefault("analysis.failed_operations", a.FailedOperations)
	v.SetDefault("analysis.failed_login_window", a.FailedLoginWindow)
	v.SetDefault("analysis.max_user_ips", a.MaxUserIPs)
	v.SetDefault("analysis.anomalous_flags", a.AnomalousFlags)
	v.SetDefault("analysis.chunk_size", a.ChunkSize)
	v.SetDefault("analysis.workers", a.Workers)

	rules := make([]map[string]interface{}, 0, len(a.CompromiseRules))
	for _, r := range a.CompromiseRules {
		rules = append(rules, map[string]interface{}{
			"name":               r.Name,
			"kind":               r.Kind,
			"min_level":          r.MinLevel,
			"any_flags":          r.AnyFlags,
			"operations":         r.Operations,
			"high_severity_only": r.HighSeverityOnly,
		})
	}
	v.SetDefault("analysis.compromise_rules", rules)
}
