package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auditrisk/pkg/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 1.0, cfg.Analysis.Weights.Geo+cfg.Analysis.Weights.Operation+cfg.Analysis.Weights.Temporal, 1e-9)
	assert.Equal(t, 0.7, cfg.Analysis.Thresholds.High)
	assert.Equal(t, 0.4, cfg.Analysis.Thresholds.Medium)
	assert.Equal(t, 900.0, cfg.Analysis.MaxTravelSpeedKmh)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
geoip:
  city_path: /data/GeoLite2-City.mmdb
kafka:
  brokers: [kafka-1:9092, kafka-2:9092]
security:
  private_networks: [100.64.0.0/10]
  known_ips:
    - ip: 198.51.100.7
      label: HQ VPN
      country: US
      city: Boston
      latitude: 42.36
      longitude: -71.06
analysis:
  high_risk_countries: [RU]
  frequency_threshold: 10
  failed_login_window: 15m
  business_hours:
    start: 9
    end: 17
    timezone: "+08:00"
  weights:
    geo: 0.5
    operation: 0.3
    temporal: 0.2
  operation_risk_table:
    FileDeleted: 0.95
  compromise_rules:
    - name: spread
      kind: user_ip_spread
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "audit-batches", cfg.Kafka.InputTopic)
	assert.Equal(t, []string{"100.64.0.0/10"}, cfg.Security.PrivateNetworks)
	require.Len(t, cfg.Security.KnownIPs, 1)
	assert.Equal(t, "HQ VPN", cfg.Security.KnownIPs[0].Label)
	assert.Equal(t, 42.36, cfg.Security.KnownIPs[0].Latitude)

	a := cfg.Analysis
	assert.Equal(t, []string{"RU"}, a.HighRiskCountries)
	assert.Equal(t, 10, a.FrequencyThreshold)
	assert.Equal(t, 15*time.Minute, a.FailedLoginWindow)
	assert.Equal(t, BusinessHours{Start: 9, End: 17, Timezone: "+08:00"}, a.BusinessHours)
	assert.Equal(t, Weights{Geo: 0.5, Operation: 0.3, Temporal: 0.2}, a.Weights)
	assert.Equal(t, 0.95, a.OperationRiskTable["filedeleted"])
	require.Len(t, a.CompromiseRules, 1)
	assert.Equal(t, RuleKindUserIPSpread, a.CompromiseRules[0].Kind)
	// untouched keys keep their defaults
	assert.Equal(t, 0.7, a.Thresholds.High)
	assert.Equal(t, []string{"Saturday", "Sunday"}, a.WeekendDays)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"weights do not sum to one", func(c *Config) { c.Analysis.Weights = Weights{0.5, 0.5, 0.5} }, "analysis.weights"},
		{"negative weight", func(c *Config) { c.Analysis.Weights = Weights{1.2, -0.2, 0} }, "analysis.weights"},
		{"nan weight", func(c *Config) { c.Analysis.Weights = Weights{math.NaN(), 0.5, 0.5} }, "analysis.weights"},
		{"nan weights everywhere", func(c *Config) { c.Analysis.Weights = Weights{math.NaN(), math.NaN(), math.NaN()} }, "analysis.weights"},
		{"thresholds inverted", func(c *Config) { c.Analysis.Thresholds = Thresholds{High: 0.4, Medium: 0.7} }, "analysis.thresholds"},
		{"thresholds equal", func(c *Config) { c.Analysis.Thresholds = Thresholds{High: 0.5, Medium: 0.5} }, "analysis.thresholds"},
		{"risk table out of range", func(c *Config) { c.Analysis.OperationRiskTable["filedeleted"] = 1.5 }, "analysis.operation_risk_table.filedeleted"},
		{"geo risk out of range", func(c *Config) { c.Analysis.GeoRisk.High = 2 }, "analysis.geo_risk.high"},
		{"bad country", func(c *Config) { c.Analysis.HighRiskCountries = []string{"Russia"} }, "analysis.high_risk_countries"},
		{"frequency zero", func(c *Config) { c.Analysis.FrequencyThreshold = 0 }, "analysis.frequency_threshold"},
		{"speed zero", func(c *Config) { c.Analysis.MaxTravelSpeedKmh = 0 }, "analysis.max_travel_speed_kmh"},
		{"speed infinite", func(c *Config) { c.Analysis.MaxTravelSpeedKmh = math.Inf(1) }, "analysis.max_travel_speed_kmh"},
		{"empty business window", func(c *Config) { c.Analysis.BusinessHours.End = c.Analysis.BusinessHours.Start }, "analysis.business_hours"},
		{"bad timezone", func(c *Config) { c.Analysis.BusinessHours.Timezone = "Mars/Olympus" }, "analysis.business_hours.timezone"},
		{"bad weekday", func(c *Config) { c.Analysis.WeekendDays = []string{"Caturday"} }, "analysis.weekend_days"},
		{"bad flag", func(c *Config) { c.Analysis.AnomalousFlags = []string{"Weird"} }, "analysis.anomalous_flags"},
		{"bad cidr", func(c *Config) { c.Security.PrivateNetworks = []string{"10.0.0.0/99"} }, "security.private_networks"},
		{"unknown rule kind", func(c *Config) {
			c.Analysis.CompromiseRules = append(c.Analysis.CompromiseRules, RuleSpec{Name: "x", Kind: "magic"})
		}, "analysis.compromise_rules[3]"},
		{"empty condition", func(c *Config) {
			c.Analysis.CompromiseRules = []RuleSpec{{Name: "x", Kind: RuleKindCondition}}
		}, "analysis.compromise_rules[0]"},
		{"duplicate rule", func(c *Config) {
			c.Analysis.CompromiseRules = append(c.Analysis.CompromiseRules, c.Analysis.CompromiseRules[0])
		}, "analysis.compromise_rules[3]"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cfgErr *models.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestNormalizeCIDR(t *testing.T) {
	assert.Equal(t, "10.1.2.3/32", NormalizeCIDR("10.1.2.3"))
	assert.Equal(t, "2001:db8::1/128", NormalizeCIDR("2001:db8::1"))
	assert.Equal(t, "fd00::/8", NormalizeCIDR(" fd00::/8 "))
	assert.Equal(t, "172.16.0.0/12", NormalizeCIDR("172.16.0.0/12"))
}

func TestValidateAcceptsBareAddresses(t *testing.T) {
	cfg := Defaults()
	cfg.Security.PrivateNetworks = []string{"203.0.113.9", "2001:db8::1", "fd00::/8"}
	assert.NoError(t, cfg.Validate())
}

func TestInit(t *testing.T) {
	t.Cleanup(func() { GlobalConfig = Config{} })

	path := writeConfig(t, `
analysis:
  frequency_threshold: 7
`)
	require.NoError(t, Init(path))
	assert.Equal(t, 7, GlobalConfig.Analysis.FrequencyThreshold)
	assert.Equal(t, 900.0, GlobalConfig.Analysis.MaxTravelSpeedKmh)

	bad := writeConfig(t, `
analysis:
  weights:
    geo: 0.9
    operation: 0.9
    temporal: 0.9
`)
	err := Init(bad)
	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "analysis.weights", cfgErr.Field)
	assert.Equal(t, 7, GlobalConfig.Analysis.FrequencyThreshold, "a rejected file leaves the previous config in place")
}

func TestResolveTimezone(t *testing.T) {
	loc, auto, err := ResolveTimezone("+05:30")
	require.NoError(t, err)
	assert.False(t, auto)
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 5*3600+30*60, offset)

	loc, _, err = ResolveTimezone("UTC-8")
	require.NoError(t, err)
	_, offset = time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, -8*3600, offset)

	_, auto, err = ResolveTimezone("auto")
	require.NoError(t, err)
	assert.True(t, auto)

	_, _, err = ResolveTimezone("+20:00")
	assert.Error(t, err)
}

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays([]string{"sat", "Sunday"})
	require.NoError(t, err)
	assert.True(t, days[time.Saturday])
	assert.True(t, days[time.Sunday])
	assert.False(t, days[time.Monday])
}
