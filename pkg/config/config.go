package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Kafka struct {
		Brokers      []string
		InputTopic   string `mapstructure:"input_topic"`
		ResultTopic  string `mapstructure:"result_topic"`
		SummaryTopic string `mapstructure:"summary_topic"`
		GroupID      string `mapstructure:"group_id"`
	}
	GeoIP struct {
		CityPath string `mapstructure:"city_path"`
		ASNPath  string `mapstructure:"asn_path"`
	}
	Webhook struct {
		URL      string
		Cooldown time.Duration
	}
	Log struct {
		Level string
		Path  string
	}
	Security struct {
		PrivateNetworks []string  `mapstructure:"private_networks"`
		KnownIPs        []KnownIP `mapstructure:"known_ips"`
	}
	Analysis Analysis
}

// KnownIP curated location for an address, consulted before the dataset
type KnownIP struct {
	IP        string
	Label     string
	Country   string
	Region    string
	City      string
	Latitude  float64
	Longitude float64
}

// Analysis every knob of the scoring pipeline. Operation names are matched
// case-insensitively because viper lower-cases map keys.
type Analysis struct {
	HighRiskCountries      []string           `mapstructure:"high_risk_countries"`
	MediumRiskCountries    []string           `mapstructure:"medium_risk_countries"`
	HomeCountries          []string           `mapstructure:"home_countries"`
	GeoRisk                GeoRisk            `mapstructure:"geo_risk"`
	OperationRiskTable     map[string]float64 `mapstructure:"operation_risk_table"`
	DefaultOperationRisk   float64            `mapstructure:"default_operation_risk"`
	FrequencyThreshold     int                `mapstructure:"frequency_threshold"`
	BusinessHours          BusinessHours      `mapstructure:"business_hours"`
	WeekendDays            []string           `mapstructure:"weekend_days"`
	OffHoursRisk           float64            `mapstructure:"off_hours_risk"`
	WeekendRisk            float64            `mapstructure:"weekend_risk"`
	Weights                Weights            `mapstructure:"weights"`
	Thresholds             Thresholds         `mapstructure:"thresholds"`
	MaxTravelSpeedKmh      float64            `mapstructure:"max_travel_speed_kmh"`
	HighSeverityOperations []string           `mapstructure:"high_severity_operations"`
	FailureStatuses        []string           `mapstructure:"failure_statuses"`
	FailedOperations       []string           `mapstructure:"failed_operations"`
	FailedLoginWindow      time.Duration      `mapstructure:"failed_login_window"`
	MaxUserIPs             int                `mapstructure:"max_user_ips"`
	AnomalousFlags         []string           `mapstructure:"anomalous_flags"`
	CompromiseRules        []RuleSpec         `mapstructure:"compromise_rules"`
	ChunkSize              int                `mapstructure:"chunk_size"`
	Workers                int                `mapstructure:"workers"`
}

type GeoRisk struct {
	High    float64
	Medium  float64
	Low     float64
	Default float64
}

// BusinessHours window [Start, End) in local hours. Start > End wraps midnight.
// Timezone is an IANA name, a fixed offset like "+08:00", or "auto" to derive
// the offset from the event longitude.
type BusinessHours struct {
	Start    int
	End      int
	Timezone string
}

type Weights struct {
	Geo       float64
	Operation float64
	Temporal  float64
}

type Thresholds struct {
	High   float64
	Medium float64
}

// Rule kinds understood by the compromise classifier
const (
	RuleKindCondition         = "condition"
	RuleKindFailedThenSuccess = "failed_then_success"
	RuleKindUserIPSpread      = "user_ip_spread"
)

// RuleSpec one compromise rule. Condition rules fire when every configured
// clause holds; empty clauses are ignored.
type RuleSpec struct {
	Name             string
	Kind             string
	MinLevel         string   `mapstructure:"min_level"`
	AnyFlags         []string `mapstructure:"any_flags"`
	Operations       []string
	HighSeverityOnly bool `mapstructure:"high_severity_only"`
}

var GlobalConfig Config

// Init loads and validates the config at path and installs it as
// GlobalConfig. On error GlobalConfig is left unchanged.
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	GlobalConfig = *cfg
	return nil
}

// Load reads the config file at path, or config.yaml from ./config and . when
// path is empty. A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AUDITRISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
