package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// AnomalyFlag a single named anomaly condition
type AnomalyFlag uint16

const (
	FlagFirstTimeIP AnomalyFlag = 1 << iota
	FlagFrequentIP
	FlagCrossCountryIP
	FlagImpossibleTravel
	FlagOffHours
	FlagNoLocation
)

var flagOrder = []AnomalyFlag{
	FlagFirstTimeIP,
	FlagFrequentIP,
	FlagCrossCountryIP,
	FlagImpossibleTravel,
	FlagOffHours,
	FlagNoLocation,
}

var flagNames = map[AnomalyFlag]string{
	FlagFirstTimeIP:      "FirstTimeIP",
	FlagFrequentIP:       "FrequentIP",
	FlagCrossCountryIP:   "CrossCountryIP",
	FlagImpossibleTravel: "ImpossibleTravel",
	FlagOffHours:         "OffHours",
	FlagNoLocation:       "NoLocation",
}

func (f AnomalyFlag) String() string {
	if name, ok := flagNames[f]; ok {
		return name
	}
	return fmt.Sprintf("AnomalyFlag(%d)", uint16(f))
}

// ParseAnomalyFlag resolves a flag by its name.
func ParseAnomalyFlag(name string) (AnomalyFlag, error) {
	for _, f := range flagOrder {
		if flagNames[f] == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown anomaly flag %q", name)
}

// AnomalyFlags set of anomaly flags. Serialized as a list of names in
// declaration order so output is stable.
type AnomalyFlags uint16

func (s AnomalyFlags) Has(f AnomalyFlag) bool {
	return uint16(s)&uint16(f) != 0
}

func (s AnomalyFlags) With(f AnomalyFlag) AnomalyFlags {
	return AnomalyFlags(uint16(s) | uint16(f))
}

func (s *AnomalyFlags) Set(f AnomalyFlag) {
	*s = s.With(f)
}

// Any reports whether at least one flag of other is present.
func (s AnomalyFlags) Any(other AnomalyFlags) bool {
	return uint16(s)&uint16(other) != 0
}

func (s AnomalyFlags) Names() []string {
	names := make([]string, 0, len(flagOrder))
	for _, f := range flagOrder {
		if s.Has(f) {
			names = append(names, flagNames[f])
		}
	}
	return names
}

// FlagsOf builds a set from individual flags.
func FlagsOf(flags ...AnomalyFlag) AnomalyFlags {
	var s AnomalyFlags
	for _, f := range flags {
		s.Set(f)
	}
	return s
}

// ParseAnomalyFlags builds a set from flag names.
func ParseAnomalyFlags(names []string) (AnomalyFlags, error) {
	var s AnomalyFlags
	for _, name := range names {
		f, err := ParseAnomalyFlag(name)
		if err != nil {
			return 0, err
		}
		s.Set(f)
	}
	return s, nil
}

func (s AnomalyFlags) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *AnomalyFlags) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseAnomalyFlags(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RiskLevel discretized risk classification
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// RiskLevels all levels in ascending order
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh}

// Rank orders levels; unknown levels rank below Low.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// ParseRiskLevel accepts Low, Medium or High.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for _, l := range RiskLevels {
		if string(l) == s {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}
