package analyzer

import (
	"fmt"
	"strings"

	"go-auditrisk/pkg/config"
	"go-auditrisk/pkg/models"
	"go-auditrisk/pkg/profiler"
)

// Rule a deterministic compromise rule. Rules only read the event and the
// pre-update snapshot, so their evaluation order does not matter.
type Rule interface {
	Name() string
	Evaluate(event *models.Event, snap profiler.Snapshot) bool
}

// conditionRule fires when every configured clause holds.
type conditionRule struct {
	name             string
	minLevel         models.RiskLevel
	anyFlags         models.AnomalyFlags
	operations       map[string]bool
	highSeverityOnly bool
	s                *settings
}

func (r *conditionRule) Name() string { return r.name }

func (r *conditionRule) Evaluate(event *models.Event, _ profiler.Snapshot) bool {
	if r.minLevel != "" && event.RiskLevel.Rank() < r.minLevel.Rank() {
		return false
	}
	if r.anyFlags != 0 && !event.AnomalyFlags.Any(r.anyFlags) {
		return false
	}
	if len(r.operations) > 0 && !r.operations[strings.ToLower(event.Operation)] {
		return false
	}
	if r.highSeverityOnly && !r.s.isHighSeverity(event.Operation) {
		return false
	}
	return true
}

// failedThenSuccessRule fires on a successful event that follows the same
// user's failed event within the window, from a different country.
type failedThenSuccessRule struct {
	name string
	s    *settings
}

func (r *failedThenSuccessRule) Name() string { return r.name }

func (r *failedThenSuccessRule) Evaluate(event *models.Event, snap profiler.Snapshot) bool {
	if event.Failed || snap.User == nil || !snap.User.HasFailure {
		return false
	}
	if event.Timestamp.Sub(snap.User.LastFailureAt) > r.s.failedLoginWindow {
		return false
	}
	country := event.Country()
	return country != "" && snap.User.LastFailureCountry != "" && country != snap.User.LastFailureCountry
}

// userIPSpreadRule fires when the user has been seen from more than
// maxUserIPs addresses, counting this one, and the event comes from a public
// address outside the home countries.
type userIPSpreadRule struct {
	name string
	s    *settings
}

func (r *userIPSpreadRule) Name() string { return r.name }

func (r *userIPSpreadRule) Evaluate(event *models.Event, snap profiler.Snapshot) bool {
	distinct := 1
	if snap.User != nil {
		distinct = len(snap.User.IPs)
		if !snap.User.IPs[event.ClientIP] {
			distinct++
		}
	}
	if distinct <= r.s.maxUserIPs {
		return false
	}
	if event.IPClass != models.IPClassPublic {
		return false
	}
	if len(r.s.home) == 0 {
		return true
	}
	return !r.s.home[event.Country()]
}

func buildRules(specs []config.RuleSpec, s *settings) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		switch spec.Kind {
		case config.RuleKindCondition:
			r := &conditionRule{
				name:             spec.Name,
				operations:       set(spec.Operations, true),
				highSeverityOnly: spec.HighSeverityOnly,
				s:                s,
			}
			if spec.MinLevel != "" {
				level, err := models.ParseRiskLevel(spec.MinLevel)
				if err != nil {
					return nil, err
				}
				r.minLevel = level
			}
			flags, err := models.ParseAnomalyFlags(spec.AnyFlags)
			if err != nil {
				return nil, err
			}
			r.anyFlags = flags
			rules = append(rules, r)
		case config.RuleKindFailedThenSuccess:
			rules = append(rules, &failedThenSuccessRule{name: spec.Name, s: s})
		case config.RuleKindUserIPSpread:
			rules = append(rules, &userIPSpreadRule{name: spec.Name, s: s})
		default:
			return nil, fmt.Errorf("unknown rule kind %q", spec.Kind)
		}
	}
	return rules, nil
}

// Classifier OR-combines the configured rules.
type Classifier struct {
	rules []Rule
}

// Apply marks the event compromised if any rule fires and records which did.
func (c *Classifier) Apply(event *models.Event, snap profiler.Snapshot) {
	var fired []string
	for _, r := range c.rules {
		if r.Evaluate(event, snap) {
			fired = append(fired, r.Name())
		}
	}
	event.Compromised = len(fired) > 0
	event.CompromiseRules = fired
}
