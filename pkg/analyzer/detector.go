package analyzer

import (
	"math"
	"time"

	"go-auditrisk/pkg/geo"
	"go-auditrisk/pkg/models"
	"go-auditrisk/pkg/profiler"
)

// Temporal local-time facts about an event
type Temporal struct {
	OutsideHours bool
	Weekend      bool
}

// Detector evaluates anomaly predicates against pre-update profile state.
type Detector struct {
	s *settings
}

// Detect returns the flags raised for event. snap must be taken before the
// event is recorded.
func (d *Detector) Detect(event *models.Event, snap profiler.Snapshot) (models.AnomalyFlags, Temporal) {
	var flags models.AnomalyFlags

	if snap.FirstForIP() {
		flags.Set(models.FlagFirstTimeIP)
	}

	prior := 0
	if snap.IP != nil {
		prior = snap.IP.EventCount
	}
	if prior+1 > d.s.frequencyThreshold {
		flags.Set(models.FlagFrequentIP)
	}

	if d.crossCountry(event, snap) {
		flags.Set(models.FlagCrossCountryIP)
	}

	if d.impossibleTravel(event, snap) {
		flags.Set(models.FlagImpossibleTravel)
	}

	temporal := d.temporal(event)
	if temporal.OutsideHours || temporal.Weekend {
		flags.Set(models.FlagOffHours)
	}
	return flags, temporal
}

// crossCountry fires when the address already resolved to some country and
// now resolves to one it has not been seen in.
func (d *Detector) crossCountry(event *models.Event, snap profiler.Snapshot) bool {
	if event.IPClass == models.IPClassPrivate || snap.IP == nil {
		return false
	}
	country := event.Country()
	if country == "" || len(snap.IP.CountriesSeen) == 0 {
		return false
	}
	return !snap.IP.HasCountry(country)
}

// impossibleTravel compares the event with the same user's previous event.
// Both need a resolved location in different countries, and the elapsed time
// must be shorter than the great-circle distance allows at the maximum speed.
func (d *Detector) impossibleTravel(event *models.Event, snap profiler.Snapshot) bool {
	if snap.User == nil || snap.User.LastLocation == nil || event.Geolocation == nil {
		return false
	}
	prev := snap.User.LastLocation
	cur := event.Geolocation
	if prev.Country == "" || cur.Country == "" || prev.Country == cur.Country {
		return false
	}

	distance := geo.DistanceKm(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
	minHours := distance / d.s.maxTravelSpeedKmh
	elapsed := event.Timestamp.Sub(snap.User.LastEventAt).Hours()
	return elapsed < minHours
}

func (d *Detector) temporal(event *models.Event) Temporal {
	loc := d.s.location
	if d.s.autoTimezone && event.Geolocation != nil {
		offset := int(math.Round(event.Geolocation.Longitude/15)) * 3600
		loc = time.FixedZone("", offset)
	}
	local := event.Timestamp.In(loc)

	hour := local.Hour()
	var inside bool
	if d.s.hoursStart < d.s.hoursEnd {
		inside = hour >= d.s.hoursStart && hour < d.s.hoursEnd
	} else {
		inside = hour >= d.s.hoursStart || hour < d.s.hoursEnd
	}

	return Temporal{
		OutsideHours: !inside,
		Weekend:      d.s.weekend[local.Weekday()],
	}
}
