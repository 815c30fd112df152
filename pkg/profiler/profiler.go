// Package profiler keeps per-ip and per-user history for one batch.
//
// Events must be presented in ascending timestamp order. For every event the
// caller first takes a Snapshot (pre-update state), evaluates whatever it needs
// against it, then calls Record. A Profiler is not safe for concurrent use; each
// batch owns its own.
package profiler

import (
	"fmt"
	"time"

	"go-auditrisk/pkg/models"
)

// UserState per-user history
type UserState struct {
	UserID       string
	EventCount   int
	LastEventAt  time.Time
	LastLocation *models.Geolocation
	IPs          map[string]bool

	HasFailure         bool
	LastFailureAt      time.Time
	LastFailureCountry string
}

// Snapshot pre-update view for one event. IP and User are nil when this is
// the first event for the address or user. User is always nil for events
// without a user id. The views are read-only and only
// valid until the matching Record call.
type Snapshot struct {
	IP   *models.IPProfile
	User *UserState
}

// FirstForIP reports whether the address had no events before this one.
func (s Snapshot) FirstForIP() bool {
	return s.IP == nil || s.IP.EventCount == 0
}

type Profiler struct {
	ips     map[string]*models.IPProfile
	users   map[string]*UserState
	last    time.Time
	records int
}

func New() *Profiler {
	return &Profiler{
		ips:   make(map[string]*models.IPProfile),
		users: make(map[string]*UserState),
	}
}

// Snapshot returns the pre-update state for event. It fails with
// *models.InvariantViolation when the event is older than the last recorded one.
func (p *Profiler) Snapshot(event *models.Event) (Snapshot, error) {
	if err := p.checkOrder(event); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		IP:   p.ips[event.ClientIP],
		User: p.user(event.UserID),
	}, nil
}

// Record folds event into the profiles.
func (p *Profiler) Record(event *models.Event) error {
	if err := p.checkOrder(event); err != nil {
		return err
	}

	prof, ok := p.ips[event.ClientIP]
	if !ok {
		prof = &models.IPProfile{
			IP:            event.ClientIP,
			FirstSeenAt:   event.Timestamp,
			CountriesSeen: make(map[string]bool),
			UsersSeen:     make(map[string]bool),
		}
		p.ips[event.ClientIP] = prof
	}
	prof.EventCount++
	if country := event.Country(); country != "" && event.IPClass != models.IPClassPrivate {
		prof.CountriesSeen[country] = true
	}
	if event.UserID != "" {
		prof.UsersSeen[event.UserID] = true
	}
	prof.LastSeenAt = event.Timestamp
	if prof.LastSeenAt.Before(prof.FirstSeenAt) || prof.EventCount <= 0 {
		return &models.InvariantViolation{
			What:   "ip profile",
			Detail: fmt.Sprintf("%s first=%s last=%s count=%d", prof.IP, prof.FirstSeenAt, prof.LastSeenAt, prof.EventCount),
		}
	}

	if event.UserID != "" {
		p.recordUser(event)
	}

	p.last = event.Timestamp
	p.records++
	return nil
}

// anonymous rows are not one user and get no shared state
func (p *Profiler) user(id string) *UserState {
	if id == "" {
		return nil
	}
	return p.users[id]
}

func (p *Profiler) recordUser(event *models.Event) {
	user, ok := p.users[event.UserID]
	if !ok {
		user = &UserState{UserID: event.UserID, IPs: make(map[string]bool)}
		p.users[event.UserID] = user
	}
	user.EventCount++
	user.LastEventAt = event.Timestamp
	user.LastLocation = event.Geolocation
	user.IPs[event.ClientIP] = true
	if event.Failed {
		user.HasFailure = true
		user.LastFailureAt = event.Timestamp
		user.LastFailureCountry = event.Country()
	}
}

func (p *Profiler) checkOrder(event *models.Event) error {
	if p.records > 0 && event.Timestamp.Before(p.last) {
		return &models.InvariantViolation{
			What: "event order",
			Detail: fmt.Sprintf("event %d at %s precedes last processed event at %s",
				event.Sequence, event.Timestamp.Format(time.RFC3339Nano), p.last.Format(time.RFC3339Nano)),
		}
	}
	return nil
}

// Last timestamp recorded so far and whether anything was recorded.
func (p *Profiler) Last() (time.Time, bool) {
	return p.last, p.records > 0
}

// Count of recorded events.
func (p *Profiler) Count() int {
	return p.records
}
