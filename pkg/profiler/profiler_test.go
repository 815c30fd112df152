package profiler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auditrisk/pkg/models"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func event(seq int, offset time.Duration, ip, user, country string) *models.Event {
	ev := &models.Event{
		Sequence:  seq,
		Timestamp: base.Add(offset),
		ClientIP:  ip,
		UserID:    user,
		IPClass:   models.IPClassPublic,
	}
	if country != "" {
		ev.Geolocation = &models.Geolocation{Country: country}
	}
	return ev
}

func observe(t *testing.T, p *Profiler, ev *models.Event) Snapshot {
	t.Helper()
	snap, err := p.Snapshot(ev)
	require.NoError(t, err)
	require.NoError(t, p.Record(ev))
	return snap
}

func TestSnapshotIsPreUpdate(t *testing.T) {
	p := New()

	first := observe(t, p, event(0, 0, "203.0.113.5", "alice", "US"))
	assert.True(t, first.FirstForIP())
	assert.Nil(t, first.User)

	second := observe(t, p, event(1, time.Minute, "203.0.113.5", "bob", "DE"))
	assert.False(t, second.FirstForIP())
	// the snapshot points at live state, which now includes the second event
	prof, ok := p.ips["203.0.113.5"]
	require.True(t, ok)
	assert.Same(t, prof, second.IP)
	assert.Equal(t, 2, prof.EventCount)
	assert.Equal(t, map[string]bool{"US": true, "DE": true}, prof.CountriesSeen)
	assert.Equal(t, map[string]bool{"alice": true, "bob": true}, prof.UsersSeen)
	assert.Equal(t, base, prof.FirstSeenAt)
	assert.Equal(t, base.Add(time.Minute), prof.LastSeenAt)
}

func TestRejectsOutOfOrder(t *testing.T) {
	p := New()
	observe(t, p, event(0, time.Hour, "203.0.113.5", "alice", ""))

	_, err := p.Snapshot(event(1, 0, "203.0.113.5", "alice", ""))
	var iv *models.InvariantViolation
	require.True(t, errors.As(err, &iv))
	assert.Equal(t, "event order", iv.What)

	err = p.Record(event(1, 0, "203.0.113.5", "alice", ""))
	assert.True(t, errors.As(err, &iv))
	assert.Equal(t, 1, p.Count())
}

func TestEqualTimestampsAllowed(t *testing.T) {
	p := New()
	observe(t, p, event(0, 0, "203.0.113.5", "alice", ""))
	observe(t, p, event(1, 0, "203.0.113.6", "alice", ""))
	last, ok := p.Last()
	assert.True(t, ok)
	assert.Equal(t, base, last)
}

func TestPrivateCountriesNotTracked(t *testing.T) {
	p := New()
	ev := event(0, 0, "10.0.0.5", "alice", "US")
	ev.IPClass = models.IPClassPrivate
	observe(t, p, ev)

	prof, ok := p.ips["10.0.0.5"]
	require.True(t, ok)
	assert.Empty(t, prof.CountriesSeen)
}

func TestUserState(t *testing.T) {
	p := New()
	failed := event(0, 0, "203.0.113.5", "alice", "US")
	failed.Failed = true
	observe(t, p, failed)

	snap := observe(t, p, event(1, 5*time.Minute, "198.51.100.9", "alice", "RU"))
	require.NotNil(t, snap.User)
	assert.True(t, snap.User.HasFailure)
	assert.Equal(t, "US", snap.User.LastFailureCountry)
	assert.Equal(t, base, snap.User.LastFailureAt)
	assert.Equal(t, 2, snap.User.EventCount)
	assert.Len(t, snap.User.IPs, 2)
	assert.Equal(t, "RU", snap.User.LastLocation.Country)
}

func TestAnonymousEventsHaveNoUserState(t *testing.T) {
	p := New()
	failed := event(0, 0, "203.0.113.5", "", "US")
	failed.Failed = true
	observe(t, p, failed)

	snap := observe(t, p, event(1, time.Minute, "198.51.100.9", "", "RU"))
	assert.Nil(t, snap.User)
	assert.Empty(t, p.users)
	assert.Equal(t, 2, p.Count())

	snap = observe(t, p, event(2, 2*time.Minute, "198.51.100.9", "alice", "RU"))
	assert.Nil(t, snap.User)
	assert.Len(t, p.users, 1)
}
