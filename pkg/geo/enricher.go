package geo

import (
	"errors"
	"fmt"
	"net"

	"go-auditrisk/pkg/config"
	"go-auditrisk/pkg/logger"
	"go-auditrisk/pkg/models"
)

type knownEntry struct {
	label    string
	location models.Geolocation
}

// Enricher classifies client addresses and attaches geolocation. It holds no
// per-batch state and may be shared by concurrent batches.
type Enricher struct {
	private *NetSet
	known   map[string]knownEntry
	dataset Dataset
}

// NewEnricher builds an enricher. extraPrivate extends the built-in RFC1918
// and loopback ranges; dataset may be nil, in which case every public address
// misses.
func NewEnricher(dataset Dataset, extraPrivate []string, known []config.KnownIP) *Enricher {
	e := &Enricher{
		private: NewNetSet(extraPrivate),
		known:   make(map[string]knownEntry, len(known)),
		dataset: dataset,
	}
	for _, k := range known {
		ip := net.ParseIP(k.IP)
		if ip == nil {
			continue
		}
		e.known[ip.String()] = knownEntry{
			label: k.Label,
			location: models.Geolocation{
				Country:   k.Country,
				Region:    k.Region,
				City:      k.City,
				Latitude:  k.Latitude,
				Longitude: k.Longitude,
				Source:    "known",
			},
		}
	}
	logger.Log.Debugf("enricher: %d configured private ranges, %d known addresses", e.private.Len(), len(e.known))
	return e
}

// net.IP.IsPrivate also covers fc00::/7
func isRFC1918(ip net.IP) bool {
	ip4 := ip.To4()
	return ip4 != nil && ip4.IsPrivate()
}

// Classify returns Private for RFC1918, loopback and configured private ranges,
// Known for curated registry entries and Public otherwise. IPv6 unique local
// addresses are private only when configured.
func (e *Enricher) Classify(ip net.IP) models.IPClass {
	if isRFC1918(ip) || ip.IsLoopback() || e.private.Contains(ip) {
		return models.IPClassPrivate
	}
	if _, ok := e.known[ip.String()]; ok {
		return models.IPClassKnown
	}
	return models.IPClassPublic
}

// Enrich sets the classification and geolocation of the event. A dataset miss
// is not an error: the event gets the NoLocation flag instead. Read failures
// are returned.
func (e *Enricher) Enrich(event *models.Event) error {
	ip := net.ParseIP(event.ClientIP)
	if ip == nil {
		return fmt.Errorf("enrich: unparsable address %q", event.ClientIP)
	}

	event.IPClass = e.Classify(ip)
	switch event.IPClass {
	case models.IPClassPrivate:
		event.NetworkLabel = models.PrivateNetworkLabel
		event.Geolocation = nil
		return nil
	case models.IPClassKnown:
		entry := e.known[ip.String()]
		loc := entry.location
		event.NetworkLabel = entry.label
		event.Geolocation = &loc
		return nil
	}

	if e.dataset == nil {
		event.AnomalyFlags.Set(models.FlagNoLocation)
		return nil
	}
	loc, err := e.dataset.Lookup(ip)
	if errors.Is(err, models.ErrGeoLookupMiss) {
		event.AnomalyFlags.Set(models.FlagNoLocation)
		return nil
	}
	if err != nil {
		return fmt.Errorf("enrich %s: %w", event.ClientIP, err)
	}
	if loc == nil {
		event.AnomalyFlags.Set(models.FlagNoLocation)
		return nil
	}
	event.Geolocation = loc
	return nil
}
