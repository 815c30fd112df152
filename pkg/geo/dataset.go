package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"go-auditrisk/pkg/models"
)

// Dataset read-only geolocation source. Lookup returns models.ErrGeoLookupMiss
// when the address is not covered; any other error is a read failure.
type Dataset interface {
	Lookup(ip net.IP) (*models.Geolocation, error)
}

// MaxMindDataset GeoLite2/GeoIP2 City database with an optional ASN database.
// Readers are memory-mapped and safe for concurrent lookups.
type MaxMindDataset struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

// OpenMaxMind opens the city database and, when asnPath is set, the ASN database.
func OpenMaxMind(cityPath, asnPath string) (*MaxMindDataset, error) {
	city, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("open city database: %w", err)
	}

	d := &MaxMindDataset{city: city}
	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			city.Close()
			return nil, fmt.Errorf("open ASN database: %w", err)
		}
		d.asn = asn
	}
	return d, nil
}

func (d *MaxMindDataset) Lookup(ip net.IP) (*models.Geolocation, error) {
	record, err := d.city.City(ip)
	if err != nil {
		return nil, err
	}
	if record.Country.IsoCode == "" && record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return nil, models.ErrGeoLookupMiss
	}

	loc := &models.Geolocation{
		Country:   record.Country.IsoCode,
		City:      record.City.Names["en"],
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
		Source:    "dataset",
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[len(record.Subdivisions)-1].Names["en"]
	}

	if d.asn != nil {
		if asn, err := d.asn.ASN(ip); err == nil {
			loc.ASN = asn.AutonomousSystemNumber
			loc.ASOrg = asn.AutonomousSystemOrganization
		}
	}
	return loc, nil
}

func (d *MaxMindDataset) Close() error {
	var err error
	if d.asn != nil {
		err = d.asn.Close()
	}
	if cerr := d.city.Close(); cerr != nil {
		err = cerr
	}
	return err
}

// StaticDataset in-memory dataset keyed by canonical address text.
type StaticDataset map[string]models.Geolocation

func (s StaticDataset) Lookup(ip net.IP) (*models.Geolocation, error) {
	loc, ok := s[ip.String()]
	if !ok {
		return nil, models.ErrGeoLookupMiss
	}
	if loc.Source == "" {
		loc.Source = "dataset"
	}
	return &loc, nil
}
