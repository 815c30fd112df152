package cmd

import (
	"go-auditrisk/pkg/analyzer"
	"go-auditrisk/pkg/config"
	"go-auditrisk/pkg/geo"
	"go-auditrisk/pkg/logger"
)

// buildAnalyzer opens the geolocation databases once and builds the shared
// analyzer. The returned func closes the databases.
func buildAnalyzer(c *config.Config) (*analyzer.RiskAnalyzer, func(), error) {
	var dataset geo.Dataset
	closeFn := func() {}

	if c.GeoIP.CityPath != "" {
		mm, err := geo.OpenMaxMind(c.GeoIP.CityPath, c.GeoIP.ASNPath)
		if err != nil {
			return nil, nil, err
		}
		dataset = mm
		closeFn = func() {
			if err := mm.Close(); err != nil {
				logger.Log.Warnf("close geoip databases: %v", err)
			}
		}
		logger.Log.Infof("geoip databases opened: city=%s asn=%s", c.GeoIP.CityPath, c.GeoIP.ASNPath)
	} else {
		logger.Log.Warn("no geoip city database configured, public addresses will not be located")
	}

	enricher := geo.NewEnricher(dataset, c.Security.PrivateNetworks, c.Security.KnownIPs)
	ra, err := analyzer.NewRiskAnalyzer(c.Analysis, enricher)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return ra, closeFn, nil
}
