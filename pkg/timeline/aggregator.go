// Package timeline collects analyzed events in order and builds the batch
// summary alongside.
package timeline

import (
	"sort"

	"go-auditrisk/pkg/models"
)

const (
	unknownCountry = "Unknown"
	opFileAccessed = "FileAccessed"
)

type ipAggregate struct {
	stat       models.IPStat
	countries  map[string]bool
	users      map[string]bool
	operations map[string]bool
	files      map[string]bool
	flags      models.AnomalyFlags
}

// Aggregator is owned by one batch and is not safe for concurrent use.
type Aggregator struct {
	batchID   string
	anomalous models.AnomalyFlags

	events      []models.Event
	skipped     []models.SkipRecord
	compromised []models.Event

	ips     map[string]*ipAggregate
	ipOrder []string

	users      map[string]bool
	operations map[string]int
	countries  map[string]int
	files      int
	riskCounts map[models.RiskLevel]int

	received  int
	analyzed  int
	skips     int
	errors    int
	abandoned int
}

// New creates an aggregator. An address is reported as anomalous when any of
// its events carried one of the anomalous flags or was compromised.
func New(batchID string, anomalous models.AnomalyFlags) *Aggregator {
	counts := make(map[models.RiskLevel]int, len(models.RiskLevels))
	for _, l := range models.RiskLevels {
		counts[l] = 0
	}
	return &Aggregator{
		batchID:    batchID,
		anomalous:  anomalous,
		ips:        make(map[string]*ipAggregate),
		users:      make(map[string]bool),
		operations: make(map[string]int),
		countries:  make(map[string]int),
		riskCounts: counts,
	}
}

// Receive counts rows handed to the batch, whatever becomes of them.
func (a *Aggregator) Receive(n int) {
	a.received += n
}

// Add appends an analyzed event. Events must arrive in processing order.
func (a *Aggregator) Add(event models.Event) {
	a.events = append(a.events, event)
	a.analyzed++
	a.riskCounts[event.RiskLevel]++

	a.users[event.UserID] = true
	a.operations[event.Operation]++
	country := event.Country()
	if country == "" {
		country = unknownCountry
	}
	a.countries[country]++
	if event.Operation == opFileAccessed {
		a.files++
	}

	agg, ok := a.ips[event.ClientIP]
	if !ok {
		agg = &ipAggregate{
			stat: models.IPStat{
				IP:          event.ClientIP,
				IPClass:     event.IPClass,
				FirstSeenAt: event.Timestamp,
			},
			countries:  make(map[string]bool),
			users:      make(map[string]bool),
			operations: make(map[string]bool),
			files:      make(map[string]bool),
		}
		a.ips[event.ClientIP] = agg
		a.ipOrder = append(a.ipOrder, event.ClientIP)
	}
	agg.stat.Count++
	agg.stat.LastSeenAt = event.Timestamp
	if c := event.Country(); c != "" {
		agg.countries[c] = true
	}
	agg.users[event.UserID] = true
	agg.operations[event.Operation] = true
	if event.FileName != "" {
		agg.files[event.FileName] = true
	}
	agg.flags |= event.AnomalyFlags
	if event.RiskLevel.Rank() > agg.stat.MaxRiskLevel.Rank() {
		agg.stat.MaxRiskLevel = event.RiskLevel
	}

	if event.Compromised {
		agg.stat.Compromised++
		a.compromised = append(a.compromised, event)
	}
}

// Skip records a row rejected by the normalizer.
func (a *Aggregator) Skip(rec models.SkipRecord) {
	a.skipped = append(a.skipped, rec)
	a.skips++
}

// Error records a row that normalized but could not be analyzed.
func (a *Aggregator) Error(rec models.SkipRecord) {
	a.skipped = append(a.skipped, rec)
	a.errors++
}

// Abandon counts rows left unprocessed after cancellation or a fatal error.
func (a *Aggregator) Abandon(n int) {
	a.abandoned += n
}

// Summary builds the batch summary from what has been collected so far.
// Every address is listed in IPs in first-seen order; AnomalousIPs holds the
// subset marked Anomalous.
func (a *Aggregator) Summary(cancelled bool) models.BatchSummary {
	all := make([]models.IPStat, 0, len(a.ipOrder))
	anomalous := make([]models.IPStat, 0)
	for _, ip := range a.ipOrder {
		stat := a.ips[ip].snapshot(a.anomalous)
		all = append(all, stat)
		if stat.Anomalous {
			anomalous = append(anomalous, stat)
		}
	}

	riskCounts := make(map[models.RiskLevel]int, len(a.riskCounts))
	for k, v := range a.riskCounts {
		riskCounts[k] = v
	}
	operations := make(map[string]int, len(a.operations))
	for k, v := range a.operations {
		operations[k] = v
	}
	countries := make(map[string]int, len(a.countries))
	for k, v := range a.countries {
		countries[k] = v
	}

	return models.BatchSummary{
		BatchID:           a.batchID,
		RowsReceived:      a.received,
		AnalyzedCount:     a.analyzed,
		SkippedCount:      a.skips,
		ErrorCount:        a.errors,
		AbandonedCount:    a.abandoned,
		Cancelled:         cancelled,
		RiskCounts:        riskCounts,
		IPs:               all,
		AnomalousIPs:      anomalous,
		CompromisedEvents: append([]models.Event{}, a.compromised...),
		Stats: models.BatchStats{
			UniqueUsers:      len(a.users),
			UniqueIPs:        len(a.ips),
			UniqueOperations: len(a.operations),
			FilesAccessed:    a.files,
			OperationCounts:  operations,
			CountryCounts:    countries,
		},
	}
}

// Result returns the ordered events, the skip records sorted by row and the summary.
func (a *Aggregator) Result(cancelled bool) *models.BatchResult {
	skipped := append([]models.SkipRecord{}, a.skipped...)
	sort.SliceStable(skipped, func(i, j int) bool { return skipped[i].Row < skipped[j].Row })
	return &models.BatchResult{
		Summary: a.Summary(cancelled),
		Events:  append([]models.Event{}, a.events...),
		Skipped: skipped,
	}
}

// Accounted reports whether every received row is analyzed, skipped, errored
// or abandoned.
func (a *Aggregator) Accounted() bool {
	return a.analyzed+a.skips+a.errors+a.abandoned == a.received
}

func (agg *ipAggregate) snapshot(anomalous models.AnomalyFlags) models.IPStat {
	stat := agg.stat
	stat.Countries = sortedKeys(agg.countries)
	stat.Users = sortedKeys(agg.users)
	stat.Operations = sortedKeys(agg.operations)
	stat.Files = sortedKeys(agg.files)
	stat.Flags = agg.flags.Names()
	stat.Anomalous = agg.flags.Any(anomalous) || agg.stat.Compromised > 0
	return stat
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
