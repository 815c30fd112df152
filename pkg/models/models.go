package models

import (
	"time"
)

// RawRow is one row handed over by the file-parsing collaborator.
// ClientIP is optional; when empty it is extracted from AuditData.
type RawRow struct {
	CreationDate string            `json:"CreationDate"`
	Operation    string            `json:"Operation"`
	UserID       string            `json:"UserId"`
	ClientIP     string            `json:"ClientIP,omitempty"`
	AuditData    string            `json:"AuditData,omitempty"`
	Extras       map[string]string `json:"Extras,omitempty"`
}

// AuditPayload is the modeled part of the AuditData blob. Anything not named
// here ends up in Event.RawExtras.
type AuditPayload struct {
	ClientIP        string
	ClientIPAddress string
	ActorIPAddress  string
	ResultStatus    string
	SourceFileName  string
}

// IPClass classification of a client address
type IPClass string

const (
	IPClassPrivate IPClass = "Private"
	IPClassKnown   IPClass = "Known"
	IPClassPublic  IPClass = "Public"
)

// PrivateNetworkLabel fixed label for private addresses
const PrivateNetworkLabel = "Private Network"

// Geolocation resolved location of an address
type Geolocation struct {
	Country   string  `json:"country"`
	Region    string  `json:"region,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	ASN       uint    `json:"asn,omitempty"`
	ASOrg     string  `json:"as_org,omitempty"`
	Source    string  `json:"source"`
}

// RiskFactors per-factor breakdown of the combined score
type RiskFactors struct {
	Geo       float64 `json:"geo"`
	Operation float64 `json:"operation"`
	Temporal  float64 `json:"temporal"`
}

// Event canonical audit event. Created by the normalizer and filled in by the
// enricher, detector, scorer and classifier in that order.
type Event struct {
	Sequence        int               `json:"sequence"`
	Timestamp       time.Time         `json:"timestamp"`
	Operation       string            `json:"operation"`
	UserID          string            `json:"user_id"`
	ClientIP        string            `json:"client_ip"`
	ResultStatus    string            `json:"result_status,omitempty"`
	FileName        string            `json:"file_name,omitempty"`
	RawExtras       map[string]string `json:"raw_extras,omitempty"`
	IPClass         IPClass           `json:"ip_class"`
	NetworkLabel    string            `json:"network_label,omitempty"`
	Geolocation     *Geolocation      `json:"geolocation"`
	Failed          bool              `json:"failed"`
	AnomalyFlags    AnomalyFlags      `json:"anomaly_flags"`
	Factors         RiskFactors       `json:"risk_factors"`
	RiskScore       float64           `json:"risk_score"`
	RiskLevel       RiskLevel         `json:"risk_level"`
	Compromised     bool              `json:"compromised"`
	CompromiseRules []string          `json:"compromise_rules,omitempty"`
}

// Country returns the resolved country code or "" when unresolved.
func (e *Event) Country() string {
	if e.Geolocation == nil {
		return ""
	}
	return e.Geolocation.Country
}

// IPProfile accumulated per-ip history within one batch
type IPProfile struct {
	IP            string          `json:"ip"`
	FirstSeenAt   time.Time       `json:"first_seen_at"`
	LastSeenAt    time.Time       `json:"last_seen_at"`
	EventCount    int             `json:"event_count"`
	CountriesSeen map[string]bool `json:"countries_seen"`
	UsersSeen     map[string]bool `json:"users_seen"`
}

// HasCountry reports whether the country was already observed for this ip.
func (p *IPProfile) HasCountry(country string) bool {
	return p != nil && p.CountriesSeen[country]
}

// SkipReason why a row produced no analyzed event
type SkipReason string

const (
	SkipParseError  SkipReason = "ParseError"
	SkipLookupError SkipReason = "LookupError"
)

// SkipRecord output record for a row that was not analyzed
type SkipRecord struct {
	Row    int        `json:"row"`
	Reason SkipReason `json:"reason"`
	Field  string     `json:"field,omitempty"`
	Detail string     `json:"detail"`
}

// IPStat per-ip aggregate in the batch summary
type IPStat struct {
	IP           string    `json:"ip"`
	IPClass      IPClass   `json:"ip_class"`
	Count        int       `json:"count"`
	Countries    []string  `json:"countries"`
	Users        []string  `json:"users"`
	Operations   []string  `json:"operations"`
	Files        []string  `json:"files"`
	MaxRiskLevel RiskLevel `json:"max_risk_level"`
	Flags        []string  `json:"flags"`
	Anomalous    bool      `json:"anomalous"`
	Compromised  int       `json:"compromised"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// BatchStats descriptive statistics of the analyzed events
type BatchStats struct {
	UniqueUsers      int            `json:"unique_users"`
	UniqueIPs        int            `json:"unique_ips"`
	UniqueOperations int            `json:"unique_operations"`
	FilesAccessed    int            `json:"files_accessed"`
	OperationCounts  map[string]int `json:"operation_counts"`
	CountryCounts    map[string]int `json:"country_counts"`
}

// BatchSummary per-batch summary
type BatchSummary struct {
	BatchID           string            `json:"batch_id"`
	RowsReceived      int               `json:"rows_received"`
	AnalyzedCount     int               `json:"analyzed_count"`
	SkippedCount      int               `json:"skipped_count"`
	ErrorCount        int               `json:"error_count"`
	AbandonedCount    int               `json:"abandoned_count"`
	Cancelled         bool              `json:"cancelled"`
	RiskCounts        map[RiskLevel]int `json:"risk_counts"`
	IPs               []IPStat          `json:"ips"`
	AnomalousIPs      []IPStat          `json:"anomalous_ips"`
	CompromisedEvents []Event           `json:"compromised_events"`
	Stats             BatchStats        `json:"stats"`
}

// BatchResult full output of one batch
type BatchResult struct {
	Summary BatchSummary `json:"summary"`
	Events  []Event      `json:"events"`
	Skipped []SkipRecord `json:"skipped"`
}
