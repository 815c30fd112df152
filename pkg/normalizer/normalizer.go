// Package normalizer turns raw audit rows into canonical events.
package normalizer

import (
	"bytes"
	"net"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"go-auditrisk/pkg/models"
)

// Timestamp layouts accepted for CreationDate. Layouts without a zone are
// read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02 15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
}

// Payload keys that may carry the client address, in priority order.
var clientIPKeys = []string{"ClientIP", "ClientIPAddress", "ActorIpAddress"}

const (
	keyResultStatus   = "ResultStatus"
	keySourceFileName = "SourceFileName"
	opFileAccessed    = "FileAccessed"
)

// Normalize converts one raw row into an Event. index is the zero-based input
// position of the row within its batch. It returns *models.ParseError when the
// timestamp or client address cannot be recovered.
func Normalize(row models.RawRow, index int) (*models.Event, error) {
	ts, err := ParseTimestamp(row.CreationDate)
	if err != nil {
		return nil, &models.ParseError{Row: index, Field: "CreationDate", Reason: "unparsable timestamp", Err: err}
	}

	payload, err := decodePayload(row.AuditData)
	if err != nil {
		return nil, &models.ParseError{Row: index, Field: "AuditData", Reason: "invalid JSON payload", Err: err}
	}

	rawIP := strings.TrimSpace(row.ClientIP)
	if rawIP == "" {
		for _, key := range clientIPKeys {
			if v := payload.str(key); v != "" {
				rawIP = v
				break
			}
		}
	}
	if rawIP == "" {
		return nil, &models.ParseError{Row: index, Field: "ClientIP", Reason: "no client address in row or payload"}
	}
	ip := CleanIP(rawIP)
	if ip == "" {
		return nil, &models.ParseError{Row: index, Field: "ClientIP", Reason: "malformed client address " + rawIP}
	}

	event := &models.Event{
		Sequence:     index,
		Timestamp:    ts,
		Operation:    strings.TrimSpace(row.Operation),
		UserID:       strings.TrimSpace(row.UserID),
		ClientIP:     ip,
		ResultStatus: payload.str(keyResultStatus),
	}
	if event.Operation == opFileAccessed {
		event.FileName = payload.str(keySourceFileName)
	}

	extras := make(map[string]string, len(row.Extras)+len(payload))
	for k, v := range row.Extras {
		extras[k] = v
	}
	for k := range payload {
		if isModeled(k) {
			continue
		}
		extras[k] = payload.str(k)
	}
	if len(extras) > 0 {
		event.RawExtras = extras
	}
	return event, nil
}

// ParseTimestamp parses CreationDate in any of the accepted layouts and
// returns it in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// CleanIP strips ports and brackets and returns the canonical address text,
// or "" when the value is not an IP address.
func CleanIP(raw string) string {
	raw = strings.TrimSpace(raw)
	if ip := net.ParseIP(raw); ip != nil {
		return ip.String()
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip.String()
		}
	}
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		if ip := net.ParseIP(raw[1 : len(raw)-1]); ip != nil {
			return ip.String()
		}
	}
	return ""
}

type payload map[string]json.RawMessage

func decodePayload(data string) (payload, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return payload{}, nil
	}
	var p payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return p, nil
}

// str returns a string field as-is and any other JSON value in compact form.
func (p payload) str(key string) string {
	raw, ok := p[key]
	if !ok || len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func isModeled(key string) bool {
	if key == keyResultStatus || key == keySourceFileName {
		return true
	}
	for _, k := range clientIPKeys {
		if k == key {
			return true
		}
	}
	return false
}
