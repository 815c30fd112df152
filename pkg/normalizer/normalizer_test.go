package normalizer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auditrisk/pkg/models"
	"go-auditrisk/pkg/normalizer"
)

func TestNormalize_PayloadExtraction(t *testing.T) {
	row := models.RawRow{
		CreationDate: "2024-03-02T03:00:00",
		Operation:    "FileAccessed",
		UserID:       "fran@contoso.com",
		AuditData:    `{"ClientIP":"203.0.113.5","ResultStatus":"Succeeded","SourceFileName":"payroll.xlsx","Workload":"SharePoint","RecordType":6,"Site":{"Id":"abc"}}`,
		Extras:       map[string]string{"RecordId": "r-1"},
	}

	ev, err := normalizer.Normalize(row, 7)
	require.NoError(t, err)

	assert.Equal(t, 7, ev.Sequence)
	assert.Equal(t, time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC), ev.Timestamp)
	assert.Equal(t, "FileAccessed", ev.Operation)
	assert.Equal(t, "fran@contoso.com", ev.UserID)
	assert.Equal(t, "203.0.113.5", ev.ClientIP)
	assert.Equal(t, "Succeeded", ev.ResultStatus)
	assert.Equal(t, "payroll.xlsx", ev.FileName)
	assert.Equal(t, map[string]string{
		"RecordId":   "r-1",
		"Workload":   "SharePoint",
		"RecordType": "6",
		"Site":       `{"Id":"abc"}`,
	}, ev.RawExtras)
}

func TestNormalize_IPSources(t *testing.T) {
	cases := []struct {
		name string
		row  models.RawRow
		want string
	}{
		{"direct field wins", models.RawRow{ClientIP: "198.51.100.1", AuditData: `{"ClientIP":"203.0.113.5"}`}, "198.51.100.1"},
		{"payload ClientIP", models.RawRow{AuditData: `{"ClientIP":"203.0.113.5"}`}, "203.0.113.5"},
		{"payload ClientIPAddress", models.RawRow{AuditData: `{"ClientIPAddress":"203.0.113.6"}`}, "203.0.113.6"},
		{"payload ActorIpAddress", models.RawRow{AuditData: `{"ActorIpAddress":"203.0.113.7"}`}, "203.0.113.7"},
		{"ipv4 with port", models.RawRow{AuditData: `{"ClientIP":"203.0.113.5:51234"}`}, "203.0.113.5"},
		{"bracketed ipv6 with port", models.RawRow{AuditData: `{"ClientIP":"[2001:db8::5]:443"}`}, "2001:db8::5"},
		{"bracketed ipv6", models.RawRow{AuditData: `{"ClientIP":"[2001:db8::5]"}`}, "2001:db8::5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.row.CreationDate = "2024-01-01T10:00:00Z"
			ev, err := normalizer.Normalize(tc.row, 0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ev.ClientIP)
		})
	}
}

func TestNormalize_ParseErrors(t *testing.T) {
	cases := []struct {
		name  string
		row   models.RawRow
		field string
	}{
		{"bad timestamp", models.RawRow{CreationDate: "yesterday", ClientIP: "203.0.113.5"}, "CreationDate"},
		{"bad payload", models.RawRow{CreationDate: "2024-01-01T10:00:00Z", AuditData: `{"ClientIP":`}, "AuditData"},
		{"no address", models.RawRow{CreationDate: "2024-01-01T10:00:00Z", AuditData: `{"Workload":"Exchange"}`}, "ClientIP"},
		{"malformed address", models.RawRow{CreationDate: "2024-01-01T10:00:00Z", AuditData: `{"ClientIP":"N/A"}`}, "ClientIP"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := normalizer.Normalize(tc.row, 3)
			require.Error(t, err)
			var perr *models.ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tc.field, perr.Field)
			assert.Equal(t, 3, perr.Row)
		})
	}
}

func TestNormalize_FileNameOnlyForFileAccessed(t *testing.T) {
	ev, err := normalizer.Normalize(models.RawRow{
		CreationDate: "2024-01-01T10:00:00Z",
		Operation:    "FileDeleted",
		AuditData:    `{"ClientIP":"203.0.113.5","SourceFileName":"a.docx"}`,
	}, 0)
	require.NoError(t, err)
	assert.Empty(t, ev.FileName)
	assert.Nil(t, ev.RawExtras)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 2, 15, 4, 5, 0, time.UTC)
	for _, in := range []string{
		"2024-03-02T15:04:05Z",
		"2024-03-02T16:04:05+01:00",
		"2024-03-02T15:04:05",
		"2024-03-02 15:04:05",
		"3/2/2024 3:04:05 PM",
		"3/2/2024 15:04:05",
	} {
		got, err := normalizer.ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
		assert.Equal(t, time.UTC, got.Location(), in)
	}

	got, err := normalizer.ParseTimestamp("2024-03-02T15:04:05.1234567")
	require.NoError(t, err)
	assert.Equal(t, 123456700, got.Nanosecond())
}

func TestCleanIP(t *testing.T) {
	assert.Equal(t, "10.0.0.5", normalizer.CleanIP(" 10.0.0.5 "))
	assert.Equal(t, "2001:db8::1", normalizer.CleanIP("2001:0db8:0000::1"))
	assert.Equal(t, "", normalizer.CleanIP("unknown"))
	assert.Equal(t, "", normalizer.CleanIP(""))
}
