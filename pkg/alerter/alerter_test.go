package alerter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auditrisk/pkg/metrics"
	"go-auditrisk/pkg/models"
)

type webhook struct {
	mu       sync.Mutex
	received []Alert
	status   int
}

func (w *webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var alert Alert
	if err := json.Unmarshal(body, &alert); err == nil {
		w.mu.Lock()
		w.received = append(w.received, alert)
		w.mu.Unlock()
	}
	w.mu.Lock()
	status := w.status
	w.mu.Unlock()
	if status != 0 {
		rw.WriteHeader(status)
	}
}

func (w *webhook) setStatus(status int) {
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()
}

func compromised(user, ip string) models.Event {
	return models.Event{
		Timestamp:       time.Date(2024, 3, 4, 3, 0, 0, 0, time.UTC),
		UserID:          user,
		ClientIP:        ip,
		Operation:       "FileDeleted",
		Geolocation:     &models.Geolocation{Country: "RU"},
		AnomalyFlags:    models.FlagsOf(models.FlagFirstTimeIP),
		RiskScore:       0.83,
		RiskLevel:       models.RiskHigh,
		Compromised:     true,
		CompromiseRules: []string{"high_risk_new_location"},
	}
}

func TestCooldown(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	clock := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	a := NewAlerter(srv.URL, time.Hour)
	a.now = func() time.Time { return clock }
	ctx := context.Background()

	sent, err := a.TriggerAlert(ctx, "b1", compromised("alice", "203.0.113.5"))
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = a.TriggerAlert(ctx, "b1", compromised("alice", "203.0.113.5"))
	require.NoError(t, err)
	assert.False(t, sent)

	// a different address is a different fingerprint
	sent, err = a.TriggerAlert(ctx, "b1", compromised("alice", "203.0.113.6"))
	require.NoError(t, err)
	assert.True(t, sent)

	clock = clock.Add(61 * time.Minute)
	sent, err = a.TriggerAlert(ctx, "b2", compromised("alice", "203.0.113.5"))
	require.NoError(t, err)
	assert.True(t, sent)

	require.Len(t, hook.received, 3)
	first := hook.received[0]
	assert.Equal(t, "b1", first.BatchID)
	assert.Equal(t, "alice", first.UserID)
	assert.Equal(t, "RU", first.Country)
	assert.Equal(t, models.RiskHigh, first.RiskLevel)
	assert.Equal(t, []string{"FirstTimeIP"}, first.Flags)
	assert.Equal(t, []string{"high_risk_new_location"}, first.Rules)
}

func TestNotifySummary(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	a := NewAlerter(srv.URL, time.Hour)
	summary := &models.BatchSummary{
		BatchID: "b1",
		CompromisedEvents: []models.Event{
			compromised("alice", "203.0.113.5"),
			compromised("alice", "203.0.113.5"),
			compromised("bob", "203.0.113.5"),
		},
	}
	sent, err := a.Notify(context.Background(), summary)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 2, a.HistoryLen())
}

func TestWebhookFailureIsNotRecorded(t *testing.T) {
	hook := &webhook{status: http.StatusInternalServerError}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	a := NewAlerter(srv.URL, time.Hour)
	sent, err := a.TriggerAlert(context.Background(), "b1", compromised("alice", "203.0.113.5"))
	assert.Error(t, err)
	assert.False(t, sent)
	assert.Equal(t, 0, a.HistoryLen())
}

func TestCleanupOldHistory(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	clock := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	a := NewAlerter(srv.URL, 10*time.Minute)
	a.now = func() time.Time { return clock }

	_, err := a.TriggerAlert(context.Background(), "b1", compromised("alice", "203.0.113.5"))
	require.NoError(t, err)
	clock = clock.Add(5 * time.Minute)
	_, err = a.TriggerAlert(context.Background(), "b1", compromised("bob", "203.0.113.5"))
	require.NoError(t, err)

	clock = clock.Add(6 * time.Minute)
	a.CleanupOldHistory()
	assert.Equal(t, 1, a.HistoryLen())
}

func TestConcurrentTriggersSendOnce(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	sentBefore := testutil.ToFloat64(metrics.AlertsTriggered.WithLabelValues("sent"))
	suppressedBefore := testutil.ToFloat64(metrics.AlertsTriggered.WithLabelValues("suppressed"))

	a := NewAlerter(srv.URL, time.Hour)
	const callers = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			sent, err := a.TriggerAlert(context.Background(), "b1", compromised("alice", "203.0.113.5"))
			assert.NoError(t, err)
			if sent {
				mu.Lock()
				total++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, total)
	assert.Len(t, hook.received, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AlertsTriggered.WithLabelValues("sent"))-sentBefore)
	assert.Equal(t, float64(callers-1), testutil.ToFloat64(metrics.AlertsTriggered.WithLabelValues("suppressed"))-suppressedBefore)
}

func TestFailedSendKeepsEarlierAlert(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	clock := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	a := NewAlerter(srv.URL, time.Hour)
	a.now = func() time.Time { return clock }
	ctx := context.Background()
	failedBefore := testutil.ToFloat64(metrics.AlertsTriggered.WithLabelValues("failed"))

	sent, err := a.TriggerAlert(ctx, "b1", compromised("alice", "203.0.113.5"))
	require.NoError(t, err)
	require.True(t, sent)

	clock = clock.Add(61 * time.Minute)
	hook.setStatus(http.StatusBadGateway)
	sent, err = a.TriggerAlert(ctx, "b2", compromised("alice", "203.0.113.5"))
	assert.Error(t, err)
	assert.False(t, sent)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AlertsTriggered.WithLabelValues("failed"))-failedBefore)

	// the earlier entry is back and expired, so a retry goes out
	assert.Equal(t, 1, a.HistoryLen())
	hook.setStatus(0)
	sent, err = a.TriggerAlert(ctx, "b2", compromised("alice", "203.0.113.5"))
	require.NoError(t, err)
	assert.True(t, sent)
}
