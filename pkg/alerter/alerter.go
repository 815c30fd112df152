package alerter

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"go-auditrisk/pkg/logger"
	"go-auditrisk/pkg/metrics"
	"go-auditrisk/pkg/models"
)

// Alerter posts compromised events to a webhook, at most once per user and
// address within the cooldown.
type Alerter struct {
	webhookURL        string
	client            *http.Client
	alertHistory      map[string]time.Time // fingerprint -> last alert
	alertHistoryMu    sync.RWMutex
	alertCooldownTime time.Duration
	now               func() time.Time
}

// Alert webhook payload
type Alert struct {
	BatchID   string           `json:"batch_id"`
	Timestamp time.Time        `json:"timestamp"`
	UserID    string           `json:"user_id"`
	ClientIP  string           `json:"client_ip"`
	Operation string           `json:"operation"`
	Country   string           `json:"country,omitempty"`
	RiskScore float64          `json:"risk_score"`
	RiskLevel models.RiskLevel `json:"risk_level"`
	Flags     []string         `json:"anomaly_flags"`
	Rules     []string         `json:"rules"`
}

func NewAlerter(webhookURL string, cooldown time.Duration) *Alerter {
	return &Alerter{
		webhookURL:        webhookURL,
		client:            &http.Client{Timeout: 10 * time.Second},
		alertHistory:      make(map[string]time.Time),
		alertCooldownTime: cooldown,
		now:               time.Now,
	}
}

// StartCleanup drops expired history entries every interval until ctx ends.
func (a *Alerter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.CleanupOldHistory()
				logger.Log.Debugf("alert history cleaned, %d entries left", a.HistoryLen())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func fingerprint(event models.Event) string {
	return event.UserID + ":" + event.ClientIP
}

// TriggerAlert sends one alert unless the same user and address alerted
// within the cooldown. It reports whether a notification went out. The slot is
// reserved before sending so concurrent callers cannot both send; a failed
// send releases it.
func (a *Alerter) TriggerAlert(ctx context.Context, batchID string, event models.Event) (bool, error) {
	fp := fingerprint(event)
	now := a.now()

	a.alertHistoryMu.Lock()
	lastAlertTime, exists := a.alertHistory[fp]
	if exists && now.Sub(lastAlertTime) < a.alertCooldownTime {
		a.alertHistoryMu.Unlock()
		metrics.AlertsTriggered.WithLabelValues("suppressed").Inc()
		logger.Log.Infof("%s in cooldown, alert skipped", fp)
		return false, nil
	}
	a.alertHistory[fp] = now
	a.alertHistoryMu.Unlock()

	if err := a.sendAlertNotification(ctx, batchID, event); err != nil {
		a.release(fp, now, lastAlertTime, exists)
		metrics.AlertsTriggered.WithLabelValues("failed").Inc()
		logger.Log.Errorf("alert notification failed: %v", err)
		return false, err
	}

	metrics.AlertsTriggered.WithLabelValues("sent").Inc()
	logger.Log.Infof("alert sent: %s score=%.2f rules=%v", fp, event.RiskScore, event.CompromiseRules)
	return true, nil
}

// release undoes a reservation made at reserved unless a later one replaced it.
func (a *Alerter) release(fp string, reserved, previous time.Time, hadPrevious bool) {
	a.alertHistoryMu.Lock()
	defer a.alertHistoryMu.Unlock()
	if cur, ok := a.alertHistory[fp]; !ok || !cur.Equal(reserved) {
		return
	}
	if hadPrevious {
		a.alertHistory[fp] = previous
	} else {
		delete(a.alertHistory, fp)
	}
}

// Notify alerts on every compromised event of a batch summary and returns the
// number of notifications sent. Failures are logged and the rest still go out;
// the first error is returned.
func (a *Alerter) Notify(ctx context.Context, summary *models.BatchSummary) (int, error) {
	var firstErr error
	sent := 0
	for _, ev := range summary.CompromisedEvents {
		ok, err := a.TriggerAlert(ctx, summary.BatchID, ev)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ok {
			sent++
		}
	}
	return sent, firstErr
}

func (a *Alerter) sendAlertNotification(ctx context.Context, batchID string, event models.Event) error {
	alert := Alert{
		BatchID:   batchID,
		Timestamp: event.Timestamp,
		UserID:    event.UserID,
		ClientIP:  event.ClientIP,
		Operation: event.Operation,
		Country:   event.Country(),
		RiskScore: event.RiskScore,
		RiskLevel: event.RiskLevel,
		Flags:     event.AnomalyFlags.Names(),
		Rules:     event.CompromiseRules,
	}

	jsonData, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// CleanupOldHistory drops entries older than the cooldown.
func (a *Alerter) CleanupOldHistory() {
	a.alertHistoryMu.Lock()
	defer a.alertHistoryMu.Unlock()

	now := a.now()
	for fp, lastAlertTime := range a.alertHistory {
		if now.Sub(lastAlertTime) > a.alertCooldownTime {
			delete(a.alertHistory, fp)
		}
	}
}

func (a *Alerter) HistoryLen() int {
	a.alertHistoryMu.RLock()
	defer a.alertHistoryMu.RUnlock()
	return len(a.alertHistory)
}
