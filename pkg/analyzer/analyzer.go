package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"go-auditrisk/pkg/config"
	"go-auditrisk/pkg/geo"
	"go-auditrisk/pkg/logger"
	"go-auditrisk/pkg/metrics"
	"go-auditrisk/pkg/models"
	"go-auditrisk/pkg/normalizer"
	"go-auditrisk/pkg/profiler"
	"go-auditrisk/pkg/timeline"
)

// ErrBatchClosed returned by Feed after Close.
var ErrBatchClosed = errors.New("batch already closed")

// RiskAnalyzer holds the validated configuration and the shared enricher. It
// is immutable after construction and safe for concurrent batches.
type RiskAnalyzer struct {
	settings   *settings
	enricher   *geo.Enricher
	detector   *Detector
	scorer     *Scorer
	classifier *Classifier
	workers    int
}

// NewRiskAnalyzer validates cfg and builds the analyzer. A bad configuration
// yields *models.ConfigurationError and no analyzer.
func NewRiskAnalyzer(cfg config.Analysis, enricher *geo.Enricher) (*RiskAnalyzer, error) {
	if enricher == nil {
		return nil, &models.ConfigurationError{Field: "enricher", Reason: "required"}
	}
	s, err := compile(cfg)
	if err != nil {
		return nil, err
	}
	rules, err := buildRules(cfg.CompromiseRules, s)
	if err != nil {
		return nil, &models.ConfigurationError{Field: "analysis.compromise_rules", Reason: err.Error()}
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &RiskAnalyzer{
		settings:   s,
		enricher:   enricher,
		detector:   &Detector{s: s},
		scorer:     &Scorer{s: s},
		classifier: &Classifier{rules: rules},
		workers:    workers,
	}, nil
}

// Batch is the caller-owned state of one batch: the profiler and the
// aggregator. Create it with NewBatch, Feed it chunks in timestamp order and
// Close it to obtain the result. It must not be shared between goroutines.
type Batch struct {
	id       string
	ra       *RiskAnalyzer
	profiler *profiler.Profiler
	agg      *timeline.Aggregator
	rows     int

	cancelled bool
	closed    bool
	fatal     error
	started   time.Time
}

// NewBatch starts a batch. An empty id gets a random one.
func (ra *RiskAnalyzer) NewBatch(id string) *Batch {
	if id == "" {
		id = uuid.NewString()
	}
	return &Batch{
		id:       id,
		ra:       ra,
		profiler: profiler.New(),
		agg:      timeline.New(id, ra.settings.anomalousFlags),
		started:  time.Now(),
	}
}

// ID of the batch, generated when NewBatch got an empty one.
func (b *Batch) ID() string {
	return b.id
}

// Feed normalizes a chunk of rows, sorts the valid ones by timestamp (stable,
// so ties keep input order) and runs each through the pipeline. A chunk whose
// earliest event precedes an event already processed is rejected with
// *models.InvariantViolation and poisons the batch. On context cancellation the
// remaining events of the chunk are counted as abandoned and ctx.Err() is
// returned; what was processed stays valid.
func (b *Batch) Feed(ctx context.Context, rows []models.RawRow) error {
	if b.closed {
		return ErrBatchClosed
	}
	if b.fatal != nil {
		b.agg.Receive(len(rows))
		b.agg.Abandon(len(rows))
		return b.fatal
	}

	b.agg.Receive(len(rows))
	events := make([]*models.Event, 0, len(rows))
	for i, row := range rows {
		seq := b.rows + i
		ev, err := normalizer.Normalize(row, seq)
		if err != nil {
			b.skip(seq, err)
			continue
		}
		events = append(events, ev)
	}
	b.rows += len(rows)

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	if len(events) > 0 {
		if last, ok := b.profiler.Last(); ok && events[0].Timestamp.Before(last) {
			b.fatal = &models.InvariantViolation{
				What: "event order",
				Detail: fmt.Sprintf("chunk starts at %s, before last processed event at %s",
					events[0].Timestamp.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano)),
			}
			b.agg.Abandon(len(events))
			return b.fatal
		}
	}

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			b.cancelled = true
			b.agg.Abandon(len(events) - i)
			logger.Log.Warnf("batch %s cancelled, %d events abandoned", b.id, len(events)-i)
			return err
		}
		if err := b.process(ev); err != nil {
			var iv *models.InvariantViolation
			if errors.As(err, &iv) {
				b.fatal = err
				b.agg.Abandon(len(events) - i)
				return err
			}
			b.agg.Error(models.SkipRecord{Row: ev.Sequence, Reason: models.SkipLookupError, Field: "ClientIP", Detail: err.Error()})
			metrics.RowsSkipped.WithLabelValues(string(models.SkipLookupError)).Inc()
			logger.Log.Errorf("batch %s row %d: %v", b.id, ev.Sequence, err)
		}
	}
	return nil
}

// process runs one event through enrich, snapshot, detect, score, classify
// and record.
func (b *Batch) process(event *models.Event) error {
	ra := b.ra

	start := time.Now()
	if err := ra.enricher.Enrich(event); err != nil {
		return err
	}
	metrics.StageDuration.WithLabelValues("enrich").Observe(time.Since(start).Seconds())
	event.Failed = ra.settings.isFailure(event)

	snap, err := b.profiler.Snapshot(event)
	if err != nil {
		return err
	}

	start = time.Now()
	flags, temporal := ra.detector.Detect(event, snap)
	event.AnomalyFlags |= flags
	metrics.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	start = time.Now()
	ra.scorer.Apply(event, temporal)
	ra.classifier.Apply(event, snap)
	metrics.StageDuration.WithLabelValues("score").Observe(time.Since(start).Seconds())

	if err := b.profiler.Record(event); err != nil {
		return err
	}
	b.agg.Add(*event)

	metrics.EventsAnalyzed.Inc()
	metrics.RiskScoreHistogram.Observe(event.RiskScore)
	for _, name := range event.AnomalyFlags.Names() {
		metrics.AnomalyFlags.WithLabelValues(name).Inc()
	}
	if event.Compromised {
		metrics.CompromisedEvents.Inc()
		logger.Log.Infof("compromised event: batch=%s user=%s ip=%s op=%s score=%.3f rules=%v",
			b.id, event.UserID, event.ClientIP, event.Operation, event.RiskScore, event.CompromiseRules)
	}
	return nil
}

func (b *Batch) skip(row int, err error) {
	rec := models.SkipRecord{Row: row, Reason: models.SkipParseError, Detail: err.Error()}
	var perr *models.ParseError
	if errors.As(err, &perr) {
		rec.Field = perr.Field
	}
	b.agg.Skip(rec)
	metrics.RowsSkipped.WithLabelValues(string(models.SkipParseError)).Inc()
	logger.Log.Debugf("batch %s skipped row %d: %v", b.id, row, err)
}

// Close finalizes the batch and releases its profiler state. Further Feed
// calls fail with ErrBatchClosed.
func (b *Batch) Close() *models.BatchResult {
	result := b.agg.Result(b.cancelled)
	if !b.closed {
		b.closed = true
		outcome := "ok"
		switch {
		case b.fatal != nil:
			outcome = "failed"
		case b.cancelled:
			outcome = "cancelled"
		}
		metrics.BatchesProcessed.WithLabelValues(outcome).Inc()
		logger.Log.Infof("batch %s closed: outcome=%s received=%d analyzed=%d skipped=%d errors=%d abandoned=%d compromised=%d elapsed=%s",
			b.id, outcome, result.Summary.RowsReceived, result.Summary.AnalyzedCount, result.Summary.SkippedCount,
			result.Summary.ErrorCount, result.Summary.AbandonedCount, len(result.Summary.CompromisedEvents), time.Since(b.started))
		if !b.agg.Accounted() {
			logger.Log.Errorf("batch %s row accounting mismatch", b.id)
		}
		if recorded := b.profiler.Count(); recorded != result.Summary.AnalyzedCount {
			logger.Log.Errorf("batch %s profiled %d events but analyzed %d", b.id, recorded, result.Summary.AnalyzedCount)
		}
		b.profiler = profiler.New()
	}
	return result
}

// Analyze runs a whole batch held in memory. The result is returned even when
// err is non-nil and then reflects the rows processed before the failure.
func (ra *RiskAnalyzer) Analyze(ctx context.Context, id string, rows []models.RawRow) (*models.BatchResult, error) {
	b := ra.NewBatch(id)
	err := b.Feed(ctx, rows)
	return b.Close(), err
}

// BatchInput one independent batch for AnalyzeAll
type BatchInput struct {
	ID   string
	Rows []models.RawRow
}

// AnalyzeAll processes independent batches concurrently, each with its own
// state. Results are returned in input order; the first error is returned
// after all batches finished.
func (ra *RiskAnalyzer) AnalyzeAll(ctx context.Context, inputs []BatchInput) ([]*models.BatchResult, error) {
	results := make([]*models.BatchResult, len(inputs))

	var g errgroup.Group
	g.SetLimit(ra.workers)
	for i, in := range inputs {
		g.Go(func() error {
			result, err := ra.Analyze(ctx, in.ID, in.Rows)
			results[i] = result
			if err != nil {
				return fmt.Errorf("batch %s: %w", result.Summary.BatchID, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
