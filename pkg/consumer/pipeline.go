package consumer

import (
	"context"

	"go-auditrisk/pkg/logger"
	"go-auditrisk/pkg/models"
)

type Analyzer interface {
	Analyze(ctx context.Context, id string, rows []models.RawRow) (*models.BatchResult, error)
}

type Publisher interface {
	Publish(result *models.BatchResult) error
}

type Notifier interface {
	Notify(ctx context.Context, summary *models.BatchSummary) (int, error)
}

// Pipeline analyzes each batch, alerts on its compromised events and
// publishes the result. Notifier and Publisher are optional.
type Pipeline struct {
	Analyzer  Analyzer
	Publisher Publisher
	Notifier  Notifier
}

func (p *Pipeline) HandleBatch(ctx context.Context, batchID string, rows []models.RawRow) error {
	result, err := p.Analyzer.Analyze(ctx, batchID, rows)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		// fatal for this batch only; the partial result is still published
		logger.Log.Errorf("batch %s: %v", result.Summary.BatchID, err)
	}

	if p.Notifier != nil && len(result.Summary.CompromisedEvents) > 0 {
		if _, nerr := p.Notifier.Notify(ctx, &result.Summary); nerr != nil {
			logger.Log.Warnf("batch %s alerts incomplete: %v", result.Summary.BatchID, nerr)
		}
	}
	if p.Publisher != nil {
		if perr := p.Publisher.Publish(result); perr != nil {
			return perr
		}
	}
	return err
}
