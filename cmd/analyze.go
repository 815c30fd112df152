package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-auditrisk/pkg/alerter"
	"go-auditrisk/pkg/analyzer"
	"go-auditrisk/pkg/logger"
	"go-auditrisk/pkg/models"
	"go-auditrisk/pkg/publisher"
	"go-auditrisk/pkg/source"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE...",
	Short: "Analyze JSON-lines batch files",
	Long: `Analyze one or more JSON-lines files, one batch per file. Files are
processed concurrently; rows within a file are processed in timestamp order.

Each batch result is written as one JSON document per line.`,
	Example: `  auditrisk analyze audit-2024-03-04.jsonl
  auditrisk analyze --output results.jsonl --alert --publish a.jsonl b.jsonl
  auditrisk analyze --presorted --chunk-size 10000 huge.jsonl`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("output", "o", "-", "output file, - for stdout")
	analyzeCmd.Flags().Bool("summary-only", false, "write only the batch summaries")
	analyzeCmd.Flags().Bool("alert", false, "send compromised events to the configured webhook")
	analyzeCmd.Flags().Bool("publish", false, "publish results to the configured kafka topics")
	analyzeCmd.Flags().Bool("presorted", false, "stream each file in chunks; rows must already be in timestamp order")
	analyzeCmd.Flags().Int("chunk-size", 0, "rows per chunk with --presorted (default analysis.chunk_size)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ra, closeGeo, err := buildAnalyzer(cfg)
	if err != nil {
		return err
	}
	defer closeGeo()

	presorted, _ := cmd.Flags().GetBool("presorted")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	if chunkSize <= 0 {
		chunkSize = cfg.Analysis.ChunkSize
	}

	var results []*models.BatchResult
	var runErr error
	if presorted {
		results, runErr = analyzeStreaming(ctx, ra, args, chunkSize)
	} else {
		results, runErr = analyzeInMemory(ctx, ra, args)
	}

	if alert, _ := cmd.Flags().GetBool("alert"); alert {
		notifyAll(ctx, results)
	}
	if publish, _ := cmd.Flags().GetBool("publish"); publish {
		if err := publishAll(results); err != nil {
			return err
		}
	}

	output, _ := cmd.Flags().GetString("output")
	summaryOnly, _ := cmd.Flags().GetBool("summary-only")
	if err := writeResults(output, results, summaryOnly); err != nil {
		return err
	}
	return runErr
}

func batchID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func analyzeInMemory(ctx context.Context, ra *analyzer.RiskAnalyzer, paths []string) ([]*models.BatchResult, error) {
	inputs := make([]analyzer.BatchInput, 0, len(paths))
	for _, path := range paths {
		rows, err := source.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		logger.Log.Infof("read %d rows from %s", len(rows), path)
		inputs = append(inputs, analyzer.BatchInput{ID: batchID(path), Rows: rows})
	}
	return ra.AnalyzeAll(ctx, inputs)
}

// analyzeStreaming feeds each file to its own batch in bounded chunks so a
// file never has to fit in memory.
func analyzeStreaming(ctx context.Context, ra *analyzer.RiskAnalyzer, paths []string, chunkSize int) ([]*models.BatchResult, error) {
	results := make([]*models.BatchResult, len(paths))

	var g errgroup.Group
	g.SetLimit(max(cfg.Analysis.Workers, 1))
	for i, path := range paths {
		g.Go(func() error {
			b := ra.NewBatch(batchID(path))
			defer func() { results[i] = b.Close() }()

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			err = source.ReadChunks(ctx, f, chunkSize, func(chunk []models.RawRow) error {
				return b.Feed(ctx, chunk)
			})
			if err != nil {
				return fmt.Errorf("batch %s: %w", b.ID(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

func notifyAll(ctx context.Context, results []*models.BatchResult) {
	if cfg.Webhook.URL == "" {
		logger.Log.Warn("--alert given but webhook.url is not configured")
		return
	}
	a := alerter.NewAlerter(cfg.Webhook.URL, cfg.Webhook.Cooldown)
	for _, r := range results {
		if r == nil {
			continue
		}
		sent, err := a.Notify(ctx, &r.Summary)
		if err != nil {
			logger.Log.Errorf("batch %s alerts: %v", r.Summary.BatchID, err)
		}
		logger.Log.Infof("batch %s: %d alerts sent", r.Summary.BatchID, sent)
	}
}

func publishAll(results []*models.BatchResult) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("--publish requires kafka.brokers")
	}
	p, err := publisher.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.ResultTopic, cfg.Kafka.SummaryTopic)
	if err != nil {
		return err
	}
	defer p.Close()
	for _, r := range results {
		if r == nil {
			continue
		}
		if err := p.Publish(r); err != nil {
			return err
		}
	}
	return nil
}

func writeResults(output string, results []*models.BatchResult, summaryOnly bool) error {
	var w io.Writer = os.Stdout
	if output != "-" && output != "" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)

	for _, r := range results {
		if r == nil {
			continue
		}
		var data []byte
		var err error
		if summaryOnly {
			data, err = models.MarshalSummary(&r.Summary)
		} else {
			data, err = models.MarshalResult(r)
		}
		if err != nil {
			return err
		}
		if _, err := bw.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	return bw.Flush()
}
