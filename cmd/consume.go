package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"go-auditrisk/pkg/alerter"
	"go-auditrisk/pkg/consumer"
	"go-auditrisk/pkg/logger"
	"go-auditrisk/pkg/publisher"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume batches from Kafka",
	Long: `Consume batch envelopes ({"batch_id": ..., "rows": [...]}) from the
input topic, analyze them and publish scored events and summaries.`,
	RunE: runConsume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)

	consumeCmd.Flags().String("metrics-addr", ":2112", "address for the prometheus /metrics endpoint, empty to disable")
	consumeCmd.Flags().Duration("alert-cleanup", time.Minute, "interval for dropping expired alert history")
}

func runConsume(cmd *cobra.Command, args []string) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is not configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("starting risk analysis service...")
	logger.Log.Infof("kafka: brokers=%v, topic=%s, group=%s", cfg.Kafka.Brokers, cfg.Kafka.InputTopic, cfg.Kafka.GroupID)

	ra, closeGeo, err := buildAnalyzer(cfg)
	if err != nil {
		return err
	}
	defer closeGeo()

	pub, err := publisher.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.ResultTopic, cfg.Kafka.SummaryTopic)
	if err != nil {
		return fmt.Errorf("init kafka producer: %w", err)
	}
	defer pub.Close()

	pipeline := &consumer.Pipeline{Analyzer: ra, Publisher: pub}
	if cfg.Webhook.URL != "" {
		a := alerter.NewAlerter(cfg.Webhook.URL, cfg.Webhook.Cooldown)
		interval, _ := cmd.Flags().GetDuration("alert-cleanup")
		a.StartCleanup(ctx, interval)
		pipeline.Notifier = a
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		srv := serveMetrics(addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	c, err := consumer.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, pipeline)
	if err != nil {
		return fmt.Errorf("init kafka consumer: %w", err)
	}
	defer c.Close()

	ready := c.Ready()
	go func() {
		select {
		case <-ready:
			logger.Log.Info("service started, waiting for batches")
		case <-ctx.Done():
		}
	}()

	if err := c.Start(ctx, cfg.Kafka.InputTopic); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Log.Info("shutting down")
	return nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Errorf("metrics server failed: %v", err)
		}
	}()
	return srv
}
