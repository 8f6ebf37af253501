// SPDX-FileCopyrightText: 2026 SentinelMap Contributors
// SPDX-License-Identifier: Apache-2.0

// Command ingest streams vehicle detection events from a perception CSV file
// into Kafka and reports delivery statistics.
package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	"github.com/sentinelmap/detectkafka"
)

var (
	flagCSV     string
	flagTopic   string
	flagVehicle string
	flagSession string
	flagWorkers int
	flagQueue   int
	flagMode    string
	flagTimeout time.Duration
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "ingest",
		Short: "Stream vehicle detection events from a CSV file into Kafka",
		Long: `ingest reads perception CSV output (frame_number, timestamp_sec, u, v,
confidence, class_name and optional GPS columns), enriches each row with a
unique detection identifier and run metadata, and publishes it to a Kafka
topic with at-least-once delivery. Broker settings come from the environment
(KAFKA_* variables, optionally via a .env file).`,
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().StringVar(&flagCSV, "csv", "", "path to the detection CSV file (required)")
	root.Flags().StringVar(&flagTopic, "topic", "", "destination Kafka topic (default $KAFKA_TOPIC)")
	root.Flags().StringVar(&flagVehicle, "vehicle", "vehicle-001", "vehicle identifier stamped on every message")
	root.Flags().StringVar(&flagSession, "session", "", "session identifier (generated if empty)")
	root.Flags().IntVar(&flagWorkers, "workers", detectkafka.DefaultWorkers, "number of concurrent senders")
	root.Flags().IntVar(&flagQueue, "queue", detectkafka.DefaultQueueCapacity, "dispatch queue capacity")
	root.Flags().StringVar(&flagMode, "mode", "stream", "run mode: stream or batch")
	root.Flags().DurationVar(&flagTimeout, "timeout", 0, "global run deadline (0 = none)")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	_ = root.MarkFlagRequired("csv")

	if err := root.Execute(); err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("run failed")
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger := newLogger(flagVerbose)

	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("no .env file found, using environment variables")
	}

	if flagSession == "" {
		flagSession = uuid.NewString()
	}
	topic := flagTopic
	if topic == "" {
		topic = getEnv("KAFKA_TOPIC", "traffic-sign-detections")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kgoLogger := detectkafka.NewZerologAdapter(logger)

	publisher := &detectkafka.Publisher{
		Brokers:          strings.Split(getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092"), ","),
		Topic:            topic,
		CompressionCodec: detectkafka.Compression(getEnv("KAFKA_COMPRESSION", "snappy")),
		Acks:             detectkafka.Acks(getEnv("KAFKA_ACKS", "all")),
		Linger:           time.Duration(getEnvInt("KAFKA_LINGER_MS", 10)) * time.Millisecond,
		RequestTimeout:   30 * time.Second,
		CleanupTimeout:   90 * time.Second,
		Logger:           kgoLogger,
	}

	if user := os.Getenv("KAFKA_SASL_USERNAME"); user != "" {
		publisher.SASL = plain.Auth{
			User: user,
			Pass: os.Getenv("KAFKA_SASL_PASSWORD"),
		}.AsMechanism()
		publisher.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	logger.Info().
		Str("csv", flagCSV).
		Str("topic", topic).
		Str("vehicle_id", flagVehicle).
		Str("session_id", flagSession).
		Int("workers", flagWorkers).
		Str("mode", flagMode).
		Msg("starting ingestion run")

	if err := publisher.Start(ctx); err != nil {
		return err
	}
	defer publisher.Stop(context.Background())

	pipeline := &detectkafka.Pipeline{
		Input:         flagCSV,
		Publisher:     publisher,
		VehicleID:     flagVehicle,
		SessionID:     flagSession,
		Workers:       flagWorkers,
		QueueCapacity: flagQueue,
		Mode:          detectkafka.Mode(flagMode),
		Deadline:      flagTimeout,
		Logger:        kgoLogger,
	}

	summary, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info().
		Int64("read", summary.Read).
		Int64("rejected", summary.Rejected).
		Int64("sent", summary.Sent).
		Int64("acked", summary.Acked).
		Int64("failed", summary.Failed).
		Int64("pending", summary.Pending).
		Int64("retries", summary.Retries).
		Dur("elapsed", summary.Elapsed).
		Float64("throughput_per_sec", summary.Throughput()).
		Float64("success_rate", summary.SuccessRate()).
		Msg("run complete")

	return nil
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
