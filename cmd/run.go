/*
Copyright © 2020 Markus Kont alias013@gmail.com

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	sigma "github.com/markuskont/sigmastream"
	"github.com/markuskont/sigmastream/broker"
	"github.com/markuskont/sigmastream/consumer"
)

// runCmd reads events from a broker.Source, matches them against a compiled
// ruleset, and writes matches to a broker.Sink. The default transport is
// stdin/stdout, so any stream can still be piped into the command exactly
// as before:
//
//	zcat ~/Logs/windows.json.gz | sigmastream run
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate a sigma ruleset against a broker stream",
	Run:   run,
}

func openSource() (broker.Source, error) {
	switch viper.GetString("sigma.transport") {
	case "nats":
		return broker.NewNatsSource(broker.NatsConfig{
			URL:     viper.GetString("sigma.nats.url"),
			Stream:  viper.GetString("sigma.nats.stream"),
			Subject: viper.GetString("sigma.nats.subject"),
			Durable: viper.GetString("sigma.nats.durable"),
		})
	default:
		return broker.NewStdioSource(viper.GetString("sigma.input"))
	}
}

func openSink() (broker.Sink, error) {
	switch viper.GetString("sigma.transport") {
	case "nats":
		return broker.NewNatsSink(broker.NatsConfig{
			URL:     viper.GetString("sigma.nats.url"),
			Subject: viper.GetString("sigma.nats.output-subject"),
		})
	default:
		return broker.NewStdioSink(os.Stdout), nil
	}
}

// openDLQ opens the optional dead letter sink. Returns a nil broker.Sink
// (not an error) when no DLQ topic/subject was configured, matching
// consumer.Config.DLQ's "nil disables dead-lettering" contract.
func openDLQ() (broker.Sink, error) {
	switch viper.GetString("sigma.transport") {
	case "nats":
		subject := viper.GetString("sigma.nats.dlq-subject")
		if subject == "" {
			return nil, nil
		}
		return broker.NewNatsSink(broker.NatsConfig{
			URL:     viper.GetString("sigma.nats.url"),
			Subject: subject,
		})
	default:
		if !viper.GetBool("sigma.dlq.stderr") {
			return nil, nil
		}
		return broker.NewStdioSink(os.Stderr), nil
	}
}

func run(cmd *cobra.Command, args []string) {
	rs, err := sigma.NewRuleset(sigma.Config{
		Directory:           viper.GetStringSlice("rules.dir"),
		NoCollapseWS:        viper.GetBool("sigma.no-collapse-ws"),
		ReplaceDuplicateIDs: true,
		PlaceholderPath:     viper.GetString("sigma.placeholders.path"),
	})
	if err != nil {
		logrus.WithError(err).Error("failed to load ruleset")
		os.Exit(1)
	}
	logrus.WithFields(logrus.Fields{
		"total": rs.Total, "ok": rs.Ok, "failed": rs.Failed, "unsupported": rs.Unsupported,
	}).Info("ruleset loaded")

	source, err := openSource()
	if err != nil {
		logrus.WithError(err).Error("failed to open source")
		os.Exit(1)
	}
	sink, err := openSink()
	if err != nil {
		logrus.WithError(err).Error("failed to open sink")
		os.Exit(1)
	}
	dlq, err := openDLQ()
	if err != nil {
		logrus.WithError(err).Error("failed to open dead letter sink")
		os.Exit(1)
	}

	metrics := consumer.NewEvalMetrics(prometheus.DefaultRegisterer)
	metrics.SetRuleCounts(rs.Ok, rs.Failed, rs.Unsupported)
	if addr := viper.GetString("sigma.run.metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				logrus.WithError(err).Error("metrics listener exited")
			}
		}()
		logrus.Infof("serving metrics on %s/metrics", addr)
	}

	pipeline := consumer.NewPipeline(consumer.Config{
		Source:             source,
		Sink:               sink,
		DLQ:                dlq,
		Topic:              viper.GetString("sigma.output-topic"),
		Ruleset:            rs,
		Workers:            viper.GetInt("sigma.workers"),
		EvalTimeout:        viper.GetDuration("sigma.consumer.timeout.value"),
		Retry: consumer.RetryPolicy{
			MaxRetries: viper.GetInt("sigma.retry.max-retries"),
			BaseDelay:  viper.GetDuration("sigma.retry.base-delay"),
			MaxDelay:   viper.GetDuration("sigma.retry.max-delay"),
			Multiplier: viper.GetFloat64("sigma.retry.multiplier"),
		},
		Capacity:           viper.GetInt("sigma.consumer.capacity"),
		CommitInterval:     viper.GetDuration("sigma.consumer.commit.interval"),
		CommitThreshold:    viper.GetInt("sigma.consumer.commit.threshold"),
		ShutdownGrace:      viper.GetDuration("sigma.consumer.shutdown.grace"),
		MaxEventsPerSecond: viper.GetFloat64("sigma.consumer.max-eps"),
		Metrics:            metrics,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interval := viper.GetDuration("sigma.placeholders.interval"); interval > 0 {
		if err := rs.WatchPlaceholders(ctx, interval, func(err error) {
			if err != nil {
				logrus.WithError(err).Warn("placeholder reload failed")
			}
		}); err != nil {
			logrus.WithError(err).Error("failed to start placeholder watcher")
			os.Exit(1)
		}
	}

	if err := pipeline.Run(ctx); err != nil {
		logrus.WithError(err).Error("pipeline exited with error")
		if ctx.Err() != nil {
			os.Exit(2)
		}
		os.Exit(1)
	}
	if ctx.Err() != nil {
		os.Exit(2)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.PersistentFlags().Int("sigma-workers", 4,
		`Number of workers for sigma matching.`)
	viper.BindPFlag("sigma.workers", runCmd.PersistentFlags().Lookup("sigma-workers"))

	runCmd.PersistentFlags().String("sigma-input", "",
		`Input log file. Empty reads from stdin.`)
	viper.BindPFlag("sigma.input", runCmd.PersistentFlags().Lookup("sigma-input"))

	runCmd.PersistentFlags().String("sigma-transport", "stdio",
		`Broker transport: "stdio" or "nats".`)
	viper.BindPFlag("sigma.transport", runCmd.PersistentFlags().Lookup("sigma-transport"))

	runCmd.PersistentFlags().String("sigma-output-topic", "sigma.matches",
		`Sink topic/subject for match output.`)
	viper.BindPFlag("sigma.output-topic", runCmd.PersistentFlags().Lookup("sigma-output-topic"))

	runCmd.PersistentFlags().String("sigma-nats-url", "nats://127.0.0.1:4222",
		`NATS server URL, used when --sigma-transport=nats.`)
	viper.BindPFlag("sigma.nats.url", runCmd.PersistentFlags().Lookup("sigma-nats-url"))

	runCmd.PersistentFlags().String("sigma-nats-stream", "", `JetStream stream name.`)
	viper.BindPFlag("sigma.nats.stream", runCmd.PersistentFlags().Lookup("sigma-nats-stream"))

	runCmd.PersistentFlags().String("sigma-nats-subject", "", `JetStream input subject.`)
	viper.BindPFlag("sigma.nats.subject", runCmd.PersistentFlags().Lookup("sigma-nats-subject"))

	runCmd.PersistentFlags().String("sigma-nats-output-subject", "", `JetStream output subject.`)
	viper.BindPFlag("sigma.nats.output-subject", runCmd.PersistentFlags().Lookup("sigma-nats-output-subject"))

	runCmd.PersistentFlags().String("sigma-nats-durable", "sigmastream", `JetStream durable consumer name.`)
	viper.BindPFlag("sigma.nats.durable", runCmd.PersistentFlags().Lookup("sigma-nats-durable"))

	runCmd.PersistentFlags().String("sigma-nats-dlq-subject", "", `JetStream dead letter subject, used when --sigma-transport=nats. Empty disables dead-lettering.`)
	viper.BindPFlag("sigma.nats.dlq-subject", runCmd.PersistentFlags().Lookup("sigma-nats-dlq-subject"))

	runCmd.PersistentFlags().Bool("sigma-dlq-stderr", false, `Dead-letter to stderr, used when --sigma-transport=stdio. False disables dead-lettering.`)
	viper.BindPFlag("sigma.dlq.stderr", runCmd.PersistentFlags().Lookup("sigma-dlq-stderr"))

	runCmd.PersistentFlags().Int("sigma-retry-max-retries", 0, `Max retry attempts for a failed sink write or broker fetch before giving up. Zero uses the built-in default.`)
	viper.BindPFlag("sigma.retry.max-retries", runCmd.PersistentFlags().Lookup("sigma-retry-max-retries"))

	runCmd.PersistentFlags().Duration("sigma-retry-base-delay", 0, `Base backoff delay before the first retry. Zero uses the built-in default.`)
	viper.BindPFlag("sigma.retry.base-delay", runCmd.PersistentFlags().Lookup("sigma-retry-base-delay"))

	runCmd.PersistentFlags().Duration("sigma-retry-max-delay", 0, `Backoff ceiling across retries.`)
	viper.BindPFlag("sigma.retry.max-delay", runCmd.PersistentFlags().Lookup("sigma-retry-max-delay"))

	runCmd.PersistentFlags().Float64("sigma-retry-multiplier", 0, `Backoff growth factor per retry attempt.`)
	viper.BindPFlag("sigma.retry.multiplier", runCmd.PersistentFlags().Lookup("sigma-retry-multiplier"))

	runCmd.PersistentFlags().Bool("sigma-no-collapse-ws", false, `Disable whitespace collapsing during rule evaluation.`)
	viper.BindPFlag("sigma.no-collapse-ws", runCmd.PersistentFlags().Lookup("sigma-no-collapse-ws"))

	runCmd.PersistentFlags().Duration("sigma-consumer-timeout-value", 30*time.Second,
		`Per-event evaluation deadline.`)
	viper.BindPFlag("sigma.consumer.timeout.value", runCmd.PersistentFlags().Lookup("sigma-consumer-timeout-value"))

	runCmd.PersistentFlags().Int("sigma-consumer-capacity", 10000, `In-flight event capacity before backpressure pauses ingestion.`)
	viper.BindPFlag("sigma.consumer.capacity", runCmd.PersistentFlags().Lookup("sigma-consumer-capacity"))

	runCmd.PersistentFlags().Duration("sigma-consumer-commit-interval", 5*time.Second, `Offset commit flush interval.`)
	viper.BindPFlag("sigma.consumer.commit.interval", runCmd.PersistentFlags().Lookup("sigma-consumer-commit-interval"))

	runCmd.PersistentFlags().Int("sigma-consumer-commit-threshold", 1000, `Offset commit flush message-count threshold.`)
	viper.BindPFlag("sigma.consumer.commit.threshold", runCmd.PersistentFlags().Lookup("sigma-consumer-commit-threshold"))

	runCmd.PersistentFlags().Duration("sigma-consumer-shutdown-grace", 30*time.Second, `Grace period for in-flight workers to finish on shutdown.`)
	viper.BindPFlag("sigma.consumer.shutdown.grace", runCmd.PersistentFlags().Lookup("sigma-consumer-shutdown-grace"))

	runCmd.PersistentFlags().Float64("sigma-consumer-max-eps", 0, `Hard cap on ingress events per second. Zero disables the cap.`)
	viper.BindPFlag("sigma.consumer.max-eps", runCmd.PersistentFlags().Lookup("sigma-consumer-max-eps"))

	runCmd.PersistentFlags().String("sigma-placeholders-path", "", `Path to a placeholder substitution file.`)
	viper.BindPFlag("sigma.placeholders.path", runCmd.PersistentFlags().Lookup("sigma-placeholders-path"))

	runCmd.PersistentFlags().Duration("sigma-placeholders-interval", 0, `Reload interval for the placeholder file. Zero disables reload.`)
	viper.BindPFlag("sigma.placeholders.interval", runCmd.PersistentFlags().Lookup("sigma-placeholders-interval"))

	runCmd.PersistentFlags().String("sigma-run-metrics-addr", "", `Listen address for an in-process /metrics endpoint. Empty disables it; run "serve-metrics" separately instead if preferred.`)
	viper.BindPFlag("sigma.run.metrics-addr", runCmd.PersistentFlags().Lookup("sigma-run-metrics-addr"))
}
