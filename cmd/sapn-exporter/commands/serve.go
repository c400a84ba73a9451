package commands

import (
	"fmt"
	"log/slog"

	"sapn-exporter/lib/serviceutil"
	"sapn-exporter/lib/telemetry"
	"sapn-exporter/lib/timezone"
	"sapn-exporter/services/exporter"
	"sapn-exporter/services/pipeline"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the exporter daemon: scrapes on a daily schedule and serves prometheus metrics.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		ctx := serviceutil.SignalContext()
		telemetry.InstrumentPerfStats(ctx)

		prom := exporter.NewPromSink()
		go func() {
			err := prom.Serve(ctx, cfg.MetricsPort)
			if err != nil {
				serviceutil.Fatal("metrics server failed", err)
			}
		}()

		var influx pipeline.InfluxSink
		if cfg.InfluxDb != nil {
			sink, err := exporter.NewInfluxSink(ctx, *cfg.InfluxDb)
			if err != nil {
				serviceutil.Fatal("failed to connect to influxdb", err)
			}
			defer sink.Close()
			influx = sink
		}

		runner := pipeline.NewRunner(pipeline.New(cfg.pipelineConfig()), influx, prom)

		// scrape once at startup so the gauges are populated right away,
		// a failure here is logged and retried at the next scheduled run
		err = runner.Scrape(ctx)
		if err != nil {
			slog.Error("startup scrape failed", "err", err)
		}

		cronner := cron.New(
			cron.WithLogger(cronSlog{}),
			cron.WithLocation(timezone.Location),
		)
		_, err = cronner.AddFunc(fmt.Sprintf("0 %d * * *", cfg.ScrapeHour), func() {
			err := runner.Scrape(ctx)
			if err != nil {
				slog.Error("scheduled scrape failed", "err", err)
			}
		})
		if err != nil {
			serviceutil.Fatal("failed to schedule scrape", err)
		}
		cronner.Start()
		slog.Info(
			"scheduled daily scrape",
			"hour", cfg.ScrapeHour,
			"timezone", timezone.Location.String(),
		)

		<-ctx.Done()
		<-cronner.Stop().Done()
	},
}

type cronSlog struct{}

func (cronSlog) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronSlog) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"err", err}, keysAndValues...)...)
}
