package commands

import (
	"log/slog"
	"time"

	"sapn-exporter/lib/restyutil"
	"sapn-exporter/lib/scrapers/sapn"
	"sapn-exporter/lib/serviceutil"
	"sapn-exporter/services/exporter"
	"sapn-exporter/services/pipeline"

	"github.com/spf13/cobra"
)

var scrapeDumpHttp *bool

func init() {
	scrapeDumpHttp = scrapeCmd.Flags().Bool("dump-http", false, "Dump portal http traffic to .dev/resty for debugging.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--dump-http]",
	Short: "Runs a single scrape according to the config and writes to the configured sinks.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if *scrapeDumpHttp {
			sapn.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/scraper"))
		}

		ctx := cmd.Context()
		var influx pipeline.InfluxSink
		if cfg.InfluxDb != nil {
			sink, err := exporter.NewInfluxSink(ctx, *cfg.InfluxDb)
			if err != nil {
				serviceutil.Fatal("failed to connect to influxdb", err)
			}
			defer sink.Close()
			influx = sink
		}

		runner := pipeline.NewRunner(pipeline.New(cfg.pipelineConfig()), influx, nil)

		t1 := time.Now()
		err = runner.Scrape(ctx)
		if err != nil {
			serviceutil.Fatal("scrape failed", err)
		}
		slog.Info("scrape time", "seconds", time.Since(t1).Seconds())
	},
}
