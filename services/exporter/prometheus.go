package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"sapn-exporter/lib/nem12"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultMetricsPort = 9120

// PromSink exposes day-level gauges over /metrics. Per-interval points
// belong in InfluxDB; publishing 288 slots a day as labeled series would
// blow up cardinality for no querying benefit.
type PromSink struct {
	registry *prometheus.Registry

	dailyEnergy   *prometheus.GaugeVec
	latestReading *prometheus.GaugeVec
	dataDays      *prometheus.GaugeVec
	scrapeSuccess prometheus.Gauge
	scrapeTotal   *prometheus.CounterVec
}

func NewPromSink() *PromSink {
	registry := prometheus.NewRegistry()

	s := &PromSink{
		registry: registry,
		dailyEnergy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sapn_daily_energy_kwh",
			Help: "Daily total energy consumption in kWh",
		}, []string{"nmi", "date"}),
		latestReading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sapn_latest_reading_timestamp",
			Help: "Unix timestamp of the latest reading date",
		}, []string{"nmi"}),
		dataDays: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sapn_data_days_total",
			Help: "Total number of days of data available",
		}, []string{"nmi"}),
		scrapeSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sapn_scrape_success",
			Help: "Whether the last scrape succeeded (1) or failed (0)",
		}),
		scrapeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sapn_scrape_total",
			Help: "Total number of scrape attempts",
		}, []string{"status"}),
	}
	registry.MustRegister(
		s.dailyEnergy,
		s.latestReading,
		s.dataDays,
		s.scrapeSuccess,
		s.scrapeTotal,
	)
	return s
}

// Serve exposes /metrics until the context is cancelled.
func (s *PromSink) Serve(ctx context.Context, port int) error {
	if port == 0 {
		port = DefaultMetricsPort
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("serving prometheus metrics", "port", port)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Update refreshes the day-level gauges from a decoded dataset.
func (s *PromSink) Update(ctx context.Context, data nem12.Dataset) {
	if len(data.Readings) == 0 {
		slog.WarnContext(ctx, "no readings to update metrics with", "nmi", data.NMI)
		return
	}

	dates := nem12.Dates(data.Readings)
	for _, date := range dates {
		s.dailyEnergy.WithLabelValues(data.NMI, date).Set(nem12.DailyTotal(data.Readings, date))
	}

	latest := nem12.LatestDate(data.Readings)
	epoch, err := nem12.IntervalEpoch(latest, 0)
	if err == nil {
		s.latestReading.WithLabelValues(data.NMI).Set(float64(epoch))
	}

	s.dataDays.WithLabelValues(data.NMI).Set(float64(len(dates)))

	slog.InfoContext(
		ctx, "updated prometheus gauges",
		"nmi", data.NMI,
		"days", len(dates),
		"latest", latest,
	)
}

// RecordScrape records the outcome of one pipeline run.
func (s *PromSink) RecordScrape(success bool) {
	if success {
		s.scrapeSuccess.Set(1)
		s.scrapeTotal.WithLabelValues("success").Inc()
		return
	}
	s.scrapeSuccess.Set(0)
	s.scrapeTotal.WithLabelValues("failure").Inc()
}
