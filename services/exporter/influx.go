// Package exporter holds the downstream sinks interval datasets are
// handed to: an InfluxDB writer for graphing readings at their true
// timestamps, and a Prometheus exporter for day-level gauges. Sinks
// consume datasets by value and never mutate them.
package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sapn-exporter/lib/nem12"
	"sapn-exporter/lib/telemetry"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("sapn-exporter.services.exporter")

type InfluxConfig struct {
	Url    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes interval readings to InfluxDB with their actual
// timestamps so Grafana can graph them as a proper time series.
//
// Measurements written:
//   - sapn_electricity: per-interval kWh points
//   - sapn_daily_total: daily aggregates stamped at local midnight
//   - sapn_scrape: operational status (success, duration, reading count)
type InfluxSink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	org    string
	bucket string
}

func NewInfluxSink(ctx context.Context, cfg InfluxConfig) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.Url, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("influxdb health check: %w", err)
	}
	if health.Status != "pass" {
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}
	slog.InfoContext(ctx, "connected to influxdb", "url", cfg.Url, "bucket", cfg.Bucket)

	return &InfluxSink{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		org:    cfg.Org,
		bucket: cfg.Bucket,
	}, nil
}

func (s *InfluxSink) Close() {
	s.client.Close()
}

// WriteReadings writes one point per interval reading and returns the
// number of points written.
func (s *InfluxSink) WriteReadings(ctx context.Context, data nem12.Dataset) (int, error) {
	ctx, span := tracer.Start(ctx, "influx:WriteReadings")
	defer span.End()

	points := make([]*write.Point, 0, len(data.Readings))
	for _, r := range data.Readings {
		epoch, err := nem12.IntervalEpoch(r.Date, r.Interval)
		if err != nil {
			span.SetStatus(codes.Error, "failed to derive reading timestamp")
			return 0, err
		}
		point := influxdb2.NewPoint(
			"sapn_electricity",
			map[string]string{"nmi": data.NMI, "quality": r.Quality},
			map[string]interface{}{"kwh": r.Value},
			time.Unix(epoch, 0),
		)
		points = append(points, point)
	}

	err := s.write.WritePoint(ctx, points...)
	if err != nil {
		span.SetStatus(codes.Error, "failed to write interval points")
		return 0, err
	}
	slog.InfoContext(ctx, "wrote interval readings", "nmi", data.NMI, "points", len(points))
	return len(points), nil
}

// WriteDailyTotals writes one midnight-stamped point per record date.
func (s *InfluxSink) WriteDailyTotals(ctx context.Context, data nem12.Dataset) (int, error) {
	ctx, span := tracer.Start(ctx, "influx:WriteDailyTotals")
	defer span.End()

	dates := nem12.Dates(data.Readings)
	points := make([]*write.Point, 0, len(dates))
	for _, date := range dates {
		epoch, err := nem12.IntervalEpoch(date, 0)
		if err != nil {
			span.SetStatus(codes.Error, "failed to derive date timestamp")
			return 0, err
		}
		point := influxdb2.NewPoint(
			"sapn_daily_total",
			map[string]string{"nmi": data.NMI},
			map[string]interface{}{"kwh": nem12.DailyTotal(data.Readings, date)},
			time.Unix(epoch, 0),
		)
		points = append(points, point)
	}

	err := s.write.WritePoint(ctx, points...)
	if err != nil {
		span.SetStatus(codes.Error, "failed to write daily totals")
		return 0, err
	}
	slog.InfoContext(ctx, "wrote daily totals", "nmi", data.NMI, "points", len(points))
	return len(points), nil
}

// WriteAll writes interval readings then daily totals.
func (s *InfluxSink) WriteAll(ctx context.Context, data nem12.Dataset) (int, int, error) {
	intervals, err := s.WriteReadings(ctx, data)
	if err != nil {
		return 0, 0, err
	}
	dailies, err := s.WriteDailyTotals(ctx, data)
	if err != nil {
		return intervals, 0, err
	}
	return intervals, dailies, nil
}

// WriteScrapeStatus records the outcome of one pipeline run.
func (s *InfluxSink) WriteScrapeStatus(ctx context.Context, nmi string, success bool, duration time.Duration, readings int) error {
	ctx, span := tracer.Start(ctx, "influx:WriteScrapeStatus")
	defer span.End()

	successValue := 0
	if success {
		successValue = 1
	}
	point := influxdb2.NewPoint(
		"sapn_scrape",
		map[string]string{"nmi": nmi},
		map[string]interface{}{
			"success":          successValue,
			"duration_seconds": duration.Seconds(),
			"readings_count":   readings,
		},
		time.Now(),
	)
	err := s.write.WritePoint(ctx, point)
	if err != nil {
		span.SetStatus(codes.Error, "failed to write scrape status")
		return err
	}
	return nil
}
