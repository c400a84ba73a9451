// Package pipeline wires one scrape run end to end: authenticate against
// the portal, extract the remoting context, download the NEM12 payload,
// decode it, and hand the dataset to the configured sinks.
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"sapn-exporter/lib/nem12"
	"sapn-exporter/lib/retryutil"
	"sapn-exporter/lib/scrapers/sapn"
	"sapn-exporter/lib/telemetry"

	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("sapn-exporter.services.pipeline")

// Config is constructed once at startup and never mutated afterwards.
type Config struct {
	// defaults to the production portal
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	NMI      string `json:"nmi"`

	// test hook; zero value means the default backoff
	Retry retryutil.Policy `json:"-"`
}

type Pipeline struct {
	cfg Config
}

func New(cfg Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Run executes one scrape. Every run builds a fresh client: cookies and
// remoting tokens are session-scoped and must not leak between runs.
// The steps are strictly sequential, nothing here is safe to overlap on
// the same session.
func (p *Pipeline) Run(ctx context.Context) (nem12.Dataset, error) {
	ctx, span := tracer.Start(ctx, "pipeline:Run")
	defer span.End()

	client, err := sapn.NewClient(sapn.ClientOptions{
		BaseUrl:  p.cfg.BaseUrl,
		Username: p.cfg.Username,
		Password: p.cfg.Password,
		Retry:    p.cfg.Retry,
	})
	if err != nil {
		return nem12.Dataset{}, err
	}

	slog.InfoContext(ctx, "logging in", "username", p.cfg.Username)
	err = client.Login(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "login failed")
		return nem12.Dataset{}, err
	}

	page, err := client.FetchMeterDataPage(ctx, p.cfg.NMI)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch meter data page")
		return nem12.Dataset{}, err
	}
	rctx, err := sapn.ExtractRemotingContext(page)
	if err != nil {
		span.SetStatus(codes.Error, "failed to extract remoting context")
		return nem12.Dataset{}, err
	}

	slog.InfoContext(ctx, "downloading nem12 data", "nmi", p.cfg.NMI)
	payload, err := client.DownloadNMIData(ctx, rctx, sapn.DownloadRequest{NMI: p.cfg.NMI})
	if err != nil {
		span.SetStatus(codes.Error, "download failed")
		return nem12.Dataset{}, err
	}

	data, err := nem12.Decode(payload)
	if err != nil {
		span.SetStatus(codes.Error, "decode failed")
		return nem12.Dataset{}, err
	}
	if data.NMI != p.cfg.NMI {
		slog.WarnContext(
			ctx, "payload nmi differs from configured nmi",
			"configured", p.cfg.NMI,
			"payload", data.NMI,
		)
	}

	slog.InfoContext(ctx, "decoded readings", "nmi", data.NMI, "readings", len(data.Readings))
	return data, nil
}

// InfluxSink is the subset of the InfluxDB exporter the runner needs.
type InfluxSink interface {
	WriteAll(ctx context.Context, data nem12.Dataset) (int, int, error)
	WriteScrapeStatus(ctx context.Context, nmi string, success bool, duration time.Duration, readings int) error
}

// PromSink is the subset of the Prometheus exporter the runner needs.
type PromSink interface {
	Update(ctx context.Context, data nem12.Dataset)
	RecordScrape(success bool)
}

// Runner runs the pipeline and fans the dataset out to sinks. It
// guarantees at most one run in flight; overlapping runs would race on
// session state and can trip the portal's duplicate-request protection.
type Runner struct {
	pipeline *Pipeline
	influx   InfluxSink
	prom     PromSink
	running  atomic.Bool
}

// either sink may be nil
func NewRunner(pipeline *Pipeline, influx InfluxSink, prom PromSink) *Runner {
	return &Runner{
		pipeline: pipeline,
		influx:   influx,
		prom:     prom,
	}
}

// Scrape runs the pipeline once and records the outcome. A failed run
// writes failure status only, never partial readings.
func (r *Runner) Scrape(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		slog.WarnContext(ctx, "previous scrape still running, skipping")
		return nil
	}
	defer r.running.Store(false)

	start := time.Now()
	data, err := r.pipeline.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "scrape failed", "err", err)
		r.recordStatus(ctx, false, time.Since(start), 0)
		return err
	}

	written := 0
	if r.influx != nil {
		var dailies int
		written, dailies, err = r.influx.WriteAll(ctx, data)
		if err != nil {
			slog.ErrorContext(ctx, "influxdb write failed", "err", err)
			r.recordStatus(ctx, false, time.Since(start), 0)
			return err
		}
		slog.InfoContext(ctx, "wrote to influxdb", "intervals", written, "daily_totals", dailies)
	}
	if r.prom != nil {
		r.prom.Update(ctx, data)
	}

	r.recordStatus(ctx, true, time.Since(start), written)
	slog.InfoContext(ctx, "scrape completed", "duration", time.Since(start))
	return nil
}

func (r *Runner) recordStatus(ctx context.Context, success bool, duration time.Duration, readings int) {
	if r.prom != nil {
		r.prom.RecordScrape(success)
	}
	if r.influx != nil {
		err := r.influx.WriteScrapeStatus(ctx, r.pipeline.cfg.NMI, success, duration, readings)
		if err != nil {
			slog.WarnContext(ctx, "failed to write scrape status", "err", err)
		}
	}
}
