// Command outlookcheck runs one outlook cycle for a coordinate and prints the
// resulting snapshot as JSON. It also reports which layers failed and checks
// the snapshot for consistency, exiting non-zero when a check fails.
//
// Usage:
//
//	go run ./cmd/outlookcheck -lat 42.2808 -lon -83.7430
//	go run ./cmd/outlookcheck -lat 35.22 -lon -97.44 -days 3 -format attributes -strict
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/couchcryptid/spc-outlook-service/internal/adapter/spc"
	"github.com/couchcryptid/spc-outlook-service/internal/domain"
	"github.com/couchcryptid/spc-outlook-service/internal/observability"
	"github.com/couchcryptid/spc-outlook-service/internal/pipeline"
	"github.com/google/uuid"
)

// phase tracks pass/fail for a check phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	lat, lon float64
	baseURL  string
	days     int
	timeout  time.Duration
	format   string
	strict   bool
	verbose  bool
}

func main() {
	var o options
	flag.Float64Var(&o.lat, "lat", 42.2808, "query latitude")
	flag.Float64Var(&o.lon, "lon", -83.7430, "query longitude")
	flag.StringVar(&o.baseURL, "base-url", domain.DefaultBaseURL, "SPC outlook product root")
	flag.IntVar(&o.days, "days", domain.DefaultDetailedDays, "number of leading days with hazard layers (0-8)")
	flag.DurationVar(&o.timeout, "timeout", 20*time.Second, "per-layer fetch timeout")
	flag.StringVar(&o.format, "format", "json", "output format: json or attributes")
	flag.BoolVar(&o.strict, "strict", false, "fail when any layer could not be retrieved")
	flag.BoolVar(&o.verbose, "v", false, "log layer fetches to stderr")
	flag.Parse()

	if o.format != "json" && o.format != "attributes" {
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(context.Background(), o, os.Stdout, os.Stderr))
}

func run(ctx context.Context, o options, stdout, stderr io.Writer) int {
	coord, err := domain.NewCoordinate(o.lat, o.lon)
	if err != nil {
		fmt.Fprintln(stderr, "invalid coordinate:", err)
		return 2
	}
	if o.days < 0 || o.days > domain.MaxDay {
		fmt.Fprintf(stderr, "invalid -days %d: must be 0-%d\n", o.days, domain.MaxDay)
		return 2
	}

	level := slog.LevelError
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	catalog := domain.CatalogConfig{BaseURL: o.baseURL, DetailedDays: o.days, Hazards: domain.DetailedHazards}
	metrics := observability.NewUnregisteredMetrics()
	client := spc.NewClient(o.timeout, metrics, logger, spc.WithoutCache())
	engine := pipeline.NewEngine(catalog, coord, client, logger, metrics)

	res, err := engine.ResolveDetailed(ctx, pipeline.Cycle{ID: uuid.NewString(), Start: time.Now().UTC()})
	if err != nil && !errors.Is(err, pipeline.ErrAllFeedsFailed) {
		fmt.Fprintln(stderr, "resolve:", err)
		return 1
	}
	snap, summary := res.Snapshot, res.Summary

	fetch := &phase{name: "fetch"}
	for _, r := range res.Results {
		if !r.OK() {
			fetch.errorf("%s: %s (status %d): %v", r.Descriptor.Key(), r.Status, r.StatusCode, r.Err)
		}
	}

	consistency := &phase{name: "consistency"}
	checkSnapshot(consistency, catalog, snap)

	if err := writeOutput(stdout, o.format, snap); err != nil {
		fmt.Fprintln(stderr, "write output:", err)
		return 1
	}

	fmt.Fprintf(stderr, "layers: %d ok, %d failed, %d matched, %d skipped features; freshness %s\n",
		summary.OK, summary.Failed, summary.Matched, summary.Anomalies, snap.Freshness)

	code := 0
	for _, p := range []*phase{fetch, consistency} {
		if p.passed() {
			fmt.Fprintf(stderr, "PASS %s\n", p.name)
			continue
		}
		fmt.Fprintf(stderr, "FAIL %s\n", p.name)
		for _, e := range p.errors {
			fmt.Fprintf(stderr, "  - %s\n", e)
		}
		if p != fetch || o.strict || summary.AllFailed() {
			code = 1
		}
	}
	return code
}

// checkSnapshot verifies the invariants every published snapshot must hold.
func checkSnapshot(p *phase, catalog domain.CatalogConfig, snap domain.Snapshot) {
	for i, rec := range snap.Days {
		day := i + 1
		if rec.Day != day {
			p.errorf("record %d reports day %d", day, rec.Day)
		}
		if rec.CategoricalRisk == "" {
			p.errorf("day %d: empty categorical risk", day)
		}
		if !catalog.InDetailedWindow(day) {
			if len(rec.Hazards) > 0 {
				p.errorf("day %d: hazards reported outside the detailed window", day)
			}
			continue
		}
		for _, h := range catalog.DetailedHazards() {
			prob, ok := rec.Probability(h)
			if !ok || prob == "" {
				p.errorf("day %d: missing %s probability", day, h)
			}
		}
	}
}

func writeOutput(w io.Writer, format string, snap domain.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if format == "attributes" {
		days := make(map[string]map[string]string, domain.MaxDay)
		for _, rec := range snap.Days {
			days[fmt.Sprintf("day%d", rec.Day)] = rec.Attributes()
		}
		return enc.Encode(days)
	}
	return enc.Encode(snap)
}
