package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"fleetsync/internal/app"
	"fleetsync/pkg/config"
	"fleetsync/pkg/fleet"
	"fleetsync/pkg/logger"
	"fleetsync/pkg/progress"
	"fleetsync/pkg/report"
	"fleetsync/pkg/transfer"
)

type options struct {
	configPath  string
	operation   string
	hosts       string
	region      string
	sets        string
	collections string
	format      string
	out         string
	dryRun      bool
	verbose     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "/etc/fleetsync/config.toml", "path to config file")
	flag.StringVar(&opts.operation, "op", "deploy", "operation: deploy, collect, purge or plan")
	flag.StringVar(&opts.hosts, "hosts", "", "comma-separated hostnames (default: all enabled hosts)")
	flag.StringVar(&opts.region, "region", "", "only hosts in this region")
	flag.StringVar(&opts.sets, "sets", "", "comma-separated deploy sets (default: enabled sets)")
	flag.StringVar(&opts.collections, "collection", "", "comma-separated log collections (default: all)")
	flag.StringVar(&opts.format, "format", "console", "report format: console, text, csv or json")
	flag.StringVar(&opts.out, "out", "", "also write the report to this file")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "show what would be done without connecting")
	flag.BoolVar(&opts.verbose, "v", false, "verbose progress and debug logging")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, opts, os.Stdout, os.Stderr))
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) int {
	log := logger.New(stderr)
	if opts.verbose {
		log.SetLevel(logger.LevelDebug)
	} else {
		log.SetLevel(logger.LevelWarn)
	}

	op, err := app.ParseOperation(opts.operation)
	if err != nil {
		log.Error("invalid operation", err, nil)
		return 2
	}
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		log.Error("invalid report format", err, nil)
		return 2
	}

	cfg, err := config.LoadFromFile(opts.configPath)
	if err != nil {
		log.Error("failed to load config", err, map[string]any{
			"config_path": opts.configPath,
		})
		return 2
	}

	runner := app.NewRunner(cfg, transfer.NewFactory(), log)
	req := app.Request{
		Operation:   op,
		Hosts:       splitList(opts.hosts),
		Region:      opts.region,
		Sets:        splitList(opts.sets),
		Collections: splitList(opts.collections),
		DryRun:      opts.dryRun,
	}

	sink := progress.NewAsyncSink(progress.NewConsoleSink(stderr, opts.verbose), cfg.Transfer.ProgressBuffer)
	outcome, err := runner.Execute(ctx, req, sink)
	sink.Close()
	if err != nil {
		log.Error("operation rejected", err, map[string]any{"operation": op})
		return 2
	}

	if outcome.Plan != nil {
		if err := writePlan(stdout, outcome.Plan); err != nil {
			log.Error("failed to write plan", err, nil)
			return 1
		}
		return 0
	}

	rep := outcome.Report
	if err := report.Write(stdout, rep, format); err != nil {
		log.Error("failed to write report", err, nil)
	}
	if opts.out != "" {
		if err := writeReportFile(opts.out, rep); err != nil {
			log.Error("failed to write report file", err, map[string]any{"path": opts.out})
		}
	}

	if ctx.Err() != nil || !rep.Succeeded() {
		return 1
	}
	return 0
}

// writeReportFile picks the format from the file extension, falling back to
// plain text since console styling is meant for terminals.
func writeReportFile(path string, rep *fleet.FleetReport) error {
	format := report.FormatText
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		format = report.FormatCSV
	case ".json":
		format = report.FormatJSON
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.Write(f, rep, format); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writePlan(w io.Writer, plan *app.Plan) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s on %d host(s):\n", plan.Operation, len(plan.Hosts))
	for _, h := range plan.Hosts {
		fmt.Fprintf(&b, "  %s (%s:%d)\n", h.DisplayName(), h.Address, h.Port)
	}
	if len(plan.Mapping) > 0 {
		fmt.Fprintf(&b, "%d file(s):\n", len(plan.Mapping))
		for _, f := range plan.Mapping {
			fmt.Fprintf(&b, "  %s -> %s\n", f.Source, f.Destination)
		}
	}
	if len(plan.Collections) > 0 {
		fmt.Fprintf(&b, "collections: %s\n", strings.Join(plan.Collections, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
