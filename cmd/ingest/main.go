// Command ingest loads profit-and-loss exports from the local filesystem. With
// -dry-run it only parses the files and prints the assembled records as CSV;
// otherwise it stages them as one upload and runs it to completion.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"clinicledger/internal/app"
	"clinicledger/internal/config"
	"clinicledger/internal/dataprocessing"
	"clinicledger/internal/exporter"
	"clinicledger/internal/files"
	"clinicledger/internal/infrastructure"
	"clinicledger/internal/ingestion"
	"clinicledger/internal/operations"
	"clinicledger/pkg/contracts/domain"
	"clinicledger/pkg/contracts/events"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dryRun := fs.Bool("dry-run", false, "parse files and print the assembled records without saving")
	totals := fs.Bool("totals", false, "include derived totals in dry-run output")
	uploadedBy := fs.String("uploaded-by", os.Getenv("USER"), "name recorded as the uploader")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: ingest [-dry-run] [-totals] [-uploaded-by name] <file|dir>...")
		return 2
	}

	found, err := files.NewDiscovery(".csv", ".xlsx").Find(fs.Args()...)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(found) == 0 {
		fmt.Fprintln(stderr, "no .csv or .xlsx files found")
		return 1
	}

	if *dryRun {
		return preview(found, *totals, stdout, stderr)
	}
	if *uploadedBy == "" {
		*uploadedBy = "cli"
	}
	return ingest(ctx, found, *uploadedBy, stdout, stderr)
}

func preview(found []files.FileInfo, withTotals bool, stdout, stderr io.Writer) int {
	assembler := dataprocessing.NewAssembler(dataprocessing.DefaultLayout())
	var records []dataprocessing.AssembledRecord
	failed := 0
	for _, f := range found {
		content, err := os.ReadFile(f.Path)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", f.Name, err)
			failed++
			continue
		}
		grid, err := dataprocessing.ReadGrid(f.Name, content)
		if err == nil {
			var parsed *dataprocessing.ParsedFile
			if parsed, err = assembler.Assemble(f.Name, grid); err == nil {
				records = append(records, parsed.Records...)
				if len(parsed.Unmapped) > 0 {
					fmt.Fprintf(stderr, "%s: %d unmapped labels\n", f.Name, len(parsed.Unmapped))
				}
				continue
			}
		}
		fmt.Fprintf(stderr, "%s: %v\n", f.Name, err)
		failed++
	}

	if err := exporter.WriteCSV(stdout, records, exporter.Options{Totals: withTotals}); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func ingest(ctx context.Context, found []files.FileInfo, uploadedBy string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	cfg.Scheduler.Enabled = false

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() {
		if err := a.Stop(context.Background()); err != nil {
			logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
		}
	}()

	a.Broadcaster.Start()
	_ = a.Broadcaster.Subscribe(operations.ObserverFunc{Name: "console", Fn: func(e events.ProgressEvent) error {
		_, err := fmt.Fprintf(stdout, "[%3d%%] %s %s\n", e.Progress, e.Status, e.Message)
		return err
	}})

	uploads := make([]ingestion.FileUpload, 0, len(found))
	for _, f := range found {
		content, err := os.ReadFile(f.Path)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", f.Name, err)
			return 1
		}
		uploads = append(uploads, ingestion.FileUpload{Name: f.Name, Content: content})
	}

	upload, err := a.Service.BeginUpload(ctx, uploads, uploadedBy)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	upload, err = a.Service.RunNow(ctx, upload.ID, a.Orchestrator)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, err)
	}
	if upload == nil {
		return 1
	}

	fmt.Fprintf(stdout, "upload %s: %s, %d records, %d failed\n", upload.ID, upload.Status, upload.RecordsProcessed, upload.RecordsFailed)
	for _, e := range upload.Errors {
		fmt.Fprintf(stdout, "  %s %s: %s\n", e.Kind, e.File, e.Message)
	}
	for _, w := range upload.Warnings {
		fmt.Fprintf(stdout, "  warning: %s\n", w)
	}
	if upload.Status != domain.UploadStatusCompleted {
		return 1
	}
	return 0
}
