package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"clinicledger/internal/clinics"
	"clinicledger/internal/dataprocessing"
	apperrors "clinicledger/internal/errors"
	"clinicledger/internal/files"
	"clinicledger/internal/infrastructure"
	"clinicledger/internal/operations"
	"clinicledger/internal/storage"
	"clinicledger/internal/versioning"
	"clinicledger/pkg/contracts/domain"
	"clinicledger/pkg/contracts/events"
)

// maxUnmappedInWarning caps how many labels one unmapped-label warning lists.
const maxUnmappedInWarning = 10

// Dependencies wires an Orchestrator.
type Dependencies struct {
	Files     files.Store
	Uploads   storage.UploadRepository
	Resolver  *clinics.Resolver
	Versions  *versioning.Store
	Publisher operations.Publisher
	Layout    dataprocessing.Layout
	Metrics   *infrastructure.IngestionMetrics
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// Orchestrator executes upload batches. It implements operations.Runner.
type Orchestrator struct {
	files     files.Store
	uploads   storage.UploadRepository
	resolver  *clinics.Resolver
	versions  *versioning.Store
	publisher operations.Publisher
	assembler *dataprocessing.Assembler
	validate  *validator.Validate
	metrics   *infrastructure.IngestionMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator. Publisher, Metrics, Tracer and
// Logger are optional.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	if deps.Layout == (dataprocessing.Layout{}) {
		deps.Layout = dataprocessing.DefaultLayout()
	}
	if deps.Metrics == nil {
		deps.Metrics = infrastructure.NoopIngestionMetrics()
	}
	if deps.Tracer == nil {
		deps.Tracer = tracenoop.NewTracerProvider().Tracer(infrastructure.InstrumentationName)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Publisher == nil {
		deps.Publisher = discardPublisher{}
	}
	return &Orchestrator{
		files:     deps.Files,
		uploads:   deps.Uploads,
		resolver:  deps.Resolver,
		versions:  deps.Versions,
		publisher: deps.Publisher,
		assembler: dataprocessing.NewAssembler(deps.Layout),
		validate:  newRecordValidator(),
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		logger:    deps.Logger.With(slog.String("component", "ingestion")),
		now:       time.Now,
	}
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, events.ProgressEvent) int { return 0 }

// batchRun is the mutable state of one Run.
type batchRun struct {
	upload      *domain.UploadHistory
	filesFailed int
	logger      *slog.Logger
}

// Run processes a claimed upload to a terminal status. The returned error is
// non-nil only when the batch failed as a whole; file and record failures are
// recorded on the upload instead.
func (o *Orchestrator) Run(ctx context.Context, upload *domain.UploadHistory) (err error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	ctx, span := o.tracer.Start(ctx, "ingestion.run", trace.WithAttributes(
		attribute.String("upload.id", upload.ID),
		attribute.Int("upload.files", len(upload.Files)),
	))
	defer span.End()

	start := o.now()
	o.metrics.UploadStarted(ctx)

	run := &batchRun{
		upload: upload,
		logger: o.logger.With(
			slog.String("upload_id", upload.ID),
			slog.String("trace_id", infrastructure.GetTraceID(ctx))),
	}
	if upload.Status != domain.UploadStatusProcessing {
		upload.Status = domain.UploadStatusProcessing
	}
	if upload.StartedAt == nil {
		started := start.UTC()
		upload.StartedAt = &started
	}

	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewBatchFatalError("ingestion panicked", fmt.Errorf("%v", r))
		}
		if err != nil {
			o.fail(ctx, run, err)
			infrastructure.RecordError(ctx, err)
		}
		o.metrics.UploadFinished(ctx, string(upload.Status), o.now().Sub(start))
	}()

	run.logger.InfoContext(ctx, "upload processing started", slog.Int("files", len(upload.Files)))
	o.publish(ctx, run, "", "processing started")

	for i, file := range upload.Files {
		if err := ctx.Err(); err != nil {
			return apperrors.NewBatchFatalError("ingestion cancelled", err)
		}
		if err := o.processFile(ctx, run, i, file); err != nil {
			return err
		}
	}

	return o.finish(ctx, run, start)
}

func (o *Orchestrator) processFile(ctx context.Context, run *batchRun, index int, file domain.UploadFile) error {
	ctx, span := o.tracer.Start(ctx, "ingestion.file", trace.WithAttributes(
		attribute.String("file.name", file.Name),
		attribute.Int64("file.size", file.Size),
	))
	defer span.End()

	upload := run.upload
	logger := run.logger.With(slog.String("file", file.Name))
	o.publish(ctx, run, file.Name, fmt.Sprintf("processing %s", file.Name))

	parsed, err := o.parseFile(ctx, file)
	if err != nil {
		logger.WarnContext(ctx, "file rejected", slog.String("error", err.Error()))
		infrastructure.RecordError(ctx, err)
		upload.Errors = append(upload.Errors, domain.UploadError{
			Kind:    domain.UploadErrorFormat,
			File:    file.Name,
			Message: errorMessage(err),
		})
		run.filesFailed++
		o.metrics.FileProcessed(ctx, "rejected")
		return o.fileDone(ctx, run, index, file.Name)
	}

	if n := len(parsed.Unmapped); n > 0 {
		o.metrics.UnmappedLabels(ctx, n)
		upload.Warnings = append(upload.Warnings, unmappedWarning(file.Name, parsed.Unmapped))
		logger.InfoContext(ctx, "unmapped labels skipped", slog.Int("count", n))
	}

	failedBefore := upload.RecordsFailed
	for i := range parsed.Records {
		if err := ctx.Err(); err != nil {
			return apperrors.NewBatchFatalError("ingestion cancelled", err)
		}
		rec := &parsed.Records[i]
		if uerr := o.ingestRecord(ctx, upload, file.Name, rec); uerr != nil {
			upload.Errors = append(upload.Errors, *uerr)
			upload.RecordsFailed++
			o.metrics.RecordFailed(ctx, string(uerr.Kind))
			logger.WarnContext(ctx, "record skipped",
				slog.String("kind", string(uerr.Kind)),
				slog.String("clinic", rec.ClinicName),
				slog.Int("year", rec.Year),
				slog.Int("month", rec.Month),
				slog.String("error", uerr.Message))
		} else {
			upload.RecordsProcessed++
			o.metrics.RecordIngested(ctx)
		}
		o.publishRecord(ctx, run, index, file.Name, i+1, len(parsed.Records))
	}

	outcome := "ingested"
	if upload.RecordsFailed > failedBefore {
		outcome = "partial"
	}
	if err := o.files.Delete(ctx, file.StorageKey); err != nil && !errors.Is(err, files.ErrNotExist) {
		logger.WarnContext(ctx, "failed to remove processed file", slog.String("error", err.Error()))
	}
	o.metrics.FileProcessed(ctx, outcome)
	logger.InfoContext(ctx, "file processed",
		slog.String("outcome", outcome),
		slog.Int("records", len(parsed.Records)))
	return o.fileDone(ctx, run, index, file.Name)
}

func (o *Orchestrator) parseFile(ctx context.Context, file domain.UploadFile) (*dataprocessing.ParsedFile, error) {
	content, err := o.files.Get(ctx, file.StorageKey)
	if err != nil {
		return nil, apperrors.NewFormatError(file.Name, "staged file could not be read").
			WithContext("cause", err.Error())
	}
	grid, err := dataprocessing.ReadGrid(file.Name, content)
	if err != nil {
		return nil, err
	}
	return o.assembler.Assemble(file.Name, grid)
}

// ingestRecord validates and writes one record. A nil result means success.
func (o *Orchestrator) ingestRecord(ctx context.Context, upload *domain.UploadHistory, fileName string, rec *dataprocessing.AssembledRecord) *domain.UploadError {
	uerr := &domain.UploadError{
		File:       fileName,
		ClinicName: rec.ClinicName,
		Year:       rec.Year,
		Month:      rec.Month,
	}

	if err := o.validate.StructCtx(ctx, rec); err != nil {
		uerr.Kind = domain.UploadErrorValidation
		uerr.Message = validationMessage(err)
		return uerr
	}

	clinic, err := o.resolver.Resolve(ctx, rec.ClinicName)
	if err != nil {
		uerr.Kind = domain.UploadErrorPersistence
		if apperrors.IsValidation(err) {
			uerr.Kind = domain.UploadErrorValidation
		}
		uerr.Message = errorMessage(err)
		return uerr
	}

	uploadID := upload.ID
	record := &domain.FinancialRecord{
		ClinicID:  clinic.ID,
		Year:      rec.Year,
		Month:     rec.Month,
		LineItems: rec.LineItems.Clone(),
		UploadID:  &uploadID,
	}
	if _, err := o.versions.Write(ctx, record); err != nil {
		uerr.Kind = domain.UploadErrorPersistence
		uerr.Message = errorMessage(err)
		return uerr
	}
	return nil
}

// fileDone persists per-file progress. A failure here is fatal to the batch.
func (o *Orchestrator) fileDone(ctx context.Context, run *batchRun, index int, fileName string) error {
	run.upload.FilesProcessed = index + 1
	run.upload.Progress = o.progress(run, index+1, 0, 0)
	if err := o.uploads.Update(ctx, run.upload); err != nil {
		return apperrors.NewBatchFatalError("failed to save upload progress", err)
	}
	o.publish(ctx, run, fileName, fmt.Sprintf("finished %s", fileName))
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, run *batchRun, start time.Time) error {
	upload := run.upload
	completed := o.now().UTC()
	upload.Status = domain.UploadStatusCompleted
	if upload.HasErrors() {
		upload.Status = domain.UploadStatusCompletedWithErrors
	}
	upload.Progress = 100
	upload.CompletedAt = &completed

	if err := o.uploads.Update(ctx, upload); err != nil {
		return apperrors.NewBatchFatalError("failed to save upload result", err)
	}

	run.logger.InfoContext(ctx, "upload processing finished",
		slog.String("status", string(upload.Status)),
		slog.Int("records_processed", upload.RecordsProcessed),
		slog.Int("records_failed", upload.RecordsFailed),
		slog.Int("files_failed", run.filesFailed),
		slog.Duration("duration", completed.Sub(start)))

	o.publisher.Publish(ctx, events.ProgressEvent{
		UploadID:         upload.ID,
		Status:           events.Status(upload.Status),
		Progress:         100,
		RecordsProcessed: intPtr(upload.RecordsProcessed),
		Message:          "processing finished",
		Result:           batchResult(run),
		Timestamp:        completed,
	})
	return nil
}

// fail moves the upload to failed and records the batch error.
func (o *Orchestrator) fail(ctx context.Context, run *batchRun, err error) {
	upload := run.upload
	completed := o.now().UTC()
	upload.Status = domain.UploadStatusFailed
	upload.CompletedAt = &completed
	upload.Errors = append(upload.Errors, domain.UploadError{
		Kind:    domain.UploadErrorFatal,
		Message: errorMessage(err),
	})

	run.logger.ErrorContext(ctx, "upload processing failed", slog.String("error", err.Error()))

	// The run context may be the reason for the failure.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if uerr := o.uploads.Update(saveCtx, upload); uerr != nil {
		run.logger.ErrorContext(ctx, "failed to record upload failure", slog.String("error", uerr.Error()))
	}

	o.publisher.Publish(ctx, events.ProgressEvent{
		UploadID:         upload.ID,
		Status:           events.StatusFailed,
		Progress:         upload.Progress,
		RecordsProcessed: intPtr(upload.RecordsProcessed),
		Result:           batchResult(run),
		Error:            errorMessage(err),
		Timestamp:        completed,
	})
}

func (o *Orchestrator) publish(ctx context.Context, run *batchRun, fileName, message string) {
	o.publisher.Publish(ctx, events.ProgressEvent{
		UploadID:         run.upload.ID,
		Status:           events.StatusProcessing,
		Progress:         run.upload.Progress,
		CurrentFile:      fileName,
		RecordsProcessed: intPtr(run.upload.RecordsProcessed),
		Message:          message,
		Timestamp:        o.now().UTC(),
	})
}

func (o *Orchestrator) publishRecord(ctx context.Context, run *batchRun, index int, fileName string, done, total int) {
	run.upload.Progress = o.progress(run, index, done, total)
	o.publish(ctx, run, fileName, "")
}

// progress maps files finished plus the fraction of the current file onto
// 0-99; 100 is reserved for the terminal event.
func (o *Orchestrator) progress(run *batchRun, filesDone, recordsDone, recordsTotal int) int {
	n := len(run.upload.Files)
	if n == 0 {
		return 0
	}
	units := float64(filesDone)
	if recordsTotal > 0 {
		units += float64(recordsDone) / float64(recordsTotal)
	}
	p := int(units * 100 / float64(n))
	if p > 99 {
		p = 99
	}
	return p
}

func batchResult(run *batchRun) *events.BatchResult {
	u := run.upload
	return &events.BatchResult{
		FilesProcessed:   u.FilesProcessed,
		FilesFailed:      run.filesFailed,
		RecordsProcessed: u.RecordsProcessed,
		RecordsFailed:    u.RecordsFailed,
		Errors:           len(u.Errors),
		Warnings:         len(u.Warnings),
	}
}

func unmappedWarning(fileName string, labels []string) string {
	shown := labels
	if len(shown) > maxUnmappedInWarning {
		shown = shown[:maxUnmappedInWarning]
	}
	msg := fmt.Sprintf("%s: %d unmapped labels skipped: %s", fileName, len(labels), strings.Join(shown, "; "))
	if len(labels) > len(shown) {
		msg += fmt.Sprintf("; and %d more", len(labels)-len(shown))
	}
	return msg
}

// errorMessage prefers the AppError message over its formatted chain.
func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Cause != nil {
			return fmt.Sprintf("%s: %v", appErr.Message, appErr.Cause)
		}
		return appErr.Message
	}
	return err.Error()
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "min":
			parts = append(parts, fmt.Sprintf("%s %v is below %s", fe.Field(), fe.Value(), fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s %v is above %s", fe.Field(), fe.Value(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func newRecordValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func intPtr(v int) *int { return &v }
