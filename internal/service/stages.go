package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bookfactory/internal/converter"
	"bookfactory/internal/domain"
	"bookfactory/internal/logger"
	"bookfactory/internal/prompts"
	"bookfactory/internal/repository"
	"bookfactory/internal/storage"
)

// errHalted signals that a cancellation checkpoint observed an externally set
// cancelled/stopped status. The executor unwinds without touching the job so
// the external transition stands.
var errHalted = errors.New("job halted at checkpoint")

const recommendTopicsLimit = 8

// StageDeps bundles everything the stage executor needs.
type StageDeps struct {
	Jobs      *repository.JobRepository
	Events    *repository.EventRepository
	Cache     *repository.CacheRepository
	Generator TextGenerator
	PDF       converter.PDFRenderer
	TTS       converter.Synthesizer
	Transcode converter.Transcoder
	Archive   storage.ArchiveStorage

	DataDir     string
	MaxChapters int
	TTSVoice    string
	TTSSpeed    float64
}

// StageExecutor runs the per-type pipeline stage of a single job. One
// executor instance is shared by the runner; it holds no per-job state.
type StageExecutor struct {
	jobs      *repository.JobRepository
	events    *repository.EventRepository
	cache     *repository.CacheRepository
	generator TextGenerator
	pdf       converter.PDFRenderer
	tts       converter.Synthesizer
	transcode converter.Transcoder
	archive   storage.ArchiveStorage

	dataDir     string
	maxChapters int
	ttsVoice    string
	ttsSpeed    float64
}

// NewStageExecutor creates a stage executor.
// Parameters:
//   - deps: repositories, backends, and generation settings.
// Returns:
//   - *StageExecutor: ready executor.
func NewStageExecutor(deps StageDeps) *StageExecutor {
	maxChapters := deps.MaxChapters
	if maxChapters <= 0 {
		maxChapters = 12
	}
	return &StageExecutor{
		jobs:        deps.Jobs,
		events:      deps.Events,
		cache:       deps.Cache,
		generator:   deps.Generator,
		pdf:         deps.PDF,
		tts:         deps.TTS,
		transcode:   deps.Transcode,
		archive:     deps.Archive,
		dataDir:     deps.DataDir,
		maxChapters: maxChapters,
		ttsVoice:    deps.TTSVoice,
		ttsSpeed:    deps.TTSSpeed,
	}
}

// Execute runs the pipeline stage for one job: marks it running, dispatches
// on the job type, and records the terminal outcome. Every failure is
// contained here; Execute only returns an error when the store itself fails.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: the job to execute, already claimed by the runner.
// Returns:
//   - error: non-nil only on job-store failures.
func (e *StageExecutor) Execute(ctx context.Context, job *domain.Job) error {
	ctx = logger.SetJobID(ctx, job.ID)
	ctx = logger.WithField(ctx, logger.FieldJobType, string(job.JobType))

	running := domain.JobStatusRunning
	stage := "starting"
	if err := e.jobs.SetStatus(ctx, job.ID, repository.StatusUpdate{Status: &running, Stage: &stage}); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, job.ID, domain.EventLevelInfo,
		fmt.Sprintf("started %s job", job.JobType)); err != nil {
		return err
	}

	outputPath, err := e.dispatch(ctx, job)
	switch {
	case errors.Is(err, errHalted):
		// status already set to cancelled/stopped externally; leave it
		logger.CtxInfo(ctx, "job halted at checkpoint")
		return nil
	case err != nil:
		return e.markFailed(ctx, job, err)
	default:
		return e.markCompleted(ctx, job, outputPath)
	}
}

// dispatch switches exhaustively over the closed job-type set. recommend
// topics returns an empty path: its output lives in the cache table.
func (e *StageExecutor) dispatch(ctx context.Context, job *domain.Job) (string, error) {
	switch job.JobType {
	case domain.JobTypeBook:
		return e.runBook(ctx, job)
	case domain.JobTypeText:
		return e.runText(ctx, job)
	case domain.JobTypePDF:
		return e.runPDF(ctx, job)
	case domain.JobTypeAudiobook:
		return e.runAudiobook(ctx, job)
	case domain.JobTypeM4B:
		return e.runM4B(ctx, job)
	case domain.JobTypeRecommendTopics:
		return "", e.runRecommendTopics(ctx, job)
	default:
		return "", fmt.Errorf("no handler for job type %q", job.JobType)
	}
}

func (e *StageExecutor) markCompleted(ctx context.Context, job *domain.Job, outputPath string) error {
	completed := domain.JobStatusCompleted
	stage := "completed"
	progress := 1.0
	upd := repository.StatusUpdate{Status: &completed, Stage: &stage, Progress: &progress}
	if outputPath != "" {
		upd.OutputPath = &outputPath
	}
	if err := e.jobs.SetStatus(ctx, job.ID, upd); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, job.ID, domain.EventLevelInfo, "completed"); err != nil {
		return err
	}
	logger.CtxInfo(ctx, "job completed")

	if outputPath != "" {
		e.archiveOutput(ctx, job, outputPath)
	}
	return nil
}

func (e *StageExecutor) markFailed(ctx context.Context, job *domain.Job, cause error) error {
	message := failureMessage(cause)
	failed := domain.JobStatusFailed
	stage := "failed"
	upd := repository.StatusUpdate{Status: &failed, Stage: &stage, Error: &message}
	if err := e.jobs.SetStatus(ctx, job.ID, upd); err != nil {
		return err
	}
	if err := e.appendEvent(ctx, job.ID, domain.EventLevelError, message); err != nil {
		return err
	}
	logger.CtxError(ctx, "job failed: %s", message)
	return nil
}

// failureMessage classifies an error into a user-facing failure reason.
// Unclassified errors get a defensive diagnostic string instead of leaking
// internals verbatim.
func failureMessage(err error) string {
	var backendErr *domain.BackendError
	var convErr *converter.ConversionError
	switch {
	case domain.IsInputError(err):
		return err.Error()
	case errors.As(err, &backendErr):
		return backendErr.Error()
	case errors.As(err, &convErr):
		return convErr.Error()
	default:
		return fmt.Sprintf("unexpected error: %v", err)
	}
}

// checkpoint re-reads the job and returns errHalted when an external actor
// cancelled or stopped it. Called before and after every expensive step.
func (e *StageExecutor) checkpoint(ctx context.Context, jobID string) error {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return errHalted
	}
	if job.Status == domain.JobStatusCancelled || job.Status == domain.JobStatusStopped {
		return errHalted
	}
	return nil
}

func (e *StageExecutor) setProgress(ctx context.Context, jobID, stage string, progress float64) error {
	return e.jobs.SetStatus(ctx, jobID, repository.StatusUpdate{Stage: &stage, Progress: &progress})
}

func (e *StageExecutor) appendEvent(ctx context.Context, jobID string, level domain.EventLevel, message string) error {
	return e.events.Append(ctx, jobID, level, message)
}

// archiveOutput copies the finished artifact to the archive backend. Failures
// are recorded as an error event but never fail the completed job.
func (e *StageExecutor) archiveOutput(ctx context.Context, job *domain.Job, outputPath string) {
	if e.archive == nil {
		return
	}
	f, err := os.Open(outputPath)
	if err != nil {
		e.reportArchiveFailure(ctx, job.ID, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		e.reportArchiveFailure(ctx, job.ID, err)
		return
	}

	key := job.ID + "/" + filepath.Base(outputPath)
	if err := e.archive.Upload(ctx, key, f, info.Size(), contentTypeFor(outputPath)); err != nil {
		e.reportArchiveFailure(ctx, job.ID, err)
		return
	}
	logger.CtxInfo(ctx, "archived output as %s", key)
}

func (e *StageExecutor) reportArchiveFailure(ctx context.Context, jobID string, cause error) {
	logger.CtxWarn(ctx, "archive upload failed: %v", cause)
	if err := e.appendEvent(ctx, jobID, domain.EventLevelError,
		fmt.Sprintf("archive upload failed: %v", cause)); err != nil {
		logger.CtxError(ctx, "failed to record archive failure: %v", err)
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".pdf":
		return "application/pdf"
	case ".mp3":
		return "audio/mpeg"
	case ".m4b":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// resolveInput finds the input artifact of a derived job: an explicit source
// path wins, otherwise the parent's output path with the given extension
// swapped in ("" keeps the parent path as-is). The file must exist and be
// non-empty.
func (e *StageExecutor) resolveInput(ctx context.Context, job *domain.Job, ext string) (string, error) {
	var path string
	switch {
	case job.SourcePath != nil && *job.SourcePath != "":
		path = *job.SourcePath
	case job.ParentID != nil:
		parent, err := e.jobs.Get(ctx, *job.ParentID)
		if err != nil {
			return "", err
		}
		if parent == nil || parent.OutputPath == nil || *parent.OutputPath == "" {
			return "", fmt.Errorf("parent output not available: %w", domain.ErrMissingSource)
		}
		path = *parent.OutputPath
		if ext != "" {
			path = replaceExt(path, ext)
		}
	default:
		return "", fmt.Errorf("no source path and no parent: %w", domain.ErrMissingSource)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, domain.ErrMissingSource)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%s: %w", path, domain.ErrEmptySource)
	}
	return path, nil
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// runText extracts the plain text of the parent manuscript.
func (e *StageExecutor) runText(ctx context.Context, job *domain.Job) (string, error) {
	inputPath, err := e.resolveInput(ctx, job, "")
	if err != nil {
		return "", err
	}
	if err := e.setProgress(ctx, job.ID, "extracting text", 0.3); err != nil {
		return "", err
	}

	source, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("%s: %w", inputPath, domain.ErrMissingSource)
	}
	text := converter.MarkdownToText(string(source))
	if text == "" {
		return "", fmt.Errorf("%s: %w", inputPath, domain.ErrEmptySource)
	}

	outputPath := replaceExt(inputPath, ".txt")
	if err := os.WriteFile(outputPath, []byte(text+"\n"), 0644); err != nil {
		return "", fmt.Errorf("failed to write text output: %w", err)
	}
	return outputPath, nil
}

// runPDF renders the parent manuscript to PDF.
func (e *StageExecutor) runPDF(ctx context.Context, job *domain.Job) (string, error) {
	inputPath, err := e.resolveInput(ctx, job, "")
	if err != nil {
		return "", err
	}
	if err := e.setProgress(ctx, job.ID, "rendering pdf", 0.3); err != nil {
		return "", err
	}

	source, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("%s: %w", inputPath, domain.ErrMissingSource)
	}
	pdfBytes, err := e.pdf.Render(string(source))
	if err != nil {
		return "", err
	}

	outputPath := replaceExt(inputPath, ".pdf")
	if err := os.WriteFile(outputPath, pdfBytes, 0644); err != nil {
		return "", fmt.Errorf("failed to write pdf output: %w", err)
	}
	return outputPath, nil
}

// runAudiobook synthesizes speech from the plain-text sibling of the parent
// manuscript, so the text job must have completed first.
func (e *StageExecutor) runAudiobook(ctx context.Context, job *domain.Job) (string, error) {
	inputPath, err := e.resolveInput(ctx, job, ".txt")
	if err != nil {
		return "", err
	}
	if err := e.setProgress(ctx, job.ID, "synthesizing audio", 0.2); err != nil {
		return "", err
	}

	text, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("%s: %w", inputPath, domain.ErrMissingSource)
	}
	audio, err := e.tts.Synthesize(ctx, string(text), e.ttsVoice, e.ttsSpeed)
	if err != nil {
		return "", err
	}

	outputPath := replaceExt(inputPath, ".mp3")
	if err := os.WriteFile(outputPath, audio, 0644); err != nil {
		return "", fmt.Errorf("failed to write audio output: %w", err)
	}
	return outputPath, nil
}

// runM4B repackages the mp3 audiobook as an m4b container.
func (e *StageExecutor) runM4B(ctx context.Context, job *domain.Job) (string, error) {
	inputPath, err := e.resolveInput(ctx, job, ".mp3")
	if err != nil {
		return "", err
	}
	if err := e.setProgress(ctx, job.ID, "transcoding", 0.3); err != nil {
		return "", err
	}
	return e.transcode.TranscodeToM4B(ctx, inputPath)
}

// runRecommendTopics asks the backend for fresh topic ideas based on recent
// jobs and memoizes the result in the cache table. An empty history is not a
// failure: it caches an empty list and completes.
func (e *StageExecutor) runRecommendTopics(ctx context.Context, job *domain.Job) error {
	if err := e.setProgress(ctx, job.ID, "recommending", 0.2); err != nil {
		return err
	}

	summaries, err := e.jobs.ListRecentSummaries(ctx, 25)
	if err != nil {
		return err
	}

	var topics []string
	if len(summaries) > 0 {
		raw, err := e.generator.Generate(ctx, job.Model,
			prompts.RecommendTopics(summaries, recommendTopicsLimit), prompts.SystemInstructions)
		if err != nil {
			return err
		}
		topics = parseTopicList(raw)
		topics = dedupeAgainst(topics, summaries)
		if len(topics) > recommendTopicsLimit {
			topics = topics[:recommendTopicsLimit]
		}
	}
	if topics == nil {
		topics = []string{}
	}

	value, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("failed to serialize topics: %w", err)
	}
	return e.cache.Set(ctx, domain.CacheKeyRecommendedTopics, string(value))
}

// parseTopicList extracts topic strings from model output: a JSON array when
// one is present, otherwise one topic per non-empty line with list markers
// stripped.
func parseTopicList(raw string) []string {
	if arr, ok := extractJSONArray(raw); ok {
		var topics []string
		if err := json.Unmarshal([]byte(arr), &topics); err == nil {
			return trimNonEmpty(topics)
		}
	}

	var topics []string
	for _, line := range strings.Split(stripCodeFences(raw), "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		line = strings.Trim(line, `"'`)
		if line != "" {
			topics = append(topics, line)
		}
	}
	return topics
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// dedupeAgainst drops suggestions that repeat a recent topic or each other,
// case-insensitively.
func dedupeAgainst(topics []string, recent []domain.JobSummary) []string {
	seen := make(map[string]bool, len(recent)+len(topics))
	for _, s := range recent {
		seen[strings.ToLower(strings.TrimSpace(s.Topic))] = true
	}
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
