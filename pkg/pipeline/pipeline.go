package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"postscan/pkg/checkpoint"
	"postscan/pkg/fetcher"
	"postscan/pkg/inference"
	"postscan/pkg/logger"
	"postscan/pkg/metrics"
	"postscan/pkg/models"
	"postscan/pkg/prompt"
	"postscan/pkg/report"
)

// Fetcher resolves a post's image locators to local files.
type Fetcher interface {
	FetchAll(ctx context.Context, postID string, urls []string, maxCount int) []fetcher.FetchResult
	Stats() fetcher.Stats
}

// Analyzer runs the multimodal analysis for one post.
type Analyzer interface {
	TestConnection(ctx context.Context) error
	Analyze(ctx context.Context, post models.Post, imagePaths []string, systemPrompt, userPrompt string) (*models.PostAnalysis, error)
	Stats() inference.Stats
}

// RunStatus is the terminal state of one pipeline run.
type RunStatus string

const (
	// StatusCompleted means every input post was handled.
	StatusCompleted RunStatus = "completed"
	// StatusInterrupted means a shutdown request stopped the run early with
	// state saved; a later run resumes where this one left off.
	StatusInterrupted RunStatus = "interrupted"
)

// Config holds orchestrator settings.
type Config struct {
	// SaveInterval flushes state after this many newly processed posts.
	SaveInterval int
	// MaxImagesPerPost bounds how many locators are fetched per post.
	MaxImagesPerPost int
	// ForceRestart discards any existing state before the run.
	ForceRestart bool

	// Report metadata.
	InputFile string
	Model     string
	Endpoint  string
}

// Summary is what a finished run reports back to the caller.
type Summary struct {
	Status     RunStatus
	RunID      string
	Statistics checkpoint.Statistics
	Fetch      fetcher.Stats
	Inference  inference.Stats
	ReportPath string
	Elapsed    time.Duration
}

// Orchestrator drives the fetch-analyze-checkpoint loop over an input set.
// It is resumable: already-processed posts are skipped, progress is flushed
// periodically, and a shutdown request stops cleanly between posts.
type Orchestrator struct {
	cfg      Config
	fetch    Fetcher
	analyzer Analyzer
	prompts  *prompt.Builder
	store    *checkpoint.Store
	reports  *report.Writer
	metrics  *metrics.Metrics
	logger   logger.Logger

	shutdown atomic.Bool
}

// New creates an orchestrator. The metrics set may be nil.
func New(cfg Config, fetch Fetcher, analyzer Analyzer, prompts *prompt.Builder, store *checkpoint.Store, reports *report.Writer, m *metrics.Metrics, log logger.Logger) *Orchestrator {
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = 10
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Orchestrator{
		cfg:      cfg,
		fetch:    fetch,
		analyzer: analyzer,
		prompts:  prompts,
		store:    store,
		reports:  reports,
		metrics:  m,
		logger:   log,
	}
}

// RequestShutdown asks the run to stop after the post currently in flight.
// Safe to call from any goroutine, typically a signal handler.
func (o *Orchestrator) RequestShutdown() {
	if o.shutdown.CompareAndSwap(false, true) {
		o.logger.Info("shutdown requested, finishing current post")
	}
}

// Run processes every post not yet covered by persisted state. It returns an
// error only for run-level failures (unreachable inference endpoint, corrupt
// or unwritable state); per-post failures are recorded and the run continues.
func (o *Orchestrator) Run(ctx context.Context, posts []models.Post) (*Summary, error) {
	started := time.Now()

	if err := o.analyzer.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("preflight failed: %w", err)
	}

	record, err := o.loadOrCreate(len(posts))
	if err != nil {
		return nil, err
	}

	status := StatusCompleted
	sinceFlush := 0

	for i, post := range posts {
		if o.shutdown.Load() || ctx.Err() != nil {
			status = StatusInterrupted
			break
		}

		if record.IsProcessed(post.ID) {
			record.MarkSkipped()
			o.metrics.PostsProcessed.WithLabelValues("skipped").Inc()
			o.logger.DebugWithFields("post already processed, skipping", map[string]interface{}{
				"post_id": post.ID,
			})
			continue
		}

		postStart := time.Now()
		outcome := o.processPost(ctx, post, record)
		if outcome == outcomeInterrupted {
			status = StatusInterrupted
			break
		}
		o.metrics.ObservePost(outcome, time.Since(postStart))

		o.logger.InfoWithFields("post processed", map[string]interface{}{
			"post_id":  post.ID,
			"outcome":  outcome,
			"position": i + 1,
			"total":    len(posts),
		})

		sinceFlush++
		if sinceFlush >= o.cfg.SaveInterval {
			if err := o.flush(record); err != nil {
				o.logger.ErrorWithFields("periodic state save failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
			sinceFlush = 0
		}
	}

	if err := o.flush(record); err != nil {
		return nil, fmt.Errorf("failed to save final state: %w", err)
	}

	summary := &Summary{
		Status:     status,
		RunID:      record.RunID,
		Statistics: record.Statistics,
		Fetch:      o.fetch.Stats(),
		Inference:  o.analyzer.Stats(),
		Elapsed:    time.Since(started),
	}

	if status == StatusCompleted {
		path, err := o.export(record)
		if err != nil {
			return summary, fmt.Errorf("failed to export report: %w", err)
		}
		summary.ReportPath = path
	} else {
		o.logger.InfoWithFields("run interrupted, state saved for resume", map[string]interface{}{
			"processed_count": record.ProcessedCount,
			"total_posts":     len(posts),
		})
	}

	return summary, nil
}

const (
	outcomeSucceeded   = "succeeded"
	outcomeFailed      = "failed"
	outcomeInterrupted = "interrupted"
)

// processPost fetches one post's images and runs the analysis, recording the
// outcome in the state record. Posts whose images all failed to fetch are
// analyzed text-only. An interruption mid-post leaves the post unrecorded so
// the next run retries it.
func (o *Orchestrator) processPost(ctx context.Context, post models.Post, record *checkpoint.Record) string {
	results := o.fetch.FetchAll(ctx, post.ID, post.ImageURLs, o.cfg.MaxImagesPerPost)

	paths := make([]string, 0, len(results))
	for _, r := range results {
		switch {
		case r.Success && r.Cached:
			o.metrics.ImagesFetched.WithLabelValues("cache").Inc()
		case r.Success:
			o.metrics.ImagesFetched.WithLabelValues("network").Inc()
		default:
			o.metrics.ImagesFetched.WithLabelValues("failed").Inc()
		}
		if r.Success {
			paths = append(paths, r.LocalPath)
		}
	}

	if ctx.Err() != nil {
		return outcomeInterrupted
	}

	// When every fetch failed the analysis still runs on caption, hashtags,
	// and comments alone.
	if len(post.ImageURLs) > 0 && len(paths) == 0 {
		o.logger.WarnWithFields("no images available, analyzing text only", map[string]interface{}{
			"post_id": post.ID,
			"urls":    len(post.ImageURLs),
		})
	}

	analysis, err := o.analyzer.Analyze(ctx, post, paths, o.prompts.System(), o.prompts.User(post, len(paths)))
	if err != nil {
		if ctx.Err() != nil {
			return outcomeInterrupted
		}
		o.logger.WarnWithFields("analysis failed", map[string]interface{}{
			"post_id": post.ID,
			"error":   err.Error(),
		})
		record.MarkFailed(post.ID)
		o.metrics.InferenceRequests.WithLabelValues("failed").Inc()
		return outcomeFailed
	}
	o.metrics.InferenceRequests.WithLabelValues("succeeded").Inc()

	record.MarkSucceeded(models.Result{
		PostID:     post.ID,
		Username:   post.Username,
		URL:        post.URL,
		PostType:   post.Type,
		AnalyzedAt: time.Now().UTC(),
		ImageCount: len(paths),
		Analysis:   analysis,
	})

	return outcomeSucceeded
}

func (o *Orchestrator) loadOrCreate(totalPosts int) (*checkpoint.Record, error) {
	if o.cfg.ForceRestart {
		if err := o.store.Delete(); err != nil {
			return nil, err
		}
	}

	record, err := o.store.Load()
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = checkpoint.NewRecord(totalPosts)
		o.logger.InfoWithFields("starting new run", map[string]interface{}{
			"run_id":      record.RunID,
			"total_posts": totalPosts,
		})
		return record, nil
	}

	// The input may have grown since the interrupted run.
	record.Statistics.TotalPosts = totalPosts
	record.Statistics.Skipped = 0
	o.logger.InfoWithFields("resuming previous run", map[string]interface{}{
		"run_id":          record.RunID,
		"processed_count": record.ProcessedCount,
		"total_posts":     totalPosts,
	})
	return record, nil
}

func (o *Orchestrator) flush(record *checkpoint.Record) error {
	if err := o.store.Save(record); err != nil {
		return err
	}
	o.metrics.StateSaves.Inc()
	return nil
}

func (o *Orchestrator) export(record *checkpoint.Record) (string, error) {
	tokens := o.analyzer.Stats()
	o.metrics.InferenceTokens.Add(float64(tokens.TotalTokens))

	return o.reports.Write(report.Document{
		Metadata: report.Metadata{
			RunID:     record.RunID,
			Model:     o.cfg.Model,
			Endpoint:  o.cfg.Endpoint,
			InputFile: o.cfg.InputFile,
			StartedAt: record.StartedAt,
		},
		Statistics: record.Statistics,
		Results:    record.Results,
	})
}
