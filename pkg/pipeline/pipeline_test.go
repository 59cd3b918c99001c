package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postscan/pkg/checkpoint"
	"postscan/pkg/fetcher"
	"postscan/pkg/inference"
	"postscan/pkg/logger"
	"postscan/pkg/models"
	"postscan/pkg/prompt"
	"postscan/pkg/report"
)

// fakeFetcher resolves every locator to a fixed local path, or fails them all.
type fakeFetcher struct {
	mu      sync.Mutex
	failAll bool
	calls   []string
}

func (f *fakeFetcher) FetchAll(ctx context.Context, postID string, urls []string, maxCount int) []fetcher.FetchResult {
	f.mu.Lock()
	f.calls = append(f.calls, postID)
	f.mu.Unlock()

	if maxCount > 0 && len(urls) > maxCount {
		urls = urls[:maxCount]
	}
	results := make([]fetcher.FetchResult, len(urls))
	for i, url := range urls {
		results[i] = fetcher.FetchResult{URL: url, Index: i}
		if f.failAll {
			results[i].Error = "not found"
		} else {
			results[i].Success = true
			results[i].LocalPath = "/fake/" + postID
		}
	}
	return results
}

func (f *fakeFetcher) Stats() fetcher.Stats { return fetcher.Stats{} }

// fakeAnalyzer returns a canned detection and records which posts it saw and
// with how many images.
type fakeAnalyzer struct {
	mu         sync.Mutex
	analyzed   []string
	pathCounts []int
	failFor    map[string]bool
	connErr    error
	// onAnalyze runs inside Analyze, before returning; used to inject a
	// shutdown request mid-run.
	onAnalyze func(postID string)
}

func (a *fakeAnalyzer) TestConnection(ctx context.Context) error { return a.connErr }

func (a *fakeAnalyzer) Analyze(ctx context.Context, post models.Post, imagePaths []string, systemPrompt, userPrompt string) (*models.PostAnalysis, error) {
	a.mu.Lock()
	a.analyzed = append(a.analyzed, post.ID)
	a.pathCounts = append(a.pathCounts, len(imagePaths))
	a.mu.Unlock()

	if a.onAnalyze != nil {
		a.onAnalyze(post.ID)
	}
	if a.failFor[post.ID] {
		return nil, errors.New("inference failed")
	}
	return &models.PostAnalysis{
		NicotineDetection: models.NicotineDetection{
			Detected: true,
			Products: []models.DetectedProduct{{Category: "vaping"}},
		},
	}, nil
}

func (a *fakeAnalyzer) Stats() inference.Stats { return inference.Stats{} }

func (a *fakeAnalyzer) seen() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.analyzed...)
}

func (a *fakeAnalyzer) imageCounts() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.pathCounts...)
}

type testEnv struct {
	store     *checkpoint.Store
	reports   *report.Writer
	outputDir string
	fetch     *fakeFetcher
	analyzer  *fakeAnalyzer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := checkpoint.NewStore(filepath.Join(dir, "state.json"), logger.NewTestLogger())
	require.NoError(t, err)

	outputDir := filepath.Join(dir, "output")
	reports, err := report.NewWriter(outputDir, logger.NewTestLogger())
	require.NoError(t, err)

	return &testEnv{
		store:     store,
		reports:   reports,
		outputDir: outputDir,
		fetch:     &fakeFetcher{},
		analyzer:  &fakeAnalyzer{},
	}
}

func (e *testEnv) orchestrator(cfg Config) *Orchestrator {
	return New(cfg, e.fetch, e.analyzer, prompt.NewBuilder(), e.store, e.reports, nil, logger.NewTestLogger())
}

func testPosts(ids ...string) []models.Post {
	posts := make([]models.Post, len(ids))
	for i, id := range ids {
		posts[i] = models.Post{
			ID:        id,
			Username:  "someone",
			Type:      "Image",
			ImageURLs: []string{"https://cdn.example.com/" + id + ".jpg"},
		}
	}
	return posts
}

func (e *testEnv) reportFiles(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(e.outputDir, "analysis_results_*.json"))
	require.NoError(t, err)
	return matches
}

func TestRunCompletesAndExports(t *testing.T) {
	env := newTestEnv(t)
	orch := env.orchestrator(Config{})

	summary, err := orch.Run(context.Background(), testPosts("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.Statistics.Successful)
	assert.Equal(t, 3, summary.Statistics.NicotineDetected)
	assert.Equal(t, 3, summary.Statistics.ByCategory["vaping"])
	assert.NotEmpty(t, summary.ReportPath)

	assert.Len(t, env.reportFiles(t), 1, "completed run must export exactly one report")

	record, err := env.store.Load()
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 3, record.ProcessedCount)
}

func TestRunSkipsAlreadyProcessed(t *testing.T) {
	env := newTestEnv(t)

	// Simulate a previous run that already handled post "a".
	record := checkpoint.NewRecord(3)
	record.MarkSucceeded(models.Result{PostID: "a", Analysis: &models.PostAnalysis{}})
	require.NoError(t, env.store.Save(record))

	orch := env.orchestrator(Config{})
	summary, err := orch.Run(context.Background(), testPosts("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, summary.Status)
	assert.ElementsMatch(t, []string{"b", "c"}, env.analyzer.seen(), "processed posts must not be re-analyzed")
	assert.Equal(t, 1, summary.Statistics.Skipped)
	assert.Equal(t, 3, summary.Statistics.Successful+summary.Statistics.Failed)
}

func TestRunRerunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	orch := env.orchestrator(Config{})
	_, err := orch.Run(context.Background(), testPosts("a", "b"))
	require.NoError(t, err)

	again := env.orchestrator(Config{})
	summary, err := again.Run(context.Background(), testPosts("a", "b"))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Statistics.Skipped)
	assert.Len(t, env.analyzer.seen(), 2, "second run must analyze nothing new")

	record, err := env.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, record.ProcessedCount)
	assert.Len(t, record.Results, 2)
}

func TestRunRecordsFailuresAndContinues(t *testing.T) {
	env := newTestEnv(t)
	env.analyzer.failFor = map[string]bool{"b": true}

	orch := env.orchestrator(Config{})
	summary, err := orch.Run(context.Background(), testPosts("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, summary.Status)
	assert.Equal(t, 2, summary.Statistics.Successful)
	assert.Equal(t, 1, summary.Statistics.Failed)

	record, err := env.store.Load()
	require.NoError(t, err)
	assert.True(t, record.IsProcessed("b"), "failed posts count as processed and are not retried")
}

func TestRunAnalyzesTextOnlyWhenAllImagesFail(t *testing.T) {
	env := newTestEnv(t)
	env.fetch.failAll = true

	orch := env.orchestrator(Config{})
	summary, err := orch.Run(context.Background(), testPosts("a"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, summary.Status)
	assert.Equal(t, 1, summary.Statistics.Successful)
	assert.Equal(t, 0, summary.Statistics.Failed)
	require.Equal(t, []string{"a"}, env.analyzer.seen(), "caption and comments are still analyzed")
	assert.Equal(t, []int{0}, env.analyzer.imageCounts(), "no image paths reach the analyzer")
}

func TestRunInterruptedAndResumed(t *testing.T) {
	env := newTestEnv(t)

	var orch *Orchestrator
	env.analyzer.onAnalyze = func(postID string) {
		if postID == "b" {
			orch.RequestShutdown()
		}
	}
	orch = env.orchestrator(Config{})

	summary, err := orch.Run(context.Background(), testPosts("a", "b", "c", "d"))
	require.NoError(t, err)

	assert.Equal(t, StatusInterrupted, summary.Status)
	assert.Empty(t, summary.ReportPath, "interrupted runs must not export a report")
	assert.Empty(t, env.reportFiles(t))

	// The post in flight when the shutdown arrived was still completed.
	record, err := env.store.Load()
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 2, record.ProcessedCount)
	assert.True(t, record.IsProcessed("b"))
	assert.False(t, record.IsProcessed("c"))

	// Resume: a fresh orchestrator picks up where the first left off.
	env.analyzer.onAnalyze = nil
	resumed := env.orchestrator(Config{})
	resumeSummary, err := resumed.Run(context.Background(), testPosts("a", "b", "c", "d"))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, resumeSummary.Status)
	assert.Equal(t, []string{"a", "b", "c", "d"}, env.analyzer.seen(),
		"each post analyzed exactly once across both runs")
	assert.Equal(t, 4, resumeSummary.Statistics.Successful)
	assert.Len(t, env.reportFiles(t), 1)
}

func TestRunPreflightFailureIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.analyzer.connErr = errors.New("connection refused")

	orch := env.orchestrator(Config{})
	_, err := orch.Run(context.Background(), testPosts("a"))
	require.Error(t, err)

	assert.Empty(t, env.analyzer.seen(), "no post may be processed when the endpoint is unreachable")
	assert.False(t, env.store.Exists(), "no state should be written for a run that never started")
}

func TestRunForceRestartDiscardsState(t *testing.T) {
	env := newTestEnv(t)

	orch := env.orchestrator(Config{})
	_, err := orch.Run(context.Background(), testPosts("a", "b"))
	require.NoError(t, err)

	restarted := env.orchestrator(Config{ForceRestart: true})
	summary, err := restarted.Run(context.Background(), testPosts("a", "b"))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Statistics.Skipped)
	assert.Len(t, env.analyzer.seen(), 4, "force restart must re-analyze everything")
}

func TestRunPeriodicFlush(t *testing.T) {
	env := newTestEnv(t)

	// Flush after every 2 posts; interrupt after the third. The state on disk
	// must already contain the first two posts even though the final flush
	// also runs.
	env.analyzer.onAnalyze = func(postID string) {
		if postID == "c" {
			// Inspect what the periodic flush persisted before this post.
			record, err := env.store.Load()
			require.NoError(t, err)
			require.NotNil(t, record, "state must be flushed after SaveInterval posts")
			assert.Equal(t, 2, record.ProcessedCount)
		}
	}
	orch := env.orchestrator(Config{SaveInterval: 2})

	summary, err := orch.Run(context.Background(), testPosts("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, summary.Status)

	record, err := env.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, record.ProcessedCount)
}

func TestRunCancelledContext(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	env.analyzer.onAnalyze = func(postID string) {
		if postID == "a" {
			cancel()
		}
	}

	orch := env.orchestrator(Config{})
	summary, err := orch.Run(ctx, testPosts("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, StatusInterrupted, summary.Status)
	assert.Empty(t, env.reportFiles(t))
}
