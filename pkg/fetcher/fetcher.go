package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"postscan/pkg/cache"
	errs "postscan/pkg/errors"
	"postscan/pkg/logger"
	"postscan/pkg/ratelimit"
	"postscan/pkg/retry"
)

// FetchResult is the outcome of fetching one resource locator.
type FetchResult struct {
	URL       string
	LocalPath string // set only on success
	Index     int    // position in the post's (truncated) locator list
	Success   bool
	Cached    bool
	Error     string // classified error, set only on failure
}

// Stats aggregates fetch outcomes across all posts in a run.
type Stats struct {
	Downloaded int
	Cached     int
	Failed     int
	// TotalAttempts counts HTTP attempts, retries included. Cache hits never
	// touch the network and are not counted.
	TotalAttempts int
}

// Config holds fetcher settings.
type Config struct {
	// MaxRetries is the total number of attempts per resource.
	MaxRetries int
	// Timeout applies per HTTP request.
	Timeout time.Duration
	// PerPostWorkers bounds concurrent fetches within one post.
	PerPostWorkers int
	// GlobalConcurrent bounds concurrent fetches across all posts.
	GlobalConcurrent int
	// UserAgent is sent on every request.
	UserAgent string
	// Backoff between retry attempts. Defaults to a short linear backoff.
	Backoff retry.BackoffStrategy
}

// Fetcher downloads post resources through a bounded worker pool, consulting
// the cache before any network call. Each worker owns its own HTTP client so
// no connection-pool state is shared across goroutines.
type Fetcher struct {
	cfg     Config
	cache   *cache.Cache
	sem     *semaphore.Weighted
	limiter ratelimit.Limiter
	logger  logger.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Fetcher.
func New(cfg Config, c *cache.Cache, limiter ratelimit.Limiter, log logger.Logger) *Fetcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PerPostWorkers <= 0 {
		cfg.PerPostWorkers = 4
	}
	if cfg.GlobalConcurrent < cfg.PerPostWorkers {
		cfg.GlobalConcurrent = cfg.PerPostWorkers
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.DefaultLinearBackoff()
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &Fetcher{
		cfg:     cfg,
		cache:   c,
		sem:     semaphore.NewWeighted(int64(cfg.GlobalConcurrent)),
		limiter: limiter,
		logger:  log,
	}
}

// FetchAll resolves all resources for one post, truncating the locator list
// to maxCount (keeping original order) before dispatch. Results come back in
// locator order; a failed locator yields a failed entry without aborting its
// siblings.
func (f *Fetcher) FetchAll(ctx context.Context, postID string, urls []string, maxCount int) []FetchResult {
	if maxCount > 0 && len(urls) > maxCount {
		urls = urls[:maxCount]
	}

	results := make([]FetchResult, len(urls))
	if len(urls) == 0 {
		return results
	}

	workers := f.cfg.PerPostWorkers
	if workers > len(urls) {
		workers = len(urls)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: f.cfg.Timeout}
			for idx := range jobs {
				results[idx] = f.fetchOne(ctx, client, postID, idx, urls[idx])
			}
		}()
	}

	for idx := range urls {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	return results
}

// Stats returns a snapshot of the accumulated fetch statistics.
func (f *Fetcher) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *Fetcher) fetchOne(ctx context.Context, client *http.Client, postID string, index int, rawURL string) FetchResult {
	result := FetchResult{URL: rawURL, Index: index}

	if path, ok := f.cache.Get(postID, index, rawURL); ok {
		f.mu.Lock()
		f.stats.Cached++
		f.mu.Unlock()

		result.Success = true
		result.Cached = true
		result.LocalPath = path
		return result
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return f.failResult(result, postID, fmt.Sprintf("cancelled: %v", err))
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return f.failResult(result, postID, fmt.Sprintf("cancelled: %v", err))
	}
	defer f.sem.Release(1)

	var localPath string
	err := retry.Do(func() error {
		path, err := f.download(ctx, client, postID, index, rawURL)
		if err != nil {
			return err
		}
		localPath = path
		return nil
	}, &retry.Config{
		MaxAttempts: f.cfg.MaxRetries,
		Backoff:     f.cfg.Backoff,
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      f.logger.WithFields(map[string]interface{}{"post_id": postID, "index": index}),
	})
	if err != nil {
		return f.failResult(result, postID, err.Error())
	}

	f.mu.Lock()
	f.stats.Downloaded++
	f.mu.Unlock()

	result.Success = true
	result.LocalPath = localPath
	return result
}

func (f *Fetcher) failResult(result FetchResult, postID string, message string) FetchResult {
	f.mu.Lock()
	f.stats.Failed++
	f.mu.Unlock()

	f.logger.WarnWithFields("resource fetch failed", map[string]interface{}{
		"post_id": postID,
		"index":   result.Index,
		"url":     result.URL,
		"error":   message,
	})

	result.Error = message
	return result
}

// download performs one fetch attempt and stores the body in the cache on
// success. Errors come back classified so the retry layer can tell permanent
// failures from transient ones.
func (f *Fetcher) download(ctx context.Context, client *http.Client, postID string, index int, rawURL string) (string, error) {
	f.mu.Lock()
	f.stats.TotalAttempts++
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", errs.New(errs.ErrorTypeNotFound, fmt.Sprintf("invalid url: %v", err))
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorType := errs.ClassifyStatusCode(resp.StatusCode)
		if errorType == errs.ErrorTypeUnknown {
			errorType = errs.ErrorTypeServerError
		}
		if resp.StatusCode < 500 && resp.StatusCode != 429 {
			errorType = errs.ErrorTypeNotFound
		}
		return "", errs.NewWithCode(errorType, "unexpected response status", resp.StatusCode)
	}

	path, err := f.cache.Put(postID, index, rawURL, resp.Body)
	if err != nil {
		return "", errs.New(errs.ErrorTypeNetwork, fmt.Sprintf("failed to store resource: %v", err))
	}

	return path, nil
}

func classifyTransportError(err error) *errs.Error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return errs.New(errs.ErrorTypeTimeout, urlErr.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.New(errs.ErrorTypeTimeout, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return errs.New(errs.ErrorTypeFatal, err.Error())
	}
	return errs.New(errs.ErrorTypeNetwork, err.Error())
}
