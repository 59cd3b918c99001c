package inference

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	errs "postscan/pkg/errors"
	"postscan/pkg/logger"
	"postscan/pkg/models"
	"postscan/pkg/retry"
)

// Config holds inference client settings.
type Config struct {
	// Endpoint is the base URL of the OpenAI-compatible service,
	// e.g. http://127.0.0.1:1234/v1.
	Endpoint string
	Model    string
	APIKey   string
	// Timeout applies per request.
	Timeout time.Duration
	// MaxRetries is the total number of attempts per post.
	MaxRetries  int
	Temperature float32
	MaxTokens   int
	// MaxImages bounds how many encoded images go into one request.
	MaxImages int
	// MaxImageDim bounds the long side of each image before encoding.
	MaxImageDim int
	JPEGQuality int
	// BusyBackoff is used when the service reports busy/overloaded.
	// Defaults to exponential, base 1s, capped at 30s.
	BusyBackoff retry.BackoffStrategy
	// TransientDelay is the fixed pause after a timeout or connection error.
	TransientDelay time.Duration
}

// Stats tracks request outcomes across a client's lifetime.
type Stats struct {
	TotalRequests      int
	SuccessfulRequests int
	FailedRequests     int
	RetryCount         int
	TotalTokens        int
}

// SuccessRate returns the fraction of posts that produced a parsed analysis.
func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests)
}

// Client talks to a single OpenAI-compatible multimodal inference endpoint.
// One Analyze call covers one post: encoded images plus the caller-supplied
// prompts, with bounded retries on transient failures.
type Client struct {
	api    *openai.Client
	cfg    Config
	logger logger.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates an inference client for the configured endpoint.
func New(cfg Config, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 4
	}
	if cfg.MaxImageDim <= 0 {
		cfg.MaxImageDim = 896
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	if cfg.BusyBackoff == nil {
		cfg.BusyBackoff = &retry.ExponentialBackoff{
			BaseDelay:  1 * time.Second,
			MaxDelay:   30 * time.Second,
			Multiplier: 2.0,
		}
	}
	if cfg.TransientDelay <= 0 {
		cfg.TransientDelay = 2 * time.Second
	}
	if log == nil {
		log = logger.GetLogger()
	}

	apiConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		apiConfig.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}

	return &Client{
		api:    openai.NewClientWithConfig(apiConfig),
		cfg:    cfg,
		logger: log,
	}
}

// TestConnection probes the service's model listing endpoint. A failure here
// is a fatal precondition for the whole run, not a per-post error.
func (c *Client) TestConnection(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	list, err := c.api.ListModels(probeCtx)
	if err != nil {
		return errs.New(errs.ErrorTypeFatal, fmt.Sprintf("inference endpoint unreachable: %v", err))
	}

	c.logger.InfoWithFields("inference endpoint reachable", map[string]interface{}{
		"endpoint": c.cfg.Endpoint,
		"models":   len(list.Models),
	})
	return nil
}

// Stats returns a snapshot of the request statistics.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Analyze sends one post with its fetched images to the inference service and
// returns the parsed structured analysis.
//
// Retry policy: busy/overloaded responses back off exponentially, timeouts and
// connection errors pause briefly, any other failure is logged and simply
// consumes one of the bounded attempts. A response whose body cannot be parsed
// even through fallback extraction fails the post without further retries.
func (c *Client) Analyze(ctx context.Context, post models.Post, imagePaths []string, systemPrompt, userPrompt string) (*models.PostAnalysis, error) {
	c.mu.Lock()
	c.stats.TotalRequests++
	c.mu.Unlock()

	req := c.buildRequest(imagePaths, systemPrompt, userPrompt)

	var lastErr error
	attempts := 0

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		attempts = attempt + 1
		apiCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		resp, err := c.api.CreateChatCompletion(apiCtx, req)
		cancel()

		if err == nil {
			analysis, parseErr := c.handleResponse(post.ID, resp)
			if parseErr != nil {
				lastErr = parseErr
				break
			}
			c.mu.Lock()
			c.stats.SuccessfulRequests++
			c.mu.Unlock()
			return analysis, nil
		}

		status := statusFromError(err)

		switch {
		case status == 429 || status == 503:
			lastErr = errs.NewWithCode(errs.ErrorTypeBusy, err.Error(), status)
			if attempt < c.cfg.MaxRetries-1 {
				delay := c.cfg.BusyBackoff.NextDelay(attempt + 1)
				c.bumpRetryCount()
				c.logger.WarnWithFields("inference service busy, backing off", map[string]interface{}{
					"post_id":  post.ID,
					"attempt":  attempt + 1,
					"delay_ms": delay.Milliseconds(),
				})
				if werr := retry.Wait(ctx, delay); werr != nil {
					c.markFailed()
					return nil, fmt.Errorf("inference cancelled: %w", werr)
				}
				continue
			}

		case isTimeout(err):
			lastErr = errs.New(errs.ErrorTypeTimeout, err.Error())
			if attempt < c.cfg.MaxRetries-1 {
				c.bumpRetryCount()
				c.logger.WarnWithFields("inference request timed out, retrying", map[string]interface{}{
					"post_id": post.ID,
					"attempt": attempt + 1,
				})
				if werr := retry.Wait(ctx, c.cfg.TransientDelay); werr != nil {
					c.markFailed()
					return nil, fmt.Errorf("inference cancelled: %w", werr)
				}
				continue
			}

		case status == 0:
			lastErr = errs.New(errs.ErrorTypeNetwork, err.Error())
			if attempt < c.cfg.MaxRetries-1 {
				c.bumpRetryCount()
				c.logger.WarnWithFields("inference connection error, retrying", map[string]interface{}{
					"post_id": post.ID,
					"attempt": attempt + 1,
					"error":   err.Error(),
				})
				if werr := retry.Wait(ctx, c.cfg.TransientDelay); werr != nil {
					c.markFailed()
					return nil, fmt.Errorf("inference cancelled: %w", werr)
				}
				continue
			}

		default:
			// Hard failure for this attempt. It still consumes one of the
			// bounded attempts but gets no backoff.
			lastErr = errs.NewWithCode(errs.ErrorTypeServerError, err.Error(), status)
			c.logger.ErrorWithFields("inference request failed", map[string]interface{}{
				"post_id": post.ID,
				"attempt": attempt + 1,
				"status":  status,
				"error":   err.Error(),
			})
			continue
		}
	}

	c.markFailed()
	return nil, fmt.Errorf("inference failed after %d of %d attempts: %w", attempts, c.cfg.MaxRetries, lastErr)
}

func (c *Client) buildRequest(imagePaths []string, systemPrompt, userPrompt string) openai.ChatCompletionRequest {
	parts := make([]openai.ChatMessagePart, 0, len(imagePaths)+1)

	encoded := 0
	for _, path := range imagePaths {
		if encoded >= c.cfg.MaxImages {
			break
		}
		dataURL, err := EncodeImageFile(path, c.cfg.MaxImageDim, c.cfg.JPEGQuality)
		if err != nil {
			c.logger.WarnWithFields("failed to encode image, skipping", map[string]interface{}{
				"path":  path,
				"error": err.Error(),
			})
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
		})
		encoded++
	}

	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: userPrompt,
	})

	return openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt + "\n\nIMPORTANT: You MUST respond with valid JSON only. No other text.",
			},
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
}

func (c *Client) handleResponse(postID string, resp openai.ChatCompletionResponse) (*models.PostAnalysis, error) {
	c.mu.Lock()
	c.stats.TotalTokens += resp.Usage.TotalTokens
	c.mu.Unlock()

	if len(resp.Choices) == 0 {
		return nil, errs.New(errs.ErrorTypeParsing, "no completion choices in response")
	}

	text := resp.Choices[0].Message.Content
	analysis, err := ParseAnalysis(text)
	if err != nil {
		c.logger.WarnWithFields("unparseable inference response", map[string]interface{}{
			"post_id":     postID,
			"body_length": len(text),
			"error":       err.Error(),
		})
		return nil, err
	}

	return analysis, nil
}

func (c *Client) bumpRetryCount() {
	c.mu.Lock()
	c.stats.RetryCount++
	c.mu.Unlock()
}

func (c *Client) markFailed() {
	c.mu.Lock()
	c.stats.FailedRequests++
	c.mu.Unlock()
}

// statusFromError extracts the HTTP status from a go-openai error, returning
// 0 for transport-level failures that never produced a response.
func statusFromError(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}
