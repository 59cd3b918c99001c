package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"postscan/pkg/cache"
	"postscan/pkg/checkpoint"
	"postscan/pkg/config"
	"postscan/pkg/fetcher"
	"postscan/pkg/inference"
	"postscan/pkg/input"
	"postscan/pkg/logger"
	"postscan/pkg/metrics"
	"postscan/pkg/pipeline"
	"postscan/pkg/prompt"
	"postscan/pkg/ratelimit"
	"postscan/pkg/report"
)

var (
	// Analyze command flags
	inputFile    string
	stateFile    string
	outputDir    string
	cacheDir     string
	endpoint     string
	model        string
	sampleSize   int
	saveInterval int
	maxRetries   int
	forceRestart bool
	metricsAddr  string
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a post export for nicotine product content",
	Long: `Run the analysis pipeline over an exported post dataset.

Each post's images are fetched (or served from the local cache), sent to the
configured vision model together with the post's caption, hashtags, and
comments, and the structured result is recorded. Progress is checkpointed
periodically, so an interrupted run resumes where it left off.

The final JSON report is written to the output directory only when every post
has been handled.`,
	Example: `  # Analyze with default settings
  postscan analyze

  # Analyze a specific export against a custom endpoint
  postscan analyze --input exports/posts.json --endpoint http://127.0.0.1:1234/v1

  # Quick sample run over the first 20 posts
  postscan analyze --sample 20

  # Discard previous progress and start over
  postscan analyze --force-restart`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze()
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&inputFile, "input", "i", "", "input JSON file with posts")
	analyzeCmd.Flags().StringVar(&stateFile, "state-file", "", "analysis state file for resume")
	analyzeCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for reports")
	analyzeCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "image cache directory")
	analyzeCmd.Flags().StringVar(&endpoint, "endpoint", "", "inference endpoint base URL")
	analyzeCmd.Flags().StringVar(&model, "model", "", "model identifier")
	analyzeCmd.Flags().IntVar(&sampleSize, "sample", 0, "analyze only the first N posts")
	analyzeCmd.Flags().IntVar(&saveInterval, "save-interval", 0, "posts between state saves")
	analyzeCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "maximum inference attempts per post")
	analyzeCmd.Flags().BoolVar(&forceRestart, "force-restart", false, "discard existing state and start over")
	analyzeCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")
}

func runAnalyze() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return err
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("postscan starting")

	posts, err := input.LoadPosts(cfg.Data.InputFile, log)
	if err != nil {
		return err
	}
	if cfg.Progress.Mode == "sample" {
		posts = input.Sample(posts, cfg.Progress.SampleSize)
		log.InfoWithFields("sample mode", map[string]interface{}{
			"posts": len(posts),
		})
	}
	if len(posts) == 0 {
		return fmt.Errorf("input %s contains no posts", cfg.Data.InputFile)
	}

	imageCache, err := cache.New(cfg.Images.CacheDir, log)
	if err != nil {
		return err
	}

	fetch := fetcher.New(fetcher.Config{
		MaxRetries:       cfg.Images.MaxRetries,
		Timeout:          cfg.Images.FetchTimeout,
		PerPostWorkers:   cfg.Images.PerPostWorkers,
		GlobalConcurrent: cfg.Images.GlobalConcurrent,
		UserAgent:        cfg.Images.UserAgent,
	}, imageCache, ratelimit.NewTokenBucket(cfg.Images.RequestsPerMinute, cfg.Images.PerPostWorkers), log)

	analyzer := inference.New(inference.Config{
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxImages:   cfg.LLM.MaxImages,
		MaxImageDim: cfg.LLM.MaxImageDim,
		JPEGQuality: cfg.LLM.JPEGQuality,
	}, log)

	prompts, err := loadPrompts(cfg)
	if err != nil {
		return err
	}

	store, err := checkpoint.NewStore(cfg.Data.StateFile, log)
	if err != nil {
		return err
	}

	reports, err := report.NewWriter(cfg.Data.OutputDir, log)
	if err != nil {
		return err
	}

	m := metrics.New()
	if cfg.Metrics.Enabled {
		server := m.Serve(cfg.Metrics.ListenAddr, log)
		defer server.Close()
	}

	orch := pipeline.New(pipeline.Config{
		SaveInterval:     cfg.Progress.SaveInterval,
		MaxImagesPerPost: cfg.Images.MaxPerPost,
		ForceRestart:     forceRestart,
		InputFile:        cfg.Data.InputFile,
		Model:            cfg.LLM.Model,
		Endpoint:         cfg.LLM.Endpoint,
	}, fetch, analyzer, prompts, store, reports, m, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal: finish the post in flight, save, and exit cleanly.
	// Second signal: abort immediately.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		<-signals
		orch.RequestShutdown()
		<-signals
		log.Warn("second signal received, aborting")
		cancel()
	}()

	summary, err := orch.Run(ctx, posts)
	if err != nil {
		log.WithError(err).Error("analysis run failed")
		return err
	}

	printSummary(summary)
	return nil
}

func loadConfig() (*config.Config, error) {
	flags := map[string]interface{}{
		"input":      inputFile,
		"state-file": stateFile,
		"output":     outputDir,
		"cache-dir":  cacheDir,
		"endpoint":   endpoint,
		"model":      model,
	}
	if sampleSize > 0 {
		flags["sample"] = sampleSize
	}
	if saveInterval > 0 {
		flags["save-interval"] = saveInterval
	}
	if maxRetries > 0 {
		flags["max-retries"] = maxRetries
	}
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}
	if metricsAddr != "" {
		flags["metrics-addr"] = metricsAddr
	}
	return config.Load(configFile, flags)
}

func loadPrompts(cfg *config.Config) (*prompt.Builder, error) {
	if cfg.Data.PromptFile != "" {
		return prompt.NewBuilderFromFile(cfg.Data.PromptFile)
	}
	return prompt.NewBuilder(), nil
}

func printSummary(summary *pipeline.Summary) {
	fmt.Printf("\nRun %s: %s in %s\n", summary.RunID, summary.Status, summary.Elapsed.Round(time.Second))
	fmt.Printf("  posts:     %d total, %d successful, %d failed, %d skipped\n",
		summary.Statistics.TotalPosts, summary.Statistics.Successful,
		summary.Statistics.Failed, summary.Statistics.Skipped)
	fmt.Printf("  detected:  %d posts with nicotine content\n", summary.Statistics.NicotineDetected)
	for category, count := range summary.Statistics.ByCategory {
		fmt.Printf("             %s: %d\n", category, count)
	}
	fmt.Printf("  images:    %d downloaded, %d cached, %d failed\n",
		summary.Fetch.Downloaded, summary.Fetch.Cached, summary.Fetch.Failed)
	fmt.Printf("  inference: %d requests, %d retries, %d tokens\n",
		summary.Inference.TotalRequests, summary.Inference.RetryCount, summary.Inference.TotalTokens)
	if summary.ReportPath != "" {
		fmt.Printf("  report:    %s\n", summary.ReportPath)
	}
	if summary.Status == pipeline.StatusInterrupted {
		fmt.Println("\nRun was interrupted. Re-run 'postscan analyze' to resume.")
	}
}
