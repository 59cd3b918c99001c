package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"postscan/pkg/logger"
	"postscan/pkg/models"
)

const recordVersion = 1

// Statistics aggregates run-level outcomes. ByCategory counts detected
// product categories across all successful analyses.
type Statistics struct {
	TotalPosts       int            `json:"total_posts"`
	Successful       int            `json:"successful"`
	Failed           int            `json:"failed"`
	Skipped          int            `json:"skipped"`
	NicotineDetected int            `json:"nicotine_detected"`
	ByCategory       map[string]int `json:"by_category"`
}

// Record is the persisted state of an analysis run. ProcessedCount always
// equals the combined size of the completed and failed ID sets; a record that
// breaks that invariant is treated as corrupt.
type Record struct {
	Version        int             `json:"version"`
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	LastSaved      time.Time       `json:"last_saved"`
	ProcessedCount int             `json:"processed_count"`
	ProcessedIDs   map[string]bool `json:"processed_ids"`
	FailedIDs      map[string]bool `json:"failed_ids"`
	Results        []models.Result `json:"results"`
	Statistics     Statistics      `json:"statistics"`
}

// NewRecord creates a fresh record for a run over totalPosts input posts.
func NewRecord(totalPosts int) *Record {
	return &Record{
		Version:      recordVersion,
		RunID:        uuid.New().String(),
		StartedAt:    time.Now().UTC(),
		ProcessedIDs: make(map[string]bool),
		FailedIDs:    make(map[string]bool),
		Results:      make([]models.Result, 0),
		Statistics: Statistics{
			TotalPosts: totalPosts,
			ByCategory: make(map[string]int),
		},
	}
}

// IsProcessed reports whether a post has already been handled, in either the
// completed or the failed set. Processed posts are never re-analyzed.
func (r *Record) IsProcessed(postID string) bool {
	return r.ProcessedIDs[postID] || r.FailedIDs[postID]
}

// MarkSucceeded records a completed analysis and folds its detections into
// the run statistics.
func (r *Record) MarkSucceeded(result models.Result) {
	if r.IsProcessed(result.PostID) {
		return
	}

	r.ProcessedIDs[result.PostID] = true
	r.ProcessedCount++
	r.Results = append(r.Results, result)
	r.Statistics.Successful++

	if result.Analysis == nil {
		return
	}
	detection := result.Analysis.NicotineDetection
	if !detection.Detected {
		return
	}
	r.Statistics.NicotineDetected++
	for _, product := range detection.Products {
		if product.Category == "" {
			continue
		}
		if r.Statistics.ByCategory == nil {
			r.Statistics.ByCategory = make(map[string]int)
		}
		r.Statistics.ByCategory[product.Category]++
	}
}

// MarkFailed records a post whose analysis failed for good.
func (r *Record) MarkFailed(postID string) {
	if r.IsProcessed(postID) {
		return
	}
	r.FailedIDs[postID] = true
	r.ProcessedCount++
	r.Statistics.Failed++
}

// MarkSkipped counts a post that was skipped because an earlier run already
// processed it.
func (r *Record) MarkSkipped() {
	r.Statistics.Skipped++
}

// validate checks the record's internal consistency.
func (r *Record) validate() error {
	if r.ProcessedIDs == nil || r.FailedIDs == nil {
		return fmt.Errorf("state record is missing ID sets")
	}
	if got := len(r.ProcessedIDs) + len(r.FailedIDs); r.ProcessedCount != got {
		return fmt.Errorf("state record is inconsistent: processed_count=%d but ID sets hold %d entries",
			r.ProcessedCount, got)
	}
	for _, result := range r.Results {
		if !r.ProcessedIDs[result.PostID] {
			return fmt.Errorf("state record is inconsistent: result for %s has no completed entry", result.PostID)
		}
	}
	return nil
}

// Store persists Records to a single JSON file with atomic replacement.
type Store struct {
	path   string
	logger logger.Logger
}

// NewStore creates a store writing to path, creating parent directories as
// needed.
func NewStore(path string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Store{path: path, logger: log}, nil
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a state file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the persisted record. A missing file yields (nil, nil); a file
// that cannot be parsed or breaks the count invariant yields an error so the
// operator can decide to restart instead of silently losing progress.
func (s *Store) Load() (*Record, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	defer file.Close()

	var record Record
	if err := json.NewDecoder(file).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode state file: %w", err)
	}
	if err := record.validate(); err != nil {
		return nil, err
	}

	s.logger.InfoWithFields("analysis state loaded", map[string]interface{}{
		"run_id":          record.RunID,
		"processed_count": record.ProcessedCount,
		"failed":          len(record.FailedIDs),
		"last_saved":      record.LastSaved,
	})

	return &record, nil
}

// Save persists the record atomically: write to a temp file, fsync, then
// rename over the previous state. A crash mid-save leaves the old state
// intact.
func (s *Store) Save(record *Record) error {
	record.LastSaved = time.Now().UTC()

	tempPath := s.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(record); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync state file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	s.logger.DebugWithFields("analysis state saved", map[string]interface{}{
		"processed_count": record.ProcessedCount,
		"results":         len(record.Results),
	})

	return nil
}

// Delete removes the state file. Missing files are not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	s.logger.Info("analysis state deleted")
	return nil
}

// Summary returns a human-oriented view of the persisted record for status
// reporting, or nil when no state exists.
func (s *Store) Summary() (map[string]interface{}, error) {
	record, err := s.Load()
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	return map[string]interface{}{
		"run_id":            record.RunID,
		"started_at":        record.StartedAt,
		"last_saved":        record.LastSaved,
		"processed_count":   record.ProcessedCount,
		"total_posts":       record.Statistics.TotalPosts,
		"successful":        record.Statistics.Successful,
		"failed":            record.Statistics.Failed,
		"skipped":           record.Statistics.Skipped,
		"nicotine_detected": record.Statistics.NicotineDetected,
		"age":               time.Since(record.LastSaved),
	}, nil
}
