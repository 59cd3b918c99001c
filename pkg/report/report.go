package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"postscan/pkg/checkpoint"
	"postscan/pkg/logger"
	"postscan/pkg/models"
)

// Metadata describes the run that produced a report document.
type Metadata struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Model       string    `json:"model"`
	Endpoint    string    `json:"endpoint"`
	InputFile   string    `json:"input_file"`
	StartedAt   time.Time `json:"started_at"`
}

// Document is the exported analysis report.
type Document struct {
	Metadata   Metadata              `json:"metadata"`
	Statistics checkpoint.Statistics `json:"statistics"`
	Results    []models.Result       `json:"results"`
}

// Writer exports report documents into a directory, one timestamped file per
// completed run.
type Writer struct {
	outputDir string
	logger    logger.Logger
}

// NewWriter creates a report writer rooted at outputDir.
func NewWriter(outputDir string, log logger.Logger) (*Writer, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Writer{outputDir: outputDir, logger: log}, nil
}

// Write exports the document and returns the path it was written to.
func (w *Writer) Write(doc Document) (string, error) {
	doc.Metadata.GeneratedAt = time.Now().UTC()

	name := fmt.Sprintf("analysis_results_%s.json", doc.Metadata.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(w.outputDir, name)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	w.logger.InfoWithFields("report written", map[string]interface{}{
		"path":    path,
		"results": len(doc.Results),
	})

	return path, nil
}
