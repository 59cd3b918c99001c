package input

import (
	"encoding/json"
	"fmt"
	"os"

	"postscan/pkg/logger"
	"postscan/pkg/models"
)

// LoadPosts reads the input dataset: a JSON array of posts. Entries without an
// ID cannot be tracked across runs and are dropped with a warning.
func LoadPosts(path string, log logger.Logger) ([]models.Post, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	var posts []models.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, fmt.Errorf("failed to parse input file: %w", err)
	}

	valid := posts[:0]
	dropped := 0
	for _, post := range posts {
		if post.ID == "" {
			dropped++
			continue
		}
		valid = append(valid, post)
	}
	if dropped > 0 {
		log.WarnWithFields("dropped posts without an id", map[string]interface{}{
			"dropped": dropped,
		})
	}

	log.InfoWithFields("input loaded", map[string]interface{}{
		"path":  path,
		"posts": len(valid),
	})

	return valid, nil
}

// Sample returns the first n posts. Taking a deterministic prefix keeps
// sample runs resumable against the same state file.
func Sample(posts []models.Post, n int) []models.Post {
	if n <= 0 || n >= len(posts) {
		return posts
	}
	return posts[:n]
}
