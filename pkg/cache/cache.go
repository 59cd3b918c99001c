package cache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"postscan/pkg/logger"
)

// Cache is a filesystem-backed, content-addressed store for fetched resources.
// Keys are derived deterministically from (post id, resource index, locator),
// so concurrent workers never target the same file and re-runs against the
// same input resolve to the same slot. The cache is append-only for the
// duration of a run; Clear is an explicit operator action.
type Cache struct {
	dir    string
	logger logger.Logger
}

// New creates a cache rooted at dir, creating the directory if needed.
func New(dir string, log logger.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Cache{dir: dir, logger: log}, nil
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Key returns the deterministic cache key for one resource:
// {postID}_{index}_{md5(url)[:8]}{ext}.
func (c *Cache) Key(postID string, index int, rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	urlHash := hex.EncodeToString(sum[:])[:8]
	return fmt.Sprintf("%s_%d_%s%s", postID, index, urlHash, extFromURL(rawURL))
}

// PathFor returns the absolute path for a resource's cache slot, whether or
// not it exists yet.
func (c *Cache) PathFor(postID string, index int, rawURL string) string {
	return filepath.Join(c.dir, c.Key(postID, index, rawURL))
}

// Has reports whether the resource is already cached.
func (c *Cache) Has(postID string, index int, rawURL string) bool {
	info, err := os.Stat(c.PathFor(postID, index, rawURL))
	return err == nil && info.Size() > 0
}

// Get returns the local path of a cached resource, if present.
func (c *Cache) Get(postID string, index int, rawURL string) (string, bool) {
	path := c.PathFor(postID, index, rawURL)
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", false
	}
	return path, true
}

// Put stores resource bytes in the cache slot and returns the local path.
// Writes go to a temp file first and are renamed into place so readers never
// observe a partial file.
func (c *Cache) Put(postID string, index int, rawURL string, r io.Reader) (string, error) {
	path := c.PathFor(postID, index, rawURL)

	tempPath := path + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temporary cache file: %w", err)
	}

	n, err := io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to write cache data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to close cache file: %w", closeErr)
	}
	if n == 0 {
		os.Remove(tempPath)
		return "", fmt.Errorf("refusing to cache empty resource")
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to rename temporary cache file: %w", err)
	}

	return path, nil
}

// PostImages returns the cached resource paths for a post, sorted by index.
func (c *Cache) PostImages(postID string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, postID+"_*"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan cache: %w", err)
	}
	return matches, nil
}

// Stats returns the number of cached files and their total size in bytes.
func (c *Cache) Stats() (int, int64, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var count int
	var size int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count++
		size += info.Size()
	}
	return count, size, nil
}

// Clear removes the entire cache directory and recreates it empty. This is
// the only supported way to invalidate cached resources.
func (c *Cache) Clear() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to remove cache directory: %w", err)
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to recreate cache directory: %w", err)
	}
	c.logger.InfoWithFields("cache cleared", map[string]interface{}{
		"dir": c.dir,
	})
	return nil
}

// extFromURL extracts a file extension from a locator path, defaulting to
// .jpg when absent or suspicious.
func extFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ".jpg"
	}
	ext := strings.ToLower(filepath.Ext(parsed.Path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return ext
	default:
		return ".jpg"
	}
}
