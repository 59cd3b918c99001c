package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postscan/pkg/models"
)

func TestDefaultSystemPrompt(t *testing.T) {
	b := NewBuilder()
	assert.Contains(t, b.System(), "nicotine")
	assert.Contains(t, b.System(), "JSON")
}

func TestBuilderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("custom system prompt\n"), 0644))

	b, err := NewBuilderFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "custom system prompt", b.System())
}

func TestBuilderFromFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0644))

	_, err := NewBuilderFromFile(path)
	assert.Error(t, err)
}

func TestBuilderFromFileMissing(t *testing.T) {
	_, err := NewBuilderFromFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestUserPromptIncludesPostContext(t *testing.T) {
	post := models.Post{
		ID:       "p1",
		Username: "someone",
		Type:     "Sidecar",
		Caption:  "chilling with friends",
		Hashtags: []string{"#weekend", "#vibes"},
		Comments: []models.Comment{
			{Username: "friend", Text: "looks fun"},
			{Text: "anonymous comment"},
		},
	}

	text := NewBuilder().User(post, 3)

	assert.Contains(t, text, "3 image(s)")
	assert.Contains(t, text, "@someone")
	assert.Contains(t, text, "Sidecar")
	assert.Contains(t, text, "chilling with friends")
	assert.Contains(t, text, "#weekend #vibes")
	assert.Contains(t, text, "@friend: looks fun")
	assert.Contains(t, text, "- anonymous comment")
}

func TestUserPromptEmptyCaption(t *testing.T) {
	text := NewBuilder().User(models.Post{ID: "p1", Caption: "   "}, 1)
	assert.Contains(t, text, "(no caption)")
}

func TestUserPromptCapsComments(t *testing.T) {
	post := models.Post{ID: "p1"}
	for i := 0; i < 30; i++ {
		post.Comments = append(post.Comments, models.Comment{Text: fmt.Sprintf("comment %d", i)})
	}

	text := NewBuilder().User(post, 1)

	assert.Contains(t, text, "comment 19")
	assert.NotContains(t, text, "comment 20\n")
	assert.Contains(t, text, "10 more comments")
	assert.Less(t, strings.Count(text, "comment "), 25)
}
