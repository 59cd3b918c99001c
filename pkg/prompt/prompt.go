package prompt

import (
	"fmt"
	"os"
	"strings"

	"postscan/pkg/models"
)

// defaultSystemPrompt instructs the model to perform structured nicotine
// product detection and reply with JSON only.
const defaultSystemPrompt = `You are an expert content analyst specializing in detecting nicotine and tobacco products in social media posts. You examine images, captions, hashtags, and comments.

Analyze the post and respond with a single JSON object of this shape:
{
  "nicotine_detection": {
    "detected": true/false,
    "confidence": "high/medium/low",
    "products": [
      {
        "category": "cigarettes/vaping/nicotine_pouches/snus/heated_tobacco/cigars/hookah/other",
        "specific_brand": "brand name or unknown",
        "specific_model": "model name or unknown",
        "product_type": "Device/Consumable/Both",
        "quantity_visible": "single/multiple/bulk",
        "visual_prominence": "main_focus/background/incidental"
      }
    ],
    "detection_evidence": {
      "visual": ["what is visible in the images"],
      "caption": ["relevant caption phrases"],
      "comments": ["relevant comment phrases"],
      "hashtags": ["relevant hashtags"]
    },
    "usage_type": "active_use/display/promotional/incidental/none"
  },
  "sentiment": {
    "overall": "positive/neutral/negative/mixed/not_mentioned",
    "confidence": "high/medium/low",
    "key_phrases": [],
    "language_tone": ""
  },
  "content_analysis": {
    "primary_category": "",
    "secondary_categories": [],
    "content_themes": [],
    "setting": ""
  },
  "metadata": {
    "primary_language": "",
    "image_count_analyzed": 0,
    "analysis_confidence": "high/medium/low",
    "ambiguities": [],
    "analysis_notes": ""
  }
}`

// maxCommentLines bounds how much comment text goes into one prompt.
const maxCommentLines = 20

// Builder constructs the prompts sent with each analysis request.
type Builder struct {
	systemPrompt string
}

// NewBuilder returns a builder using the built-in system prompt.
func NewBuilder() *Builder {
	return &Builder{systemPrompt: defaultSystemPrompt}
}

// NewBuilderFromFile returns a builder whose system prompt is read from path.
func NewBuilderFromFile(path string) (*Builder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, fmt.Errorf("prompt file %s is empty", path)
	}
	return &Builder{systemPrompt: text}, nil
}

// System returns the system prompt.
func (b *Builder) System() string {
	return b.systemPrompt
}

// User renders the per-post prompt: the post's textual context plus how many
// images accompany the request.
func (b *Builder) User(post models.Post, imageCount int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Analyze this social media post (%d image(s) attached).\n\n", imageCount)
	fmt.Fprintf(&sb, "Post type: %s\n", post.Type)
	fmt.Fprintf(&sb, "Posted by: @%s\n", post.Username)
	if !post.Timestamp.IsZero() {
		fmt.Fprintf(&sb, "Posted at: %s\n", post.Timestamp.Format("2006-01-02 15:04"))
	}

	sb.WriteString("\nCaption:\n")
	if strings.TrimSpace(post.Caption) == "" {
		sb.WriteString("(no caption)\n")
	} else {
		sb.WriteString(post.Caption)
		sb.WriteString("\n")
	}

	if len(post.Hashtags) > 0 {
		fmt.Fprintf(&sb, "\nHashtags: %s\n", strings.Join(post.Hashtags, " "))
	}

	if len(post.Comments) > 0 {
		sb.WriteString("\nComments:\n")
		for i, comment := range post.Comments {
			if i >= maxCommentLines {
				fmt.Fprintf(&sb, "(and %d more comments)\n", len(post.Comments)-i)
				break
			}
			if comment.Username != "" {
				fmt.Fprintf(&sb, "@%s: %s\n", comment.Username, comment.Text)
			} else {
				fmt.Fprintf(&sb, "- %s\n", comment.Text)
			}
		}
	}

	sb.WriteString("\nRespond with the JSON analysis only.")
	return sb.String()
}
