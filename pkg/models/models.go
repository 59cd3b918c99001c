package models

import "time"

// Post is one pre-normalized social media post, the unit of work for the
// analysis pipeline. Posts are produced once per run by the input boundary
// and never mutated afterwards.
type Post struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"` // Image, Video, Sidecar
	Caption   string    `json:"caption"`
	Hashtags  []string  `json:"hashtags,omitempty"`
	Comments  []Comment `json:"comments,omitempty"`
	ImageURLs []string  `json:"image_urls"`
}

// Comment is a single comment attached to a post, passed through to prompt
// construction opaquely.
type Comment struct {
	Username string `json:"username,omitempty"`
	Text     string `json:"text"`
}

// PostAnalysis is the structured classification returned by the vision model
// for a single post. Fields the model omits stay nil/zero rather than being
// silently defaulted, so aggregation code can tell "absent" from "negative".
type PostAnalysis struct {
	NicotineDetection NicotineDetection `json:"nicotine_detection"`
	Sentiment         *Sentiment        `json:"sentiment,omitempty"`
	ContentAnalysis   *ContentAnalysis  `json:"content_analysis,omitempty"`
	Metadata          *AnalysisMetadata `json:"metadata,omitempty"`
}

// NicotineDetection is the detection section of an analysis.
type NicotineDetection struct {
	Detected   bool               `json:"detected"`
	Confidence string             `json:"confidence,omitempty"` // high, medium, low
	Products   []DetectedProduct  `json:"products,omitempty"`
	Evidence   *DetectionEvidence `json:"detection_evidence,omitempty"`
	UsageType  string             `json:"usage_type,omitempty"`
}

// DetectedProduct describes one product the model identified in the post.
type DetectedProduct struct {
	Category         string `json:"category"`
	SpecificBrand    string `json:"specific_brand,omitempty"`
	SpecificModel    string `json:"specific_model,omitempty"`
	ProductType      string `json:"product_type,omitempty"` // Device, Consumable, Both
	QuantityVisible  string `json:"quantity_visible,omitempty"`
	VisualProminence string `json:"visual_prominence,omitempty"`
}

// DetectionEvidence cites what the model actually saw or read.
type DetectionEvidence struct {
	Visual   []string `json:"visual,omitempty"`
	Caption  []string `json:"caption,omitempty"`
	Comments []string `json:"comments,omitempty"`
	Hashtags []string `json:"hashtags,omitempty"`
}

// Sentiment is the sentiment section of an analysis.
type Sentiment struct {
	Overall      string   `json:"overall"` // positive, neutral, negative, mixed, not_mentioned
	Confidence   string   `json:"confidence,omitempty"`
	KeyPhrases   []string `json:"key_phrases,omitempty"`
	LanguageTone string   `json:"language_tone,omitempty"`
}

// ContentAnalysis classifies the post content independent of detection.
type ContentAnalysis struct {
	PrimaryCategory     string   `json:"primary_category,omitempty"`
	SecondaryCategories []string `json:"secondary_categories,omitempty"`
	ContentThemes       []string `json:"content_themes,omitempty"`
	Setting             string   `json:"setting,omitempty"`
}

// AnalysisMetadata carries the model's own notes about the analysis.
type AnalysisMetadata struct {
	PrimaryLanguage    string   `json:"primary_language,omitempty"`
	ImageCountAnalyzed int      `json:"image_count_analyzed,omitempty"`
	AnalysisConfidence string   `json:"analysis_confidence,omitempty"`
	Ambiguities        []string `json:"ambiguities,omitempty"`
	AnalysisNotes      string   `json:"analysis_notes,omitempty"`
}

// Result couples a post's identity with its completed analysis. Results are
// accumulated in the checkpoint and exported in the final report document.
type Result struct {
	PostID     string        `json:"post_id"`
	Username   string        `json:"username"`
	URL        string        `json:"url"`
	PostType   string        `json:"post_type"`
	AnalyzedAt time.Time     `json:"analyzed_at"`
	ImageCount int           `json:"image_count"`
	Analysis   *PostAnalysis `json:"analysis"`
}
