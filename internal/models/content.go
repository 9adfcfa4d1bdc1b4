package models

import (
	"time"
)

// BlogContent is the crawled and extracted text of one blog post,
// keyed by normalized URL. Created once on first successful extraction
// and never mutated afterwards except for TriggeredCount.
type BlogContent struct {
	URL           string     `json:"url" badgerhold:"key"` // normalized
	ID            string     `json:"_id" badgerhold:"index"`
	Title         string     `json:"title"`
	Author        string     `json:"author,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	WordCount     int        `json:"word_count"`
	ExtractedText string     `json:"extracted_text"`

	// TriggeredCount counts enqueue requests that reached this content,
	// including ones that were skipped below the publisher threshold.
	// Monotone non-decreasing.
	TriggeredCount int `json:"triggered_count"`

	CreatedAt time.Time `json:"created_at"`
}

// Summary is the generated overview of one blog post, keyed by
// normalized URL. The embedding vector is computed from the extracted
// content and used for similarity search scoped by Domain.
type Summary struct {
	BlogURL   string    `json:"blog_url" badgerhold:"key"` // normalized
	Domain    string    `json:"domain" badgerhold:"index"` // host of BlogURL, for scoped search
	Summary   string    `json:"summary"`
	KeyPoints []string  `json:"key_points"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Question is one generated Q&A pair for a blog post. All questions of
// the same BlogURL share the same BlogID.
type Question struct {
	ID         string    `json:"_id" badgerhold:"key"`
	BlogURL    string    `json:"blog_url" badgerhold:"index"`
	BlogID     string    `json:"blog_id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Icon       string    `json:"icon,omitempty"` // short glyph hint for the widget
	Embedding  []float32 `json:"embedding,omitempty"`
	ClickCount int       `json:"click_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// QuestionView is the widget-facing shape of a Question. Embeddings
// stay server-side.
type QuestionView struct {
	ID         string `json:"id"`
	BlogURL    string `json:"blog_url"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Icon       string `json:"icon,omitempty"`
	ClickCount int    `json:"click_count"`
}

// ToView strips server-side fields for API responses
func (q *Question) ToView() QuestionView {
	return QuestionView{
		ID:         q.ID,
		BlogURL:    q.BlogURL,
		Question:   q.Question,
		Answer:     q.Answer,
		Icon:       q.Icon,
		ClickCount: q.ClickCount,
	}
}

// ExtractedContent is the crawler's output before persistence.
type ExtractedContent struct {
	URL           string
	Title         string
	Author        string
	PublishedDate *time.Time
	Markdown      string
	WordCount     int
}

// SimilarBlog is one similarity-search hit: a blog whose summary
// embedding is close to the probe question's embedding.
type SimilarBlog struct {
	BlogID        string     `json:"blog_id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Author        string     `json:"author,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	Score         float64    `json:"score"` // cosine similarity, higher is closer
}
