package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PublisherStatus represents the account state of a publisher
type PublisherStatus string

const (
	PublisherStatusActive    PublisherStatus = "active"
	PublisherStatusInactive  PublisherStatus = "inactive"
	PublisherStatusSuspended PublisherStatus = "suspended"
	PublisherStatusTrial     PublisherStatus = "trial"
)

// Publisher is a registered blog owner. Stored relationally; the
// Config and WidgetConfig columns are JSONB.
//
// Counter semantics:
//   - BlogSlotsReserved counts in-flight jobs holding a quota slot
//   - TotalBlogsProcessed counts blogs that completed the pipeline
//   - TotalBlogsProcessed + BlogSlotsReserved never exceeds
//     Config.MaxTotalBlogs when that limit is set
type Publisher struct {
	ID               string          `db:"id" json:"id"`
	Domain           string          `db:"domain" json:"domain"` // canonical, lower-cased, no leading www.
	Email            string          `db:"email" json:"email"`
	Status           PublisherStatus `db:"status" json:"status"`
	APIKeyHash       string          `db:"api_key_hash" json:"-"` // SHA-256 hex of the pub_ key
	AdminAPIKeyRef   string          `db:"admin_api_key_ref" json:"-"`
	SubscriptionTier string          `db:"subscription_tier" json:"subscription_tier"`

	Config       PublisherConfig `db:"config" json:"config"`
	WidgetConfig WidgetConfig    `db:"widget_config" json:"widget_config"`

	TotalBlogsProcessed     int `db:"total_blogs_processed" json:"total_blogs_processed"`
	BlogSlotsReserved       int `db:"blog_slots_reserved" json:"blog_slots_reserved"`
	TotalQuestionsGenerated int `db:"total_questions_generated" json:"total_questions_generated"`

	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	LastActiveAt *time.Time `db:"last_active_at" json:"last_active_at,omitempty"`
}

// IsActive reports whether the publisher may use the API at all.
// Trial accounts are active with whatever limits their config carries.
func (p *Publisher) IsActive() bool {
	return p.Status == PublisherStatusActive || p.Status == PublisherStatusTrial
}

// PublisherConfig controls how the pipeline processes this publisher's
// blogs. A snapshot of it travels on every job.
type PublisherConfig struct {
	QuestionsPerBlog int `json:"questions_per_blog"` // 1-20

	SummaryModel   string `json:"summary_model,omitempty"`
	QuestionsModel string `json:"questions_model,omitempty"`
	ChatModel      string `json:"chat_model,omitempty"`

	SummaryMaxTokens    int     `json:"summary_max_tokens,omitempty"`
	QuestionsMaxTokens  int     `json:"questions_max_tokens,omitempty"`
	ChatMaxTokens       int     `json:"chat_max_tokens,omitempty"`
	SummaryTemperature  float64 `json:"summary_temperature,omitempty"`
	QuestionTemperature float64 `json:"question_temperature,omitempty"`
	ChatTemperature     float64 `json:"chat_temperature,omitempty"`

	// UseGrounding enables provider web-search grounding when the
	// resolved provider supports it. Ignored otherwise.
	UseGrounding bool `json:"use_grounding,omitempty"`

	DailyBlogLimit *int `json:"daily_blog_limit,omitempty"` // per UTC day, nil = unlimited
	MaxTotalBlogs  *int `json:"max_total_blogs,omitempty"`  // lifetime, nil = unlimited

	// ThresholdBeforeProcessingBlog is the number of redundant enqueue
	// requests that must accumulate before the pipeline actually runs.
	ThresholdBeforeProcessingBlog int `json:"threshold_before_processing_blog"`

	// WhitelistedBlogURLs restricts processing to URLs with one of
	// these prefixes. Empty means allow all.
	WhitelistedBlogURLs []string `json:"whitelisted_blog_urls,omitempty"`

	// Custom prompts are merged as user-level instructions. They never
	// override the output JSON schema.
	CustomQuestionPrompt string `json:"custom_question_prompt,omitempty"`
	CustomSummaryPrompt  string `json:"custom_summary_prompt,omitempty"`
}

// Value implements driver.Valuer for JSONB storage
func (c PublisherConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for JSONB retrieval
func (c *PublisherConfig) Scan(value interface{}) error {
	if value == nil {
		*c = PublisherConfig{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("unsupported type for PublisherConfig: %T", value)
	}
}

// WidgetConfig is opaque JSON passed through to the embedding widget.
// The pipeline never interprets it.
type WidgetConfig json.RawMessage

// Value implements driver.Valuer for JSONB storage
func (w WidgetConfig) Value() (driver.Value, error) {
	if len(w) == 0 {
		return []byte("{}"), nil
	}
	return []byte(w), nil
}

// Scan implements sql.Scanner for JSONB retrieval
func (w *WidgetConfig) Scan(value interface{}) error {
	if value == nil {
		*w = WidgetConfig("{}")
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*w = make(WidgetConfig, len(v))
		copy(*w, v)
		return nil
	case string:
		*w = WidgetConfig(v)
		return nil
	default:
		return fmt.Errorf("unsupported type for WidgetConfig: %T", value)
	}
}

// MarshalJSON passes the raw payload through unchanged
func (w WidgetConfig) MarshalJSON() ([]byte, error) {
	if len(w) == 0 {
		return []byte("{}"), nil
	}
	return []byte(w), nil
}

// UnmarshalJSON stores the raw payload unchanged
func (w *WidgetConfig) UnmarshalJSON(data []byte) error {
	*w = make(WidgetConfig, len(data))
	copy(*w, data)
	return nil
}

// PublisherMetadata is the public view returned to unauthenticated
// widget loads. No keys, no counters, no limits.
type PublisherMetadata struct {
	PublisherID  string       `json:"publisher_id"`
	Domain       string       `json:"domain"`
	Status       string       `json:"status"`
	WidgetConfig WidgetConfig `json:"widget_config"`
}

// Metadata returns the widget-safe view of the publisher.
func (p *Publisher) Metadata() PublisherMetadata {
	return PublisherMetadata{
		PublisherID:  p.ID,
		Domain:       p.Domain,
		Status:       string(p.Status),
		WidgetConfig: p.WidgetConfig,
	}
}
