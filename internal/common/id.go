package common

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewBlogID generates a unique blog content ID with the "blog_" prefix
func NewBlogID() string {
	return "blog_" + uuid.New().String()
}

// NewQuestionID generates a unique question ID with the "q_" prefix
func NewQuestionID() string {
	return "q_" + uuid.New().String()
}

// NewPublisherID generates a publisher identifier
func NewPublisherID() string {
	return uuid.New().String()
}

// NewRequestID generates a request correlation ID
func NewRequestID() string {
	return uuid.New().String()
}

// NewAPIKey generates a publisher API key with the "pub_" prefix.
// The raw key is shown to the caller exactly once; only its hash is stored.
func NewAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "pub_" + hex.EncodeToString(buf), nil
}

// HashAPIKey returns the hex SHA-256 digest under which a key is stored.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
