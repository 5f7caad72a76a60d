// Package index provides the retrieval index over course chunks, backed by
// PostgreSQL + pgvector with Gemini embeddings.
package index

import (
	"errors"

	"github.com/lectern-ai/lectern/internal/config"
	"github.com/lectern-ai/lectern/internal/course"
)

// VectorDimension is the embedding dimensionality stored in pgvector.
// gemini-embedding-001 is truncated to this size via OutputDimensionality;
// the chunks.embedding column is vector(768).
const VectorDimension int32 = 768

var (
	// ErrCourseNotFound indicates no course matched the given title.
	ErrCourseNotFound = errors.New("course not found")

	// ErrEmptyQuery indicates a search with no query text.
	ErrEmptyQuery = errors.New("empty query")
)

// Result is a single search hit with attribution metadata.
type Result struct {
	Chunk       course.Chunk
	LessonTitle string
	LessonLink  string
	CourseLink  string
	Similarity  float32
}

// CourseStats summarizes one indexed course for the statistics surface.
type CourseStats struct {
	Title       string `json:"title"`
	LessonCount int    `json:"lesson_count"`
	ChunkCount  int    `json:"chunk_count"`
}

// SearchOption configures search behavior using the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK         int
	courseTitle  string
	lessonNumber int
}

// WithTopK sets the maximum number of results to return. Default is
// config.DefaultMaxResults.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithCourse restricts results to a single course by exact title.
func WithCourse(title string) SearchOption {
	return func(c *searchConfig) {
		c.courseTitle = title
	}
}

// WithLesson restricts results to a single lesson number.
func WithLesson(number int) SearchOption {
	return func(c *searchConfig) {
		c.lessonNumber = number
	}
}

// buildSearchConfig applies search options over the defaults.
// lessonNumber -1 means no lesson filter.
func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:         config.DefaultMaxResults,
		lessonNumber: -1,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
