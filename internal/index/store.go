package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/lectern-ai/lectern/internal/course"
)

const (
	// EmbedTimeout bounds a single embedding request.
	EmbedTimeout = 30 * time.Second

	// SearchTimeout bounds a single search round-trip.
	SearchTimeout = 10 * time.Second

	// embedBatchSize caps documents per embedding request.
	embedBatchSize = 64
)

// Store is the course retrieval index backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines. ReplaceCourse is
// atomic with respect to readers: a search observes either the old or the
// new version of a course, never a partial mix.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a Store.
func New(pool *pgxpool.Pool, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// embed generates vector embeddings for the given texts in batches.
// The returned slice is aligned with the input.
func (s *Store) embed(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	dim := VectorDimension
	vectors := make([]pgvector.Vector, 0, len(texts))

	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))

		docs := make([]*ai.Document, 0, end-start)
		for _, t := range texts[start:end] {
			docs = append(docs, ai.DocumentFromText(t, nil))
		}

		embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
		resp, err := s.embedder.Embed(embedCtx, &ai.EmbedRequest{
			Input:   docs,
			Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("embedding batch at %d: %w", start, err)
		}
		if len(resp.Embeddings) != len(docs) {
			return nil, fmt.Errorf("embedding batch at %d: got %d embeddings for %d documents",
				start, len(resp.Embeddings), len(docs))
		}
		for i, e := range resp.Embeddings {
			if len(e.Embedding) == 0 {
				return nil, fmt.Errorf("empty embedding for document %d", start+i)
			}
			vectors = append(vectors, pgvector.NewVector(e.Embedding))
		}
	}

	return vectors, nil
}

// ReplaceCourse indexes a course, replacing any previous version wholesale.
//
// Embedding happens before the transaction so no DB connection is held
// during provider calls. The delete + insert runs in one transaction under a
// per-course advisory lock, so concurrent re-ingestions of the same course
// serialize and readers never observe a half-replaced course.
func (s *Store) ReplaceCourse(ctx context.Context, c *course.Course, chunks []course.Chunk) error {
	if c == nil || c.Title == "" {
		return fmt.Errorf("course with a title is required")
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks for %q: %w", c.Title, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// pg_advisory_xact_lock releases automatically at commit/rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, c.Title); err != nil {
		return fmt.Errorf("acquiring advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM courses WHERE title = $1`, c.Title); err != nil {
		return fmt.Errorf("deleting previous version of %q: %w", c.Title, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO courses (title, link, instructor) VALUES ($1, $2, $3)`,
		c.Title, c.Link, c.Instructor); err != nil {
		return fmt.Errorf("inserting course %q: %w", c.Title, err)
	}

	for _, l := range c.Lessons {
		if _, err := tx.Exec(ctx,
			`INSERT INTO lessons (course_title, number, title, link) VALUES ($1, $2, $3, $4)`,
			c.Title, l.Number, l.Title, l.Link); err != nil {
			return fmt.Errorf("inserting lesson %d of %q: %w", l.Number, c.Title, err)
		}
	}

	for i, ch := range chunks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunks (course_title, lesson_number, chunk_index, content, embedding)
			 VALUES ($1, $2, $3, $4, $5)`,
			ch.CourseTitle, ch.LessonNumber, ch.Index, ch.Content, vectors[i]); err != nil {
			return fmt.Errorf("inserting chunk %d/%d of %q: %w", ch.LessonNumber, ch.Index, c.Title, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing course %q: %w", c.Title, err)
	}

	s.logger.Info("course indexed",
		"course", c.Title,
		"lessons", len(c.Lessons),
		"chunks", len(chunks))
	return nil
}

const searchSQL = `
SELECT c.course_title, c.lesson_number, c.chunk_index, c.content,
       l.title, l.link, co.link,
       1 - (c.embedding <=> $1) AS similarity
FROM chunks c
JOIN lessons l ON l.course_title = c.course_title AND l.number = c.lesson_number
JOIN courses co ON co.title = c.course_title
WHERE ($2 = '' OR c.course_title = $2)
  AND ($3 < 0 OR c.lesson_number = $3)
ORDER BY c.embedding <=> $1, c.course_title, c.lesson_number, c.chunk_index
LIMIT $4`

// Search embeds the query and returns the nearest chunks in descending
// similarity order. Ties break on chunk identity (course title, lesson
// number, sequence index) so results are deterministic. An empty index
// yields an empty slice, not an error.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	cfg := buildSearchConfig(opts)

	vectors, err := s.embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, SearchTimeout)
	defer cancel()

	rows, err := s.pool.Query(searchCtx, searchSQL,
		vectors[0], cfg.courseTitle, cfg.lessonNumber, cfg.topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(
			&r.Chunk.CourseTitle, &r.Chunk.LessonNumber, &r.Chunk.Index, &r.Chunk.Content,
			&r.LessonTitle, &r.LessonLink, &r.CourseLink,
			&r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search results: %w", err)
	}

	return results, nil
}

// ResolveCourseTitle resolves a possibly partial, case-insensitive course
// name to the full indexed title. Exact matches win over substring matches;
// among substring matches the shortest title wins.
func (s *Store) ResolveCourseTitle(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrCourseNotFound)
	}

	var title string
	err := s.pool.QueryRow(ctx, `
		SELECT title FROM courses
		WHERE title ILIKE '%' || $1 || '%'
		ORDER BY (lower(title) = lower($1)) DESC, length(title), title
		LIMIT 1`, name).Scan(&title)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %q", ErrCourseNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("resolving course title %q: %w", name, err)
	}
	return title, nil
}

// Outline returns a course and its ordered lesson list without touching the
// vector data.
func (s *Store) Outline(ctx context.Context, title string) (*course.Course, error) {
	c := &course.Course{}
	err := s.pool.QueryRow(ctx,
		`SELECT title, link, instructor FROM courses WHERE title = $1`, title).
		Scan(&c.Title, &c.Link, &c.Instructor)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrCourseNotFound, title)
	}
	if err != nil {
		return nil, fmt.Errorf("loading course %q: %w", title, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT number, title, link FROM lessons WHERE course_title = $1 ORDER BY number`, title)
	if err != nil {
		return nil, fmt.Errorf("loading lessons of %q: %w", title, err)
	}
	defer rows.Close()

	for rows.Next() {
		var l course.Lesson
		if err := rows.Scan(&l.Number, &l.Title, &l.Link); err != nil {
			return nil, fmt.Errorf("scanning lesson: %w", err)
		}
		c.Lessons = append(c.Lessons, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading lessons: %w", err)
	}

	return c, nil
}

// ListCourses returns per-course statistics ordered by title.
func (s *Store) ListCourses(ctx context.Context) ([]CourseStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT co.title,
		       (SELECT count(*) FROM lessons l WHERE l.course_title = co.title),
		       (SELECT count(*) FROM chunks c WHERE c.course_title = co.title)
		FROM courses co
		ORDER BY co.title`)
	if err != nil {
		return nil, fmt.Errorf("listing courses: %w", err)
	}
	defer rows.Close()

	var stats []CourseStats
	for rows.Next() {
		var cs CourseStats
		if err := rows.Scan(&cs.Title, &cs.LessonCount, &cs.ChunkCount); err != nil {
			return nil, fmt.Errorf("scanning course stats: %w", err)
		}
		stats = append(stats, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading course stats: %w", err)
	}

	return stats, nil
}

// Clear removes every indexed course. Lessons and chunks go with them via
// the cascading foreign keys.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM courses`); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	s.logger.Info("index cleared")
	return nil
}

// Ping verifies database connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
