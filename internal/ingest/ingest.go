// Package ingest turns transcript documents into indexed courses: parse,
// chunk, embed, store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lectern-ai/lectern/internal/course"
)

// Indexer is the subset of the retrieval index the ingestor writes to.
type Indexer interface {
	ReplaceCourse(ctx context.Context, c *course.Course, chunks []course.Chunk) error
	Clear(ctx context.Context) error
}

// Ingestor loads transcript documents into the retrieval index.
type Ingestor struct {
	chunker *course.Chunker
	index   Indexer
	logger  *slog.Logger
}

// Summary reports the outcome of a batch ingestion.
type Summary struct {
	Courses int // courses indexed
	Chunks  int // chunks indexed across all courses
	Skipped int // documents skipped as malformed
}

// New creates an Ingestor.
func New(chunker *course.Chunker, index Indexer, logger *slog.Logger) (*Ingestor, error) {
	if chunker == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{chunker: chunker, index: index, logger: logger}, nil
}

// AddCourse parses a single transcript and indexes it, replacing any
// previously indexed course with the same title. name is used for error
// reporting only. Returns the parsed course and the number of chunks
// indexed.
func (in *Ingestor) AddCourse(ctx context.Context, r io.Reader, name string) (*course.Course, int, error) {
	c, lessons, err := course.ParseTranscript(r)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing %s: %w", name, err)
	}

	var chunks []course.Chunk
	for _, l := range lessons {
		chunks = append(chunks, in.chunker.Chunk(l.Text, c.Title, l.Lesson.Number)...)
	}

	if err := in.index.ReplaceCourse(ctx, c, chunks); err != nil {
		return nil, 0, fmt.Errorf("indexing %s: %w", name, err)
	}

	return c, len(chunks), nil
}

// AddCoursesFromDir ingests every *.txt transcript in dir, in name order.
// A malformed document is logged and skipped; the batch continues. Index
// failures abort the batch: a down index would otherwise skip every
// remaining document. When clear is set, all previously indexed courses
// are removed first.
func (in *Ingestor) AddCoursesFromDir(ctx context.Context, dir string, clear bool) (Summary, error) {
	var summary Summary

	entries, err := os.ReadDir(dir)
	if err != nil {
		return summary, fmt.Errorf("reading courses directory: %w", err)
	}

	if clear {
		if err := in.index.Clear(ctx); err != nil {
			return summary, err
		}
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".txt") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		c, chunks, err := in.ingestFile(ctx, path)
		if errors.Is(err, course.ErrMalformedTranscript) {
			in.logger.Warn("skipping malformed document", "path", path, "error", err)
			summary.Skipped++
			continue
		}
		if err != nil {
			return summary, err
		}

		summary.Courses++
		summary.Chunks += chunks
		in.logger.Info("document ingested",
			"path", path,
			"course", c.Title,
			"chunks", chunks)
	}

	return summary, nil
}

func (in *Ingestor) ingestFile(ctx context.Context, path string) (*course.Course, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return in.AddCourse(ctx, f, filepath.Base(path))
}
