package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectern-ai/lectern/internal/course"
	"github.com/lectern-ai/lectern/internal/ingest"
	"github.com/lectern-ai/lectern/internal/testutil"
)

type fakeIndexer struct {
	replaced []string // course titles in call order
	chunks   map[string]int
	cleared  bool
	err      error
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{chunks: make(map[string]int)}
}

func (f *fakeIndexer) ReplaceCourse(_ context.Context, c *course.Course, chunks []course.Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.replaced = append(f.replaced, c.Title)
	f.chunks[c.Title] = len(chunks)
	return nil
}

func (f *fakeIndexer) Clear(context.Context) error {
	f.cleared = true
	return nil
}

func newIngestor(t *testing.T, idx ingest.Indexer) *ingest.Ingestor {
	t.Helper()
	chunker, err := course.NewChunker(200, 0)
	require.NoError(t, err)
	ing, err := ingest.New(chunker, idx, testutil.DiscardLogger())
	require.NoError(t, err)
	return ing
}

func transcript(title string) string {
	return fmt.Sprintf(`Course Title: %s
Course Link: https://example.com/course
Course Instructor: Grace Hopper

Lesson 0: Introduction
Lesson Link: https://example.com/lesson0
Welcome to the course. This lesson introduces the main ideas.

Lesson 1: Fundamentals
The fundamentals build on the introduction with worked examples.
`, title)
}

func TestNewValidation(t *testing.T) {
	chunker, err := course.NewChunker(200, 0)
	require.NoError(t, err)

	_, err = ingest.New(nil, newFakeIndexer(), nil)
	assert.ErrorContains(t, err, "chunker")

	_, err = ingest.New(chunker, nil, nil)
	assert.ErrorContains(t, err, "index")
}

func TestAddCourse(t *testing.T) {
	idx := newFakeIndexer()
	ing := newIngestor(t, idx)

	c, chunks, err := ing.AddCourse(context.Background(),
		strings.NewReader(transcript("Test Course")), "test.txt")
	require.NoError(t, err)

	assert.Equal(t, "Test Course", c.Title)
	assert.Len(t, c.Lessons, 2)
	assert.Greater(t, chunks, 0)
	assert.Equal(t, []string{"Test Course"}, idx.replaced)
	assert.Equal(t, chunks, idx.chunks["Test Course"])
}

func TestAddCourseMalformed(t *testing.T) {
	idx := newFakeIndexer()
	ing := newIngestor(t, idx)

	_, _, err := ing.AddCourse(context.Background(),
		strings.NewReader("no header here, just prose"), "bad.txt")
	require.ErrorIs(t, err, course.ErrMalformedTranscript)
	assert.ErrorContains(t, err, "bad.txt")
	assert.Empty(t, idx.replaced)
}

func TestAddCourseIndexError(t *testing.T) {
	idx := newFakeIndexer()
	idx.err = errors.New("connection refused")
	ing := newIngestor(t, idx)

	_, _, err := ing.AddCourse(context.Background(),
		strings.NewReader(transcript("Test Course")), "test.txt")
	assert.ErrorContains(t, err, "connection refused")
}

func TestAddCoursesFromDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b_second.txt", transcript("Second Course"))
	writeFile(t, dir, "a_first.txt", transcript("First Course"))
	writeFile(t, dir, "broken.txt", "not a transcript at all")
	writeFile(t, dir, "notes.md", "ignored, wrong extension")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir.txt"), 0o755))

	idx := newFakeIndexer()
	ing := newIngestor(t, idx)

	summary, err := ing.AddCoursesFromDir(context.Background(), dir, false)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Courses)
	assert.Equal(t, 1, summary.Skipped)
	assert.Greater(t, summary.Chunks, 0)
	assert.Equal(t, []string{"First Course", "Second Course"}, idx.replaced)
	assert.False(t, idx.cleared)
}

func TestAddCoursesFromDirClear(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "course.txt", transcript("Only Course"))

	idx := newFakeIndexer()
	ing := newIngestor(t, idx)

	summary, err := ing.AddCoursesFromDir(context.Background(), dir, true)
	require.NoError(t, err)

	assert.True(t, idx.cleared)
	assert.Equal(t, 1, summary.Courses)
}

func TestAddCoursesFromDirIndexErrorAborts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", transcript("First Course"))
	writeFile(t, dir, "b.txt", transcript("Second Course"))

	idx := newFakeIndexer()
	idx.err = errors.New("connection refused")
	ing := newIngestor(t, idx)

	summary, err := ing.AddCoursesFromDir(context.Background(), dir, false)
	require.ErrorContains(t, err, "connection refused")
	assert.Zero(t, summary.Courses)
	assert.Zero(t, summary.Skipped, "an index failure is not a malformed document")
}

func TestAddCoursesFromDirCaseInsensitiveExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "course.TXT", transcript("Upper Case Course"))

	idx := newFakeIndexer()
	ing := newIngestor(t, idx)

	summary, err := ing.AddCoursesFromDir(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Courses)
}

func TestAddCoursesFromDirMissing(t *testing.T) {
	ing := newIngestor(t, newFakeIndexer())

	_, err := ing.AddCoursesFromDir(context.Background(), "/nonexistent/path", false)
	assert.ErrorContains(t, err, "reading courses directory")
}

func TestAddCoursesFromDirCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "course.txt", transcript("Cancelled Course"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ing := newIngestor(t, newFakeIndexer())
	_, err := ing.AddCoursesFromDir(ctx, dir, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
