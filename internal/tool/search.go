package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lectern-ai/lectern/internal/course"
	"github.com/lectern-ai/lectern/internal/index"
)

// SearchToolName is the registered name of the content search tool.
const SearchToolName = "search_course_content"

// searchDescription is what the model sees when deciding whether to call
// the tool.
const searchDescription = "Search course transcript content using semantic similarity. " +
	"Finds transcript excerpts that are conceptually related to the query. " +
	"Optionally restrict the search to one course (course_title accepts partial " +
	"names) and/or one lesson number. " +
	"Returns: matched excerpts headed by course and lesson attribution. " +
	"Use this for questions about specific course material."

// SearchInput is the content search tool's input.
type SearchInput struct {
	Query        string `json:"query" jsonschema_description:"The search query string"`
	CourseTitle  string `json:"course_title,omitempty" jsonschema_description:"Course title to search within (partial names accepted)"`
	LessonNumber *int   `json:"lesson_number,omitempty" jsonschema_description:"Lesson number to search within"`
}

// Searcher is the slice of the retrieval index the search tool consumes.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...index.SearchOption) ([]index.Result, error)
	ResolveCourseTitle(ctx context.Context, name string) (string, error)
}

// Search is the course content search tool.
type Search struct {
	index      Searcher
	maxResults int
	logger     *slog.Logger
}

// NewSearch creates the content search tool. maxResults caps results per
// call.
func NewSearch(idx Searcher, maxResults int, logger *slog.Logger) (*Search, error) {
	if idx == nil {
		return nil, fmt.Errorf("index is required")
	}
	if maxResults <= 0 {
		return nil, fmt.Errorf("maxResults must be positive, got %d", maxResults)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Search{index: idx, maxResults: maxResults, logger: logger}, nil
}

func (s *Search) Name() string        { return SearchToolName }
func (s *Search) Description() string { return searchDescription }

// Call implements Tool.
func (s *Search) Call(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in SearchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decoding input: %w", err)
	}
	return s.Run(ctx, in)
}

// Run executes a content search. A filter that matches no course and a
// search that matches no chunks both produce a conversational result the
// model can relay; only infrastructure failures return an error.
func (s *Search) Run(ctx context.Context, in SearchInput) (*Result, error) {
	if strings.TrimSpace(in.Query) == "" {
		return &Result{Text: "The query must not be empty."}, nil
	}

	opts := []index.SearchOption{index.WithTopK(s.maxResults)}

	resolved := ""
	if in.CourseTitle != "" {
		title, err := s.index.ResolveCourseTitle(ctx, in.CourseTitle)
		if errors.Is(err, index.ErrCourseNotFound) {
			return &Result{Text: fmt.Sprintf("No course found matching %q.", in.CourseTitle)}, nil
		}
		if err != nil {
			return nil, err
		}
		resolved = title
		opts = append(opts, index.WithCourse(title))
	}
	if in.LessonNumber != nil {
		opts = append(opts, index.WithLesson(*in.LessonNumber))
	}

	results, err := s.index.Search(ctx, in.Query, opts...)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("content search",
		"query", in.Query,
		"course", resolved,
		"results", len(results))

	if len(results) == 0 {
		return &Result{Text: emptySearchMessage(resolved, in.LessonNumber)}, nil
	}

	return formatSearchResults(results), nil
}

// emptySearchMessage names the active filters so the model can tell the user
// what was searched.
func emptySearchMessage(courseTitle string, lessonNumber *int) string {
	var sb strings.Builder
	sb.WriteString("No relevant content found")
	if courseTitle != "" {
		fmt.Fprintf(&sb, " in course %q", courseTitle)
	}
	if lessonNumber != nil {
		fmt.Fprintf(&sb, " in lesson %d", *lessonNumber)
	}
	sb.WriteString(".")
	return sb.String()
}

// formatSearchResults renders hits as attributed excerpts and collects one
// source per hit.
func formatSearchResults(results []index.Result) *Result {
	var blocks []string
	var sources []Source
	for _, r := range results {
		header := fmt.Sprintf("[%s - Lesson %d]", r.Chunk.CourseTitle, r.Chunk.LessonNumber)
		blocks = append(blocks, header+"\n"+r.Chunk.Content)
		sources = append(sources, Source{
			Label: sourceLabel(r.Chunk),
			Link:  r.LessonLink,
		})
	}
	return &Result{
		Text:    strings.Join(blocks, "\n\n"),
		Sources: sources,
	}
}

// sourceLabel is the attribution label shown to the user for one chunk.
func sourceLabel(ch course.Chunk) string {
	return fmt.Sprintf("%s - Lesson %d", ch.CourseTitle, ch.LessonNumber)
}
