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

// OutlineToolName is the registered name of the course outline tool.
const OutlineToolName = "get_course_outline"

const outlineDescription = "Get the full outline of a course: its title, link, and the complete " +
	"numbered lesson list. course_title accepts partial names. " +
	"Use this for questions about course structure, lesson lists, or what a " +
	"course covers overall, rather than questions about specific content."

// OutlineInput is the outline tool's input.
type OutlineInput struct {
	CourseTitle string `json:"course_title" jsonschema_description:"Course title to outline (partial names accepted)"`
}

// Outliner is the slice of the retrieval index the outline tool consumes.
type Outliner interface {
	ResolveCourseTitle(ctx context.Context, name string) (string, error)
	Outline(ctx context.Context, title string) (*course.Course, error)
}

// Outline is the course outline tool.
type Outline struct {
	index  Outliner
	logger *slog.Logger
}

// NewOutline creates the course outline tool.
func NewOutline(idx Outliner, logger *slog.Logger) (*Outline, error) {
	if idx == nil {
		return nil, fmt.Errorf("index is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Outline{index: idx, logger: logger}, nil
}

func (o *Outline) Name() string        { return OutlineToolName }
func (o *Outline) Description() string { return outlineDescription }

// Call implements Tool.
func (o *Outline) Call(ctx context.Context, input json.RawMessage) (*Result, error) {
	var in OutlineInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decoding input: %w", err)
	}
	return o.Run(ctx, in)
}

// Run fetches and renders a course outline. An unknown course produces a
// conversational result; only infrastructure failures return an error.
func (o *Outline) Run(ctx context.Context, in OutlineInput) (*Result, error) {
	if strings.TrimSpace(in.CourseTitle) == "" {
		return &Result{Text: "A course title is required."}, nil
	}

	title, err := o.index.ResolveCourseTitle(ctx, in.CourseTitle)
	if errors.Is(err, index.ErrCourseNotFound) {
		return &Result{Text: fmt.Sprintf("No course found matching %q.", in.CourseTitle)}, nil
	}
	if err != nil {
		return nil, err
	}

	c, err := o.index.Outline(ctx, title)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("course outline", "course", c.Title, "lessons", len(c.Lessons))
	return formatOutline(c), nil
}

// formatOutline renders a course outline and attributes it to the course.
func formatOutline(c *course.Course) *Result {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Course: %s\n", c.Title)
	if c.Link != "" {
		fmt.Fprintf(&sb, "Link: %s\n", c.Link)
	}
	if c.Instructor != "" {
		fmt.Fprintf(&sb, "Instructor: %s\n", c.Instructor)
	}
	fmt.Fprintf(&sb, "Lessons (%d):\n", len(c.Lessons))
	for _, l := range c.Lessons {
		fmt.Fprintf(&sb, "%d. %s\n", l.Number, l.Title)
	}

	return &Result{
		Text:    sb.String(),
		Sources: []Source{{Label: c.Title, Link: c.Link}},
	}
}
