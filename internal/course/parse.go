package course

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Transcript header and lesson marker prefixes.
const (
	prefixCourseTitle      = "Course Title:"
	prefixCourseLink       = "Course Link:"
	prefixCourseInstructor = "Course Instructor:"
	prefixLessonLink       = "Lesson Link:"
)

var lessonMarkerRE = regexp.MustCompile(`^Lesson\s+(\d+):\s*(.*)$`)

// maxLineSize bounds a single transcript line. Transcripts exported from
// video captions can carry very long unwrapped lines.
const maxLineSize = 1 << 20

// ParseTranscript parses a course transcript document.
//
// Expected shape:
//
//	Course Title: <title>
//	Course Link: <url>
//	Course Instructor: <name>
//
//	Lesson 0: Introduction
//	Lesson Link: <url>
//	<transcript text ...>
//
//	Lesson 1: <title>
//	...
//
// Course Title is required; Course Link, Course Instructor, and per-lesson
// links are optional. Text before the first lesson marker becomes an implicit
// lesson 0 titled "Overview" when no explicit lesson 0 exists. A duplicate
// lesson number fails the whole document.
func ParseTranscript(r io.Reader) (*Course, []LessonContent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	c := &Course{}
	var contents []LessonContent
	var preamble strings.Builder
	var body strings.Builder
	var current *Lesson
	inHeader := true

	flush := func() {
		if current == nil {
			return
		}
		contents = append(contents, LessonContent{
			Lesson: *current,
			Text:   strings.TrimSpace(body.String()),
		})
		body.Reset()
		current = nil
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if m := lessonMarkerRE.FindStringSubmatch(trimmed); m != nil {
			flush()
			num, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, nil, fmt.Errorf("%w: line %d: lesson number %q", ErrMalformedTranscript, lineNo, m[1])
			}
			current = &Lesson{Number: num, Title: strings.TrimSpace(m[2])}
			inHeader = false
			continue
		}

		if current != nil {
			if rest, ok := strings.CutPrefix(trimmed, prefixLessonLink); ok && current.Link == "" && body.Len() == 0 {
				current.Link = strings.TrimSpace(rest)
				continue
			}
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}

		if inHeader {
			switch {
			case strings.HasPrefix(trimmed, prefixCourseTitle):
				c.Title = strings.TrimSpace(strings.TrimPrefix(trimmed, prefixCourseTitle))
				continue
			case strings.HasPrefix(trimmed, prefixCourseLink):
				c.Link = strings.TrimSpace(strings.TrimPrefix(trimmed, prefixCourseLink))
				continue
			case strings.HasPrefix(trimmed, prefixCourseInstructor):
				c.Instructor = strings.TrimSpace(strings.TrimPrefix(trimmed, prefixCourseInstructor))
				continue
			}
		}

		preamble.WriteString(line)
		preamble.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading transcript: %w", err)
	}
	flush()

	if c.Title == "" {
		return nil, nil, fmt.Errorf("%w: missing %q header", ErrMalformedTranscript, prefixCourseTitle)
	}

	seen := make(map[int]bool, len(contents))
	for _, lc := range contents {
		if seen[lc.Lesson.Number] {
			return nil, nil, fmt.Errorf("%w: duplicate lesson number %d", ErrMalformedTranscript, lc.Lesson.Number)
		}
		seen[lc.Lesson.Number] = true
	}

	if pre := strings.TrimSpace(preamble.String()); pre != "" && !seen[0] {
		contents = append([]LessonContent{{
			Lesson: Lesson{Number: 0, Title: "Overview"},
			Text:   pre,
		}}, contents...)
	}

	for _, lc := range contents {
		c.Lessons = append(c.Lessons, lc.Lesson)
	}

	return c, contents, nil
}
