// Package course defines the course domain model: parsed transcripts and
// the chunks produced from them for indexing.
package course

import "errors"

// ErrMalformedTranscript indicates a transcript that cannot be parsed into a
// course. Ingestion treats this as a per-document failure: the document is
// skipped and the batch continues.
var ErrMalformedTranscript = errors.New("malformed transcript")

// Course is a single course. Title is the identity: re-ingesting a document
// with the same title replaces the course wholesale.
type Course struct {
	Title      string
	Link       string
	Instructor string
	Lessons    []Lesson
}

// Lesson is one lesson within a course. Number is unique per course.
type Lesson struct {
	Number int
	Title  string
	Link   string
}

// LessonContent pairs a lesson with its raw transcript text.
type LessonContent struct {
	Lesson Lesson
	Text   string
}

// Chunk is an indexable slice of lesson transcript. Identity is
// (CourseTitle, LessonNumber, Index); indices are contiguous from 0 within
// each lesson.
type Chunk struct {
	CourseTitle  string
	LessonNumber int
	Index        int
	Content      string
}
