package course

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrInvalidChunking indicates chunk size/overlap values that cannot produce
// forward progress.
var ErrInvalidChunking = errors.New("invalid chunking parameters")

// sentenceRE matches one sentence including its terminal punctuation.
var sentenceRE = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Chunker splits lesson transcripts into bounded, overlapping chunks.
// Chunks break at sentence boundaries where possible and never exceed the
// configured size; consecutive chunks within a lesson share at least the
// configured overlap of trailing text, except the final chunk.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. size must be positive and overlap must be
// non-negative and strictly smaller than size, otherwise the windows could
// not advance.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidChunking, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be in [0, size), got overlap=%d size=%d",
			ErrInvalidChunking, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk splits text into chunks attributed to the given course and lesson.
// Whitespace is normalized; empty or whitespace-only input yields nil.
// Sequence indices are assigned contiguously from 0.
func (c *Chunker) Chunk(text, courseTitle string, lessonNumber int) []Chunk {
	sentences := c.splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	emit := func(parts []string) {
		chunks = append(chunks, Chunk{
			CourseTitle:  courseTitle,
			LessonNumber: lessonNumber,
			Index:        len(chunks),
			Content:      strings.Join(parts, " "),
		})
	}

	var cur []string
	curLen := 0
	for _, s := range sentences {
		if len(cur) > 0 && curLen+1+len(s) > c.size {
			emit(cur)
			content := chunks[len(chunks)-1].Content
			cur, curLen = c.carryOverlap(cur)
			// A heavy overlap tail may still not leave room; shed from
			// the front until the sentence fits.
			for len(cur) > 0 && curLen+1+len(s) > c.size {
				curLen -= len(cur[0])
				if len(cur) > 1 {
					curLen-- // separator
				}
				cur = cur[1:]
			}
			// Shedding whole sentences can land under the overlap floor.
			// Carry a character tail of the emitted chunk instead, shrunk
			// only as far as the next sentence requires.
			if curLen < c.overlap {
				if tail := c.carryTail(content, len(s)); tail != "" {
					cur, curLen = []string{tail}, len(tail)
				}
			}
		}
		if len(cur) > 0 {
			curLen++ // separator
		}
		cur = append(cur, s)
		curLen += len(s)
	}
	if len(cur) > 0 {
		emit(cur)
	}

	return chunks
}

// carryOverlap selects the trailing sentences of the emitted chunk that seed
// the next one, covering at least the configured overlap without filling the
// whole next window.
func (c *Chunker) carryOverlap(parts []string) ([]string, int) {
	if c.overlap == 0 {
		return nil, 0
	}
	var carried []string
	total := 0
	for i := len(parts) - 1; i >= 0; i-- {
		add := len(parts[i])
		if len(carried) > 0 {
			add++ // separator
		}
		if total >= c.overlap || total+add > c.size-1 {
			break
		}
		carried = append([]string{parts[i]}, carried...)
		total += add
	}
	return carried, total
}

// carryTail returns the trailing bytes of content that seed the next chunk
// when no whole trailing sentence fits beside the next one. The tail covers
// the configured overlap, shrunk only when the next sentence of length next
// would otherwise overflow the chunk size.
func (c *Chunker) carryTail(content string, next int) string {
	want := min(c.overlap, c.size-1-next)
	if want <= 0 {
		return ""
	}
	if want >= len(content) {
		return content
	}
	start := len(content) - want
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	if len(content)-start+1+next > c.size {
		start = len(content) - want
		for start < len(content) && !utf8.RuneStart(content[start]) {
			start++
		}
	}
	return content[start:]
}

// splitSentences normalizes whitespace and splits text into sentences.
// Text without terminal punctuation is treated as one sentence. Sentences
// longer than the chunk size are hard-split at word boundaries.
func (c *Chunker) splitSentences(text string) []string {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return nil
	}

	raw := sentenceRE.FindAllString(normalized, -1)
	if tail := sentenceRE.ReplaceAllString(normalized, ""); strings.TrimSpace(tail) != "" {
		raw = append(raw, tail)
	}
	if len(raw) == 0 {
		raw = []string{normalized}
	}

	var sentences []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		sentences = append(sentences, c.hardSplit(s)...)
	}
	return sentences
}

// hardSplit cuts an oversized sentence into pieces no longer than the chunk
// size, preferring word boundaries and falling back to a fixed-width cut for
// unbroken runs.
func (c *Chunker) hardSplit(s string) []string {
	if len(s) <= c.size {
		return []string{s}
	}

	var out []string
	words := strings.Fields(s)
	var cur strings.Builder
	for _, w := range words {
		for len(w) > c.size {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			cut := c.size
			for cut > 0 && !utf8.RuneStart(w[cut]) {
				cut--
			}
			if cut == 0 {
				cut = c.size
			}
			out = append(out, w[:cut])
			w = w[cut:]
		}
		if w == "" {
			continue
		}
		add := len(w)
		if cur.Len() > 0 {
			add++
		}
		if cur.Len()+add > c.size {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
