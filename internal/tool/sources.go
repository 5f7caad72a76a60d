package tool

// SourceTrace accumulates sources across the tool calls of a single query
// turn, preserving call order. A source identical to the immediately
// preceding one is dropped; non-adjacent repeats are kept so the user can
// still see which call produced what.
//
// SourceTrace is not safe for concurrent use; each query turn owns its own
// trace.
type SourceTrace struct {
	sources []Source
}

// Add appends sources in order, skipping consecutive duplicates.
func (t *SourceTrace) Add(srcs ...Source) {
	for _, s := range srcs {
		if n := len(t.sources); n > 0 && t.sources[n-1] == s {
			continue
		}
		t.sources = append(t.sources, s)
	}
}

// Sources returns the accumulated sources. The caller owns the copy.
func (t *SourceTrace) Sources() []Source {
	if len(t.sources) == 0 {
		return nil
	}
	out := make([]Source, len(t.sources))
	copy(out, t.sources)
	return out
}
