// Package dedup suppresses a model's echo of the previous round's text.
//
// After a tool round, some models start the next answer by repeating what they
// already streamed. A Filter seeded with that text holds back characters while
// they still match it and releases them the moment the output diverges.
package dedup

import "strings"

// Filter is a stateful, chunk-boundary safe prefix-echo filter. It is not safe
// for concurrent use; one filter serves one round.
type Filter struct {
	previous []rune
	cursor   int
	pending  strings.Builder
	matching bool
}

// NewFilter creates a filter seeded with the previous round's raw text.
func NewFilter(previous string) *Filter {
	return &Filter{
		previous: []rune(previous),
		matching: previous != "",
	}
}

// Apply consumes one chunk and returns the part safe to forward to the client.
func (f *Filter) Apply(chunk string) string {
	if !f.matching {
		return chunk
	}

	var out strings.Builder
	for i, r := range chunk {
		if !f.matching {
			out.WriteString(chunk[i:])
			break
		}
		if f.cursor >= len(f.previous) {
			// The whole previous text was echoed; drop it and pass the rest.
			f.matching = false
			f.pending.Reset()
			out.WriteString(chunk[i:])
			break
		}
		if r == f.previous[f.cursor] {
			f.pending.WriteRune(r)
			f.cursor++
			continue
		}
		f.matching = false
		out.WriteString(f.pending.String())
		f.pending.Reset()
		out.WriteString(chunk[i:])
		break
	}
	return out.String()
}

// Matching reports whether the filter is still holding back an echo.
func (f *Filter) Matching() bool {
	return f.matching
}

// Pending returns the text held back so far.
func (f *Filter) Pending() string {
	return f.pending.String()
}
