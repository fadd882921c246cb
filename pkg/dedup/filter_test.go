package dedup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func applyAll(f *Filter, chunks ...string) string {
	var out strings.Builder
	for _, c := range chunks {
		out.WriteString(f.Apply(c))
	}
	return out.String()
}

func TestFilter(t *testing.T) {
	t.Run("should pass everything through without a previous text", func(t *testing.T) {
		f := NewFilter("")
		assert.Equal(t, "hello world", applyAll(f, "hello", " world"))
		assert.False(t, f.Matching())
	})

	t.Run("should drop an echoed prefix at every split point", func(t *testing.T) {
		previous := "Let me check the stock. "
		suffix := "You have 4 chairs left."
		full := previous + suffix

		for split := 0; split <= len(full); split++ {
			f := NewFilter(previous)
			got := applyAll(f, full[:split], full[split:])
			assert.Equal(t, suffix, got, "split at %d", split)
		}
	})

	t.Run("should drop an echo delivered one character at a time", func(t *testing.T) {
		previous := "Checking…"
		suffix := " done ✓"
		f := NewFilter(previous)

		var out strings.Builder
		for _, r := range previous + suffix {
			out.WriteString(f.Apply(string(r)))
		}
		assert.Equal(t, suffix, out.String())
	})

	t.Run("should emit the true suffix from the divergence point", func(t *testing.T) {
		previous := "Sales today are low"
		incoming := "Sales today were 12 orders"

		for split := 0; split <= len(incoming); split++ {
			f := NewFilter(previous)
			got := applyAll(f, incoming[:split], incoming[split:])
			assert.Equal(t, incoming, got, "split at %d", split)
		}
	})

	t.Run("should stop matching permanently after divergence", func(t *testing.T) {
		f := NewFilter("abc")
		assert.Equal(t, "ax", f.Apply("ax"))
		assert.False(t, f.Matching())
		assert.Equal(t, "abc", f.Apply("abc"))
	})

	t.Run("should hold a pending match across chunks", func(t *testing.T) {
		f := NewFilter("hello")
		assert.Equal(t, "", f.Apply("hel"))
		assert.Equal(t, "hel", f.Pending())
		assert.True(t, f.Matching())

		assert.Equal(t, "help", f.Apply("p"))
		assert.Equal(t, "", f.Pending())
	})

	t.Run("should release nothing when the output is exactly the previous text", func(t *testing.T) {
		f := NewFilter("same answer")
		assert.Equal(t, "", applyAll(f, "same ", "answer"))
		assert.Equal(t, "same answer", f.Pending())
	})
}
