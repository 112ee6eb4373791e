// Package segment cuts a streamed token sequence into sentences so that
// downstream consumers (speech, line-oriented output) can act on complete
// phrases instead of token fragments.
package segment

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxPending is the buffer size in bytes past which pending text is
// emitted even without a delimiter.
const DefaultMaxPending = 60

var delimiters = []string{
	"，", "。", "？", "！", "；", "：", "\n",
	",", ".", "?", "!", ";", ":",
}

// Splitter accumulates tokens and emits sentences ending at the earliest
// delimiter in the buffer. It is not safe for concurrent use.
type Splitter struct {
	// MaxPending overrides DefaultMaxPending when positive.
	MaxPending int

	buf strings.Builder
}

// Push appends token and returns the sentences it completed, in order.
func (s *Splitter) Push(token string) []string {
	if token == "" {
		return nil
	}
	s.buf.WriteString(token)

	var out []string
	pending := s.buf.String()
	for {
		pos, n := firstDelimiter(pending)
		if pos < 0 {
			break
		}
		cut := pos + n
		out = append(out, pending[:cut])
		pending = pending[cut:]
	}

	if len(pending) > s.maxPending() {
		// Never split a multi-byte character: keep an incomplete tail.
		head, tail := pending, ""
		for i := 0; i < utf8.UTFMax-1 && len(head) > 0 && !utf8.ValidString(head); i++ {
			head, tail = head[:len(head)-1], head[len(head)-1:]+tail
		}
		if !utf8.ValidString(head) {
			head, tail = pending, ""
		}
		if head != "" {
			out = append(out, head)
		}
		pending = tail
	}

	s.buf.Reset()
	s.buf.WriteString(pending)
	return out
}

// Flush returns whatever is pending and empties the buffer.
func (s *Splitter) Flush() string {
	rest := s.buf.String()
	s.buf.Reset()
	return rest
}

// Reset discards pending text.
func (s *Splitter) Reset() {
	s.buf.Reset()
}

// Pending returns the buffered text without consuming it.
func (s *Splitter) Pending() string {
	return s.buf.String()
}

func (s *Splitter) maxPending() int {
	if s.MaxPending > 0 {
		return s.MaxPending
	}
	return DefaultMaxPending
}

func firstDelimiter(text string) (int, int) {
	best, bestLen := -1, 0
	for _, d := range delimiters {
		pos := strings.Index(text, d)
		if pos < 0 {
			continue
		}
		if best < 0 || pos < best {
			best, bestLen = pos, len(d)
		}
	}
	return best, bestLen
}
