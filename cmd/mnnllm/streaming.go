package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

type StreamMode string

const (
	StreamInstant  StreamMode = "instant"
	StreamSentence StreamMode = "sentence"
	StreamQuiet    StreamMode = "quiet"
)

func parseStreamMode(v string) (StreamMode, error) {
	switch mode := StreamMode(strings.ToLower(strings.TrimSpace(v))); mode {
	case "":
		return StreamInstant, nil
	case StreamInstant, StreamSentence, StreamQuiet:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (want instant, sentence or quiet)", v)
	}
}

// StreamWriter prints a reply as it is generated. Instant mode writes every
// token, sentence mode writes whole sentences, quiet mode writes the final
// reply only.
type StreamWriter struct {
	mode StreamMode
	raw  bool

	mu      sync.Mutex
	buffer  *bufio.Writer
	written bool
}

func NewStreamWriter(w io.Writer, mode StreamMode, rawOutput bool) *StreamWriter {
	return &StreamWriter{
		mode:   mode,
		raw:    rawOutput,
		buffer: bufio.NewWriterSize(w, 4096),
	}
}

// Token is the onToken callback for instant mode.
func (w *StreamWriter) Token(token string) {
	if w.mode != StreamInstant {
		return
	}
	w.write(token)
}

// Sentence is the sentence callback for sentence mode.
func (w *StreamWriter) Sentence(sentence string) {
	if w.mode != StreamSentence {
		return
	}
	w.write(sentence)
}

// Finish terminates the reply. In quiet mode, or when nothing was streamed,
// it prints reply in full.
func (w *StreamWriter) Finish(reply string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.written && reply != "" {
		w.writeLocked(reply)
	}
	_, _ = w.buffer.WriteString("\n")
	_ = w.buffer.Flush()
}

func (w *StreamWriter) write(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writeLocked(text)
	_ = w.buffer.Flush()
}

func (w *StreamWriter) writeLocked(text string) {
	if text == "" {
		return
	}
	w.written = true
	if w.raw {
		text = escapeRawOutput(text)
	}
	_, _ = w.buffer.WriteString(text)
}

func escapeRawOutput(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteString(escapeRawOutputRune(r))
	}
	return b.String()
}

func escapeRawOutputRune(r rune) string {
	switch r {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	case '\\':
		return `\\`
	default:
		if strconv.IsPrint(r) {
			return string(r)
		}
		return fmt.Sprintf(`\u%04x`, r)
	}
}
