package main

import (
	"bufio"
	"io"
	"os"
)

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

var stdinReader = bufio.NewReader(os.Stdin)

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}

func readPlainLine(r *bufio.Reader) (string, error) {
	s, err := r.ReadString('\n')
	if err != nil && (s == "" || err != io.EOF) {
		return "", err
	}
	return trimTrailingNewline(s), nil
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}
