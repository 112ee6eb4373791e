//go:build linux

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

var interactiveHistory []string

// readInteractiveLine reads one line in raw terminal mode with cursor
// movement, history and multi-byte input. Ctrl+C and Ctrl+D on an empty line
// return io.EOF.
func readInteractiveLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		return readPlainLine(stdinReader)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	newState := *oldState
	newState.Lflag &^= unix.ICANON | unix.ECHO
	newState.Cc[unix.VMIN] = 1
	newState.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &newState); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, oldState)
	}()

	ed := &lineEditor{prompt: prompt, histPos: len(interactiveHistory)}
	fmt.Print(prompt)

	var (
		buf     [64]byte
		pending []byte
		esc     int
		csi     strings.Builder
	)
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		pending = append(pending, buf[:n]...)
		for len(pending) > 0 {
			b := pending[0]
			if esc == 1 {
				pending = pending[1:]
				if b == '[' {
					esc = 2
					csi.Reset()
				} else {
					esc = 0
				}
				continue
			}
			if esc == 2 {
				pending = pending[1:]
				csi.WriteByte(b)
				if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
					ed.handleCSI(csi.String())
					esc = 0
				}
				continue
			}

			if b < utf8.RuneSelf {
				pending = pending[1:]
				switch b {
				case 27:
					esc = 1
				case '\r', '\n':
					fmt.Print("\r\n")
					out := string(ed.line)
					if strings.TrimSpace(out) != "" {
						interactiveHistory = append(interactiveHistory, out)
					}
					return out, nil
				case 3: // Ctrl+C
					fmt.Print("^C\r\n")
					return "", io.EOF
				case 4: // Ctrl+D
					if len(ed.line) == 0 {
						fmt.Print("\r\n")
						return "", io.EOF
					}
				case 127, 8:
					ed.backspace()
				case 1: // Ctrl+A
					ed.move(-len(ed.line))
				case 5: // Ctrl+E
					ed.move(len(ed.line))
				case 21: // Ctrl+U
					ed.line = ed.line[ed.cursor:]
					ed.cursor = 0
					ed.redraw()
				case 23: // Ctrl+W
					ed.deleteWordBack()
				default:
					if b >= 32 {
						ed.insert(rune(b))
					}
				}
				continue
			}

			if !utf8.FullRune(pending) {
				break
			}
			r, size := utf8.DecodeRune(pending)
			pending = pending[size:]
			if r != utf8.RuneError {
				ed.insert(r)
			}
		}
	}
}

type lineEditor struct {
	prompt string
	line   []rune
	cursor int

	histPos      int
	histBrowsing bool
	histDraft    string
}

func (e *lineEditor) redraw() {
	fmt.Printf("\r%s%s\x1b[K", e.prompt, string(e.line))
	if e.cursor < len(e.line) {
		fmt.Printf("\r%s%s", e.prompt, string(e.line[:e.cursor]))
	}
}

func (e *lineEditor) insert(r rune) {
	e.line = append(e.line, 0)
	copy(e.line[e.cursor+1:], e.line[e.cursor:])
	e.line[e.cursor] = r
	e.cursor++
	e.redraw()
}

func (e *lineEditor) backspace() {
	if e.cursor == 0 {
		return
	}
	e.line = append(e.line[:e.cursor-1], e.line[e.cursor:]...)
	e.cursor--
	e.redraw()
}

func (e *lineEditor) move(delta int) {
	e.cursor = min(max(e.cursor+delta, 0), len(e.line))
	e.redraw()
}

func (e *lineEditor) deleteWordBack() {
	start := e.cursor
	for start > 0 && e.line[start-1] == ' ' {
		start--
	}
	for start > 0 && e.line[start-1] != ' ' {
		start--
	}
	e.line = append(e.line[:start], e.line[e.cursor:]...)
	e.cursor = start
	e.redraw()
}

func (e *lineEditor) setLine(s string) {
	e.line = []rune(s)
	e.cursor = len(e.line)
	e.redraw()
}

func (e *lineEditor) handleCSI(seq string) {
	switch seq {
	case "A":
		if len(interactiveHistory) == 0 {
			return
		}
		if !e.histBrowsing {
			e.histDraft = string(e.line)
			e.histBrowsing = true
			e.histPos = len(interactiveHistory)
		}
		if e.histPos > 0 {
			e.histPos--
			e.setLine(interactiveHistory[e.histPos])
		}
	case "B":
		if !e.histBrowsing {
			return
		}
		if e.histPos < len(interactiveHistory)-1 {
			e.histPos++
			e.setLine(interactiveHistory[e.histPos])
			return
		}
		e.histPos = len(interactiveHistory)
		e.histBrowsing = false
		e.setLine(e.histDraft)
	case "D":
		e.move(-1)
	case "C":
		e.move(1)
	case "H":
		e.move(-len(e.line))
	case "F":
		e.move(len(e.line))
	case "3~":
		if e.cursor < len(e.line) {
			e.line = append(e.line[:e.cursor], e.line[e.cursor+1:]...)
			e.redraw()
		}
	}
}
