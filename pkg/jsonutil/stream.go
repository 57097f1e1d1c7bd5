// Package jsonutil provides JSON helpers for streaming bulk dataset decoding.
package jsonutil

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

const (
	// initialLineBuffer sizes the scanner for typical records.
	initialLineBuffer = 64 * 1024
	// maxLineBytes bounds a single record line. Memory stays flat at one
	// unterminated line regardless of dataset size.
	maxLineBytes = 16 * 1024 * 1024
)

// ArrayLineScanner reads a JSON array rendered one element per line: the
// literal lines "[" and "]" bound the array and every other line holds one
// element, optionally suffixed with a trailing comma. This is not strict
// line-delimited JSON, so a plain NDJSON reader cannot consume it.
type ArrayLineScanner struct {
	scanner *bufio.Scanner
	line    int
}

// NewArrayLineScanner wraps r in an incremental element reader. Partial lines
// across read boundaries are carried over internally; at most one
// unterminated line is ever buffered.
func NewArrayLineScanner(r io.Reader) *ArrayLineScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, initialLineBuffer), maxLineBytes)
	return &ArrayLineScanner{scanner: s}
}

// Line returns the 1-based source line of the element most recently returned
// by Next.
func (s *ArrayLineScanner) Line() int {
	return s.line
}

// Next returns the raw bytes of the next array element, with any trailing
// comma stripped. Blank lines and the bracket-only boundary lines are
// skipped. Returns io.EOF at the natural end of the stream; any other error
// is structural (the stream broke or a line exceeded the size bound).
//
// Next does not validate the element as JSON; callers own per-record parsing
// and its failure accounting.
func (s *ArrayLineScanner) Next() ([]byte, error) {
	for s.scanner.Scan() {
		s.line++
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 || bytes.Equal(line, []byte("[")) || bytes.Equal(line, []byte("]")) {
			continue
		}
		line = bytes.TrimSpace(bytes.TrimSuffix(line, []byte(",")))
		if len(line) == 0 {
			continue
		}

		// The scanner reuses its buffer on the next Scan, so hand the
		// caller a copy.
		element := make([]byte, len(line))
		copy(element, line)
		return element, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("bulk stream broke at line %d: %w", s.line, err)
	}
	return nil, io.EOF
}
