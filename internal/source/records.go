package source

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// RecordsSource reads a JSON Lines recording: one TimedRequest object per
// line. This is the generic format for recordings that didn't come from an
// Elasticsearch slowlog.
type RecordsSource struct {
	path string

	file    *os.File
	scanner *bufio.Scanner
	line    int
}

func NewRecordsSource(path string) (*RecordsSource, error) {
	s := &RecordsSource{path: path}
	if err := s.Restart(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RecordsSource) Restart() error {
	if s.file != nil {
		s.file.Close()
	}
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open records: %w", err)
	}
	s.file = f
	s.scanner = bufio.NewScanner(f)
	s.scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	s.line = 0
	return nil
}

func (s *RecordsSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

func (s *RecordsSource) Next() (TimedRequest, error) {
	for s.scanner.Scan() {
		s.line++
		text := strings.TrimSpace(s.scanner.Text())
		if text == "" {
			continue
		}

		var r TimedRequest
		if err := json.Unmarshal([]byte(text), &r); err != nil {
			return TimedRequest{}, fmt.Errorf("records line %d: %w", s.line, err)
		}
		if r.Timestamp.IsZero() {
			return TimedRequest{}, fmt.Errorf("records line %d: missing timestamp", s.line)
		}
		if r.Method == "" {
			r.Method = "POST"
		}
		return r, nil
	}
	if err := s.scanner.Err(); err != nil {
		return TimedRequest{}, fmt.Errorf("read records: %w", err)
	}
	return TimedRequest{}, ErrEnd
}
