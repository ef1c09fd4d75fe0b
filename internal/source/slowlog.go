package source

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// slowlogLine matches one Elasticsearch search-slowlog entry:
// [timestamp][level][request_type] [index] ... source[...], extra_source[...]
var slowlogLine = regexp.MustCompile(
	`^\[(?P<timestamp>.*?)\]\[.*?\]\[(?P<request_type>.*?)\]\s*\[(?P<index>.*?)\].*source\[(?P<source>.*)\],\s*extra_source\[(?P<extra_source>.*)\]`)

var slowlogLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// maxLineBytes bounds a single slowlog line; query bodies can get big.
const maxLineBytes = 1 << 20

// SlowlogOptions tunes how the slowlog replays.
type SlowlogOptions struct {
	// Types selects which request types (the suffix of the bracketed
	// request_type field, e.g. "query", "fetch", "query_then_fetch")
	// become replayed requests. Empty means query only.
	Types []string
}

// SlowlogSource parses an Elasticsearch search slowlog file and emits one
// POST /{index}/_search request per selected entry, bodies merged from the
// source and extra_source fields.
type SlowlogSource struct {
	path  string
	types map[string]bool

	file    *os.File
	scanner *bufio.Scanner
	line    int
}

func NewSlowlogSource(path string, opts SlowlogOptions) (*SlowlogSource, error) {
	types := map[string]bool{}
	for _, t := range opts.Types {
		types[strings.TrimSpace(t)] = true
	}
	if len(types) == 0 {
		types["query"] = true
	}

	s := &SlowlogSource{path: path, types: types}
	if err := s.Restart(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SlowlogSource) Restart() error {
	if s.file != nil {
		s.file.Close()
	}
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open slowlog: %w", err)
	}
	s.file = f
	s.scanner = bufio.NewScanner(f)
	s.scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	s.line = 0
	return nil
}

func (s *SlowlogSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

func (s *SlowlogSource) Next() (TimedRequest, error) {
	for s.scanner.Scan() {
		s.line++
		text := s.scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}

		m := slowlogLine.FindStringSubmatch(text)
		if m == nil {
			return TimedRequest{}, fmt.Errorf("slowlog line %d: unparseable entry", s.line)
		}

		fields := map[string]string{}
		for i, name := range slowlogLine.SubexpNames() {
			if name != "" {
				fields[name] = m[i]
			}
		}

		// request_type looks like "index.search.slowlog.query"
		parts := strings.Split(fields["request_type"], ".")
		if !s.types[parts[len(parts)-1]] {
			continue
		}

		ts, err := parseSlowlogTime(fields["timestamp"])
		if err != nil {
			return TimedRequest{}, fmt.Errorf("slowlog line %d: %w", s.line, err)
		}

		body, err := mergeBody(fields["source"], fields["extra_source"])
		if err != nil {
			return TimedRequest{}, fmt.Errorf("slowlog line %d: %w", s.line, err)
		}

		return TimedRequest{
			Timestamp: ts,
			Method:    "POST",
			Path:      "/" + fields["index"] + "/_search",
			Body:      body,
		}, nil
	}
	if err := s.scanner.Err(); err != nil {
		return TimedRequest{}, fmt.Errorf("read slowlog: %w", err)
	}
	return TimedRequest{}, ErrEnd
}

// parseSlowlogTime drops the millisecond suffix ("2018-03-21 14:21:03,417")
// and tries the known slowlog layouts.
func parseSlowlogTime(raw string) (time.Time, error) {
	base, _, _ := strings.Cut(raw, ",")
	for _, layout := range slowlogLayouts {
		if ts, err := time.Parse(layout, base); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", raw)
}

// mergeBody combines the source and extra_source JSON objects, with
// extra_source keys winning on conflict.
func mergeBody(src, extra string) ([]byte, error) {
	merged := map[string]json.RawMessage{}
	for _, part := range []string{src, extra} {
		if part == "" {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(part), &obj); err != nil {
			return nil, fmt.Errorf("bad body json: %w", err)
		}
		for k, v := range obj {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(merged)
}
