package source

import (
	"errors"
	"time"
)

// ErrEnd is returned by Next when the source has no more records.
// The scheduler treats it as "restart and keep going" while the run
// budget lasts.
var ErrEnd = errors.New("source: end of records")

// ErrNoRecords means the source produced nothing on its very first pass.
// There is nothing to replay, so this one is fatal.
var ErrNoRecords = errors.New("source: no records")

// TimedRequest is a single recorded request. Immutable once produced.
type TimedRequest struct {
	Timestamp time.Time `json:"timestamp"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Body      []byte    `json:"body,omitempty"`
}

// Source produces an ordered, restartable sequence of timed requests.
type Source interface {
	// Next returns the next record, or ErrEnd once exhausted.
	Next() (TimedRequest, error)
	// Restart rewinds to the first record.
	Restart() error
}

// MemorySource replays a fixed slice. Mostly useful in tests and as the
// smallest possible Source implementation.
type MemorySource struct {
	Records []TimedRequest
	pos     int
}

func NewMemorySource(records []TimedRequest) *MemorySource {
	return &MemorySource{Records: records}
}

func (m *MemorySource) Next() (TimedRequest, error) {
	if m.pos >= len(m.Records) {
		return TimedRequest{}, ErrEnd
	}
	r := m.Records[m.pos]
	m.pos++
	return r, nil
}

func (m *MemorySource) Restart() error {
	m.pos = 0
	return nil
}
