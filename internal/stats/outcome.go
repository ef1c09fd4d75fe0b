package stats

import (
	"strconv"
	"time"
)

// Outcome kinds. HTTP outcomes carry a status code; the others describe why
// no status ever arrived.
const (
	KindHTTP      = "http"
	KindTimeout   = "timeout"
	KindConnError = "connection_error"
	KindCancelled = "cancelled"
)

// Outcome is the terminal result of exactly one dispatched request.
type Outcome struct {
	Kind    string
	Status  int           // HTTP status, only meaningful for KindHTTP
	Latency time.Duration // request round trip, zero when nothing completed
	Body    []byte        // response body, nil on failure
}

// Key is the status-kind bucket the outcome is counted under: the numeric
// status for HTTP outcomes, the kind name otherwise.
func (o Outcome) Key() string {
	if o.Kind == KindHTTP {
		return strconv.Itoa(o.Status)
	}
	return o.Kind
}

// Success reports whether the outcome is a 2xx response.
func (o Outcome) Success() bool {
	return o.Kind == KindHTTP && o.Status >= 200 && o.Status < 300
}

// Cancelled reports whether the dispatch was cut off at drain.
func (o Outcome) Cancelled() bool {
	return o.Kind == KindCancelled
}
