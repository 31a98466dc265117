package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

var recent = newBacklog(256)

// Sink persists events outside the process, e.g. the Postgres event log.
type Sink interface {
	Append(ts time.Time, level, name, msg string, fields map[string]interface{}) error
}

var (
	sink            Sink
	sinkMu          sync.RWMutex
	sinkErrorLogged bool
)

// SetSink installs the persistence sink. Nil disables persistence.
func SetSink(s Sink) {
	sinkMu.Lock()
	sink = s
	sinkErrorLogged = false
	sinkMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emit records an audit event: it is buffered, broadcast to live
// subscribers and appended to the sink when one is set. Only names listed in
// the registry are accepted.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	recent.push(e)
	broadcast(e)

	sinkMu.RLock()
	s := sink
	sinkMu.RUnlock()

	if s != nil {
		if err := s.Append(ts, level, name, msg, fields); err != nil {
			reportSinkError(err)
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

// reportSinkError records the first sink failure directly in the buffer.
// Going through Emit would recurse while the sink keeps failing.
func reportSinkError(err error) {
	sinkMu.Lock()
	if sinkErrorLogged {
		sinkMu.Unlock()
		return
	}
	sinkErrorLogged = true
	sinkMu.Unlock()

	recent.push(Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     "error",
		Name:      "system.error",
		Message:   "event sink append failed",
		Fields: map[string]interface{}{
			"error": err.Error(),
		},
	})
}

// Snapshot returns every buffered event, oldest first.
func Snapshot() []Event {
	return recent.last(0, nil)
}

// TotalCount returns how many events were emitted since startup.
func TotalCount() uint64 {
	return recent.emitted()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	recent.reset()
}
