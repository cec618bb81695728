// Package activitylog keeps an append-only CSV trail of credential and
// consent state changes.
package activitylog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// Entry is one row in the activity log.
type Entry struct {
	Timestamp time.Time
	Component string // "token", "requisition", "export"
	Action    string // e.g. "generate", "refresh", "evict"
	Subject   string // institution id or masked token prefix
	Details   string
}

// Header is the CSV header of the activity log.
const Header = "timestamp,component,action,subject,details"

const (
	numFields    = 5
	colTimestamp = 0
	colComponent = 1
	colAction    = 2
	colSubject   = 3
	colDetails   = 4
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.Format(time.RFC3339)
	row[colComponent] = e.Component
	row[colAction] = e.Action
	row[colSubject] = e.Subject
	row[colDetails] = e.Details
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}

	return Entry{
		Timestamp: ts,
		Component: record[colComponent],
		Action:    record[colAction],
		Subject:   record[colSubject],
		Details:   record[colDetails],
	}, nil
}

// Append writes entries to the log at path, creating the file, its directory
// and the header if needed.
func Append(path string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}

	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening activity log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Read returns all entries of the log at path.
// Returns an empty slice if the file does not exist.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening activity log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

// Recent returns the last n entries of component from the log at path,
// oldest first.
func Recent(path, component string, n int) ([]Entry, error) {
	entries, err := Read(path)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		if entries[i].Component == component {
			out = append(out, entries[i])
		}
	}
	slices.Reverse(out)
	return out, nil
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading activity log CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Recorder buffers entries during one invocation. The zero value discards
// nothing and flushes nowhere; use NewRecorder to bind it to a file.
type Recorder struct {
	mu      sync.Mutex
	path    string
	now     func() time.Time
	pending []Entry
}

// NewRecorder returns a Recorder that flushes to path. An empty path keeps
// entries in memory only.
func NewRecorder(path string) *Recorder {
	return &Recorder{path: path, now: time.Now}
}

// Path returns the log file entries are flushed to.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// Record buffers one entry stamped with the current time. A nil Recorder
// ignores the call.
func (r *Recorder) Record(component, action, subject, details string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	r.pending = append(r.pending, Entry{
		Timestamp: now().UTC(),
		Component: component,
		Action:    action,
		Subject:   subject,
		Details:   details,
	})
}

// Pending returns a copy of the buffered entries.
func (r *Recorder) Pending() []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.pending...)
}

// Flush appends the buffered entries to the log file and clears the buffer.
func (r *Recorder) Flush() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.path == "" || len(r.pending) == 0 {
		return nil
	}
	if err := Append(r.path, r.pending); err != nil {
		return err
	}
	r.pending = nil
	return nil
}
