// Package sightings maintains the device's durable record of qualifying
// detections: one line per sighting in an append-only text file.
package sightings

import (
	"fmt"
	"os"
	"time"
)

const timeFormat = "2006-01-02 15:04:05"

// Log appends sighting entries to a text file. The file is opened, appended
// and closed on every write so each line is durable independent of later
// crashes.
type Log struct {
	path string
}

// New returns a Log writing to path. The file is created on first append.
func New(path string) *Log {
	return &Log{path: path}
}

// Append writes one sighting line: "YYYY-MM-DD HH:MM:SS | <topClass>".
func (l *Log) Append(t time.Time, topClass string) error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open sighting log: %w", err)
	}

	_, werr := fmt.Fprintf(file, "%s | %s\n", t.Format(timeFormat), topClass)
	cerr := file.Close()
	if werr != nil {
		return fmt.Errorf("failed to append sighting: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close sighting log: %w", cerr)
	}
	return nil
}
