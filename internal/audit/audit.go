// Package audit keeps a journal of resolver configuration changes.
// Every commit to the system resolver configuration is appended as a
// JSON line, so "who rewrote /etc/resolv.conf and with what" can be
// answered after the fact.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType represents the type of journal event
type EventType string

const (
	// EventCommit records a successful write of the resolver configuration.
	EventCommit EventType = "COMMIT"
	// EventCommitFailed records a commit the backend rejected.
	EventCommitFailed EventType = "COMMIT_FAILED"
	// EventPluginStart and EventPluginStop track the caching plugin.
	EventPluginStart EventType = "PLUGIN_START"
	EventPluginStop  EventType = "PLUGIN_STOP"
	// Service lifecycle
	EventServiceStart EventType = "SERVICE_START"
	EventServiceStop  EventType = "SERVICE_STOP"
)

// Event represents one journal entry
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	ProcessID int                    `json:"process_id"`
}

// Journal appends events to a per-day JSON lines file. A nil Journal
// is valid and records to the regular logger only, so callers never
// have to guard their Record calls.
type Journal struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	logPath string
}

// Open creates the journal under dir. The file is named after the
// current day and appended to across restarts.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, fmt.Sprintf("journal-%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		file:    file,
		encoder: json.NewEncoder(file),
		logPath: logPath,
	}
	j.Record(EventServiceStart, "journal opened", nil)
	return j, nil
}

// Record appends one event. Write failures are logged, not returned;
// the journal must never break a commit.
func (j *Journal) Record(eventType EventType, message string, details map[string]interface{}) {
	if j == nil {
		logrus.WithFields(logrus.Fields{
			"event":   eventType,
			"details": details,
		}).Debug(message)
		return
	}

	event := Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Message:   message,
		Details:   details,
		ProcessID: os.Getpid(),
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.encoder.Encode(event); err != nil {
		logrus.WithError(err).Error("Failed to write journal entry")
	}
}

// RecordCommit logs one resolver configuration commit with the data
// that ended up in the resolver file.
func (j *Journal) RecordCommit(backend string, searches, nameservers []string, err error) {
	details := map[string]interface{}{
		"backend":     backend,
		"searches":    searches,
		"nameservers": nameservers,
	}
	if err != nil {
		details["error"] = err.Error()
		j.Record(EventCommitFailed, "resolver configuration commit failed", details)
		return
	}
	j.Record(EventCommit, "resolver configuration committed", details)
}

// Close closes the journal file.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.Record(EventServiceStop, "journal closed", nil)

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Path returns the journal file path, or "" for a nil journal.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.logPath
}
