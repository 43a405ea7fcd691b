// Package eventlog provides the privacy event journal. It records policy
// resolution, privacy state broadcasts, capture stream lifecycle and archive
// uploads in a single JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Privacy event types.
const (
	PolicyResolved      EventType = "policy_resolved"
	PrivacyStateChanged EventType = "privacy_state_changed"
)

// Stream event types.
const (
	StreamStarted EventType = "stream_started"
	StreamStopped EventType = "stream_stopped"
)

// Archive event types.
const (
	ArchiveUploaded EventType = "archive_uploaded"
	ArchiveFailed   EventType = "archive_failed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	StreamID  string    `json:"stream_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// PrivacyDetails contains privacy-specific event details.
type PrivacyDetails struct {
	Policy         string `json:"policy"`
	PolicyRegister uint32 `json:"policy_register,omitempty"`
	Muted          bool   `json:"muted"`
	Status         uint32 `json:"status"`
	PrivacyMask    uint32 `json:"privacy_mask,omitempty"`
	MaxRampTimeMs  uint32 `json:"max_ramp_time_ms"`
}

// StreamDetails contains capture stream event details.
type StreamDetails struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// ArchiveDetails contains archive upload details.
type ArchiveDetails struct {
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
	Bytes  int64  `json:"bytes,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "micprivacy", "logs", "events.jsonl")
	default:
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/micprivacy", "events.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogPolicy logs the policy resolved at startup.
func (l *Logger) LogPolicy(policy string, register uint32) error {
	return l.Log(&Event{
		Type: PolicyResolved,
		Details: &PrivacyDetails{
			Policy:         policy,
			PolicyRegister: register,
		},
	})
}

// LogPrivacy logs a broadcast privacy settings snapshot.
func (l *Logger) LogPrivacy(policy string, status, mask, rampMs uint32) error {
	msg := "microphone enabled"
	if status != 0 {
		msg = "microphone disabled"
	}
	return l.Log(&Event{
		Type:    PrivacyStateChanged,
		Message: msg,
		Details: &PrivacyDetails{
			Policy:        policy,
			Muted:         status != 0,
			Status:        status,
			PrivacyMask:   mask,
			MaxRampTimeMs: rampMs,
		},
	})
}

// LogStream logs a capture stream lifecycle event.
func (l *Logger) LogStream(eventType EventType, streamID, state, errMsg string) error {
	return l.Log(&Event{
		Type:     eventType,
		StreamID: streamID,
		Details: &StreamDetails{
			State: state,
			Error: errMsg,
		},
	})
}

// LogArchive logs an archive upload result.
func (l *Logger) LogArchive(eventType EventType, bucket, key string, size int64, errMsg string) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &ArchiveDetails{
			Bucket: bucket,
			Key:    key,
			Bytes:  size,
			Error:  errMsg,
		},
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterPrivacy TypeFilter = "privacy"
	FilterStream  TypeFilter = "stream"
	FilterArchive TypeFilter = "archive"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest
// first, and whether more matching events exist.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterPrivacy:
		return IsPrivacyEvent(t)
	case FilterStream:
		return IsStreamEvent(t)
	case FilterArchive:
		return IsArchiveEvent(t)
	default:
		return true
	}
}

// IsPrivacyEvent returns true if the event type is a privacy event.
func IsPrivacyEvent(t EventType) bool {
	return t == PolicyResolved || t == PrivacyStateChanged
}

// IsStreamEvent returns true if the event type is a stream event.
func IsStreamEvent(t EventType) bool {
	return t == StreamStarted || t == StreamStopped
}

// IsArchiveEvent returns true if the event type is an archive event.
func IsArchiveEvent(t EventType) bool {
	return t == ArchiveUploaded || t == ArchiveFailed
}
