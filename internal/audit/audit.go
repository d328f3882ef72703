// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit provides the append-only request trail with secret
// redaction. Every gate verdict, routing decision, and provider outcome is
// recorded here before the caller sees it; occurrence logging is never
// optional, only payload verbosity is.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// MaxInputLength is the maximum input excerpt stored per event.
const MaxInputLength = 200

// DefaultMaxFileSize is the max log size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Stage identifies which pipeline stage emitted an event.
type Stage string

const (
	StageGate      Stage = "gate"
	StageRouter    Stage = "router"
	StageExecution Stage = "execution"
)

// Event is a single audit log entry, one JSON line in the trail.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Stage      Stage             `json:"stage"`
	EventType  string            `json:"event_type"`
	RequestID  string            `json:"request_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Capability string            `json:"capability,omitempty"`
	Model      string            `json:"model,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Input      string            `json:"input,omitempty"` // truncated and redacted
	Tokens     int               `json:"tokens,omitempty"`
	Cost       float64           `json:"cost,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Violations []string          `json:"violations,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// REDACTION
// =============================================================================

// Redactor replaces sensitive data before an event is written.
type Redactor interface {
	Redact(input string) string
	Name() string
}

// PatternRedactor redacts text matching a regex pattern.
type PatternRedactor struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// NewPatternRedactor creates a pattern-based redactor.
func NewPatternRedactor(name string, pattern *regexp.Regexp, replace string) *PatternRedactor {
	return &PatternRedactor{name: name, pattern: pattern, replace: replace}
}

func (r *PatternRedactor) Redact(input string) string {
	return r.pattern.ReplaceAllString(input, r.replace)
}

func (r *PatternRedactor) Name() string {
	return r.name
}

// secretPatterns covers the API key shapes of the supported providers plus
// generic token forms.
var secretPatterns = []struct {
	name    string
	pattern *regexp.Regexp
	replace string
}{
	{"OpenAI", regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), "[OPENAI_KEY_REDACTED]"},
	{"Anthropic", regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-]{20,}`), "[ANTHROPIC_KEY_REDACTED]"},
	{"Google", regexp.MustCompile(`AIza[a-zA-Z0-9_\-]{35}`), "[GOOGLE_KEY_REDACTED]"},
	{"GitHub", regexp.MustCompile(`gh[pousr]_[a-zA-Z0-9]{36,}`), "[GITHUB_TOKEN_REDACTED]"},
	{"AWS", regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[AWS_KEY_REDACTED]"},
	{"Bearer", regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_.]+`), "Bearer [TOKEN_REDACTED]"},
	{"Password", regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[=:]\s*\S+`), "[PASSWORD_REDACTED]"},
	{"JWT", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), "[JWT_REDACTED]"},
}

func defaultRedactors() []Redactor {
	redactors := make([]Redactor, 0, len(secretPatterns))
	for _, sp := range secretPatterns {
		redactors = append(redactors, NewPatternRedactor(sp.name, sp.pattern, sp.replace))
	}
	return redactors
}

// =============================================================================
// LOGGER
// =============================================================================

// Verbosity controls how much request payload is captured per event.
// Occurrence logging itself is always on.
type Verbosity string

const (
	VerbosityMinimal Verbosity = "minimal" // no input excerpts
	VerbosityNormal  Verbosity = "normal"  // truncated, redacted excerpts
	VerbosityFull    Verbosity = "full"    // redacted but untruncated input
)

// Logger writes events as JSON lines with secret redaction and size-based
// rotation. Thread-safe.
type Logger struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	maxSize   int64
	verbosity Verbosity
	redactors []Redactor

	failureCount int
	lastFailure  error
}

// NewLogger opens (or creates) the audit trail at path.
func NewLogger(path string) (*Logger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &Logger{
		path:      path,
		file:      file,
		maxSize:   DefaultMaxFileSize,
		verbosity: VerbosityNormal,
		redactors: defaultRedactors(),
	}, nil
}

// SetVerbosity adjusts payload capture. It never disables the trail.
func (l *Logger) SetVerbosity(v Verbosity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v != "" {
		l.verbosity = v
	}
}

// AddRedactor appends a custom redactor applied after the built-ins.
func (l *Logger) AddRedactor(r Redactor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redactors = append(l.redactors, r)
}

func (l *Logger) redact(s string) string {
	for _, r := range l.redactors {
		s = r.Redact(s)
	}
	return s
}

// Record writes one event to the trail. Input excerpts are redacted and
// bounded according to the configured verbosity before hitting disk.
func (l *Logger) Record(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	switch l.verbosity {
	case VerbosityMinimal:
		ev.Input = ""
	case VerbosityFull:
		ev.Input = l.redact(ev.Input)
	default:
		if len(ev.Input) > MaxInputLength {
			ev.Input = ev.Input[:MaxInputLength] + "..."
		}
		ev.Input = l.redact(ev.Input)
	}
	ev.Error = l.redact(ev.Error)

	data, err := json.Marshal(ev)
	if err != nil {
		return l.fail(fmt.Errorf("failed to marshal audit event: %w", err))
	}

	if err := l.rotateIfNeeded(int64(len(data) + 1)); err != nil {
		return l.fail(err)
	}

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return l.fail(fmt.Errorf("failed to write audit event: %w", err))
	}

	l.failureCount = 0
	return nil
}

func (l *Logger) fail(err error) error {
	l.failureCount++
	l.lastFailure = err
	return err
}

// rotateIfNeeded renames the current file aside when the next write would
// push it past maxSize. Caller holds the mutex.
func (l *Logger) rotateIfNeeded(incoming int64) error {
	info, err := l.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat audit log: %w", err)
	}
	if info.Size()+incoming <= l.maxSize {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}
	rotated := fmt.Sprintf("%s.%s", l.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to reopen audit log: %w", err)
	}
	l.file = file
	return nil
}

// Close flushes and closes the trail.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// LastFailure returns the most recent write failure, if any.
func (l *Logger) LastFailure() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failureCount, l.lastFailure
}
