// Package audit writes a JSON-lines trail of security-relevant events: token
// changes, rejected sessions, tool access and stale option fallbacks.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger appends events to a file from a background worker. A nil *Logger
// discards every event.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	filepath string
	maxSize  int64
	maxAge   time.Duration
	encoder  *json.Encoder
	logger   *zap.Logger

	events   chan *Event
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config represents logger configuration
type Config struct {
	FilePath string
	MaxSize  int64         // Rotate once the file exceeds this many bytes
	MaxAge   time.Duration // Remove rotated files older than this
	Logger   *zap.Logger   // Receives write failures
}

// NewLogger opens (or creates) the audit file and starts the writer.
func NewLogger(config Config) (*Logger, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	zl := config.Logger
	if zl == nil {
		zl = zap.NewNop()
	}

	l := &Logger{
		file:     file,
		filepath: config.FilePath,
		maxSize:  config.MaxSize,
		maxAge:   config.MaxAge,
		encoder:  json.NewEncoder(file),
		logger:   zl,
		events:   make(chan *Event, 100),
		stop:     make(chan struct{}),
	}

	l.wg.Add(1)
	go l.worker()

	l.LogSystem(EventStartup, "Audit logger started", nil)
	return l, nil
}

// Path returns the audit file location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filepath
}

// Log queues an event. It gives up after a second rather than block the
// caller on a stalled disk.
func (l *Logger) Log(event *Event) {
	if l == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case l.events <- event:
	case <-l.stop:
		l.logger.Warn("Audit event dropped after close", zap.String("type", string(event.Type)))
	case <-time.After(time.Second):
		l.logger.Error("Audit event dropped: queue full", zap.String("type", string(event.Type)))
	}
}

func (l *Logger) worker() {
	defer l.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.events:
			l.write(event)
		case <-ticker.C:
			l.removeExpired()
		case <-l.stop:
			for {
				select {
				case event := <-l.events:
					l.write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(event *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.encoder.Encode(event); err != nil {
		l.logger.Error("Failed to write audit event", zap.Error(err))
	}

	if l.maxSize > 0 {
		if info, err := l.file.Stat(); err == nil && info.Size() > l.maxSize {
			l.rotate()
		}
	}
}

// rotate renames the current file with a timestamp suffix and reopens.
// Callers hold l.mu.
func (l *Logger) rotate() {
	_ = l.file.Close()

	rotated := fmt.Sprintf("%s.%s", l.filepath, time.Now().Format("20060102-150405.000000000"))
	if err := os.Rename(l.filepath, rotated); err != nil {
		l.logger.Warn("Failed to rotate audit log", zap.Error(err))
	}

	file, err := os.OpenFile(l.filepath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		l.logger.Error("Failed to reopen audit log", zap.Error(err))
		return
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
}

// removeExpired deletes rotated files older than maxAge.
func (l *Logger) removeExpired() {
	if l.maxAge <= 0 {
		return
	}

	dir := filepath.Dir(l.filepath)
	prefix := filepath.Base(l.filepath) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-l.maxAge)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}

// Close logs shutdown, drains queued events and closes the file. It is safe
// to call more than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	var err error
	l.stopOnce.Do(func() {
		l.LogSystem(EventShutdown, "Audit logger shutting down", nil)
		close(l.stop)
		l.wg.Wait()

		l.mu.Lock()
		defer l.mu.Unlock()
		err = l.file.Close()
	})
	return err
}

// Query filters audit events
type Query struct {
	StartTime     time.Time
	EndTime       time.Time
	EventTypes    []EventType
	Severities    []Severity
	Profiles      []string
	Resources     []string
	CorrelationID string
	Limit         int
}

func (q Query) matches(e *Event) bool {
	switch {
	case !q.StartTime.IsZero() && e.Timestamp.Before(q.StartTime):
		return false
	case !q.EndTime.IsZero() && e.Timestamp.After(q.EndTime):
		return false
	case len(q.EventTypes) > 0 && !slices.Contains(q.EventTypes, e.Type):
		return false
	case len(q.Severities) > 0 && !slices.Contains(q.Severities, e.Severity):
		return false
	case len(q.Profiles) > 0 && !slices.Contains(q.Profiles, e.Profile):
		return false
	case len(q.Resources) > 0 && !slices.Contains(q.Resources, e.Resource):
		return false
	case q.CorrelationID != "" && e.CorrelationID != q.CorrelationID:
		return false
	}
	return true
}

// Search scans the current audit file. Rotated files are not searched.
func Search(path string, query Query) ([]*Event, error) {
	file, err := os.Open(path) // #nosec G304 - configured audit path
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if !query.matches(&event) {
			continue
		}
		events = append(events, &event)
		if query.Limit > 0 && len(events) >= query.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("failed to read audit log: %w", err)
	}
	return events, nil
}
