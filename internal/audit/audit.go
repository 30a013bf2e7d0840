package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"steward/internal/domain"
)

const (
	filePrefix = "audit-"
	fileSuffix = ".jsonl"
	dateLayout = "2006-01-02"

	// checksumLen truncates the SHA-256 digest; this is tamper evidence,
	// not cryptographic signing.
	checksumLen = 16

	defaultQueryLimit = 500
)

// Logger appends checksummed events to one JSONL file per UTC calendar day.
// Appends are serialized per logger; the log is never rewritten.
type Logger struct {
	Dir string
	Now func() time.Time

	mu sync.Mutex
}

func New(dir string) *Logger {
	return &Logger{Dir: dir, Now: time.Now}
}

func (l *Logger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Append writes one event to the current day's log file, stamping the
// timestamp if unset and computing the checksum.
func (l *Logger) Append(ev domain.AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.Timestamp == "" {
		ev.Timestamp = l.now().UTC().Format(time.RFC3339)
	}
	ev.Checksum = Checksum(ev)

	ts, err := time.Parse(time.RFC3339, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("event timestamp: %w", err)
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(l.Dir, filePrefix+ts.UTC().Format(dateLayout)+fileSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// Checksum computes the truncated hash over (timestamp, event_type, actor,
// entity, sorted details).
func Checksum(ev domain.AuditEvent) string {
	var b strings.Builder
	b.WriteString(ev.Timestamp)
	b.WriteByte('|')
	b.WriteString(ev.EventType)
	b.WriteByte('|')
	b.WriteString(ev.Actor)
	b.WriteByte('|')
	b.WriteString(ev.Entity)
	b.WriteByte('|')
	b.WriteString(sortedDetails(ev.Details))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:checksumLen]
}

func sortedDetails(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		v, _ := json.Marshal(details[k])
		fmt.Fprintf(&b, "%s=%s,", k, v)
	}
	return b.String()
}

// Filter narrows a Query. Zero values match everything; Limit defaults to a
// result cap of 500.
type Filter struct {
	EventType string
	Actor     string
	Entity    string
	From      time.Time
	To        time.Time
	Limit     int
}

// Query scans day files in the filter's date range and returns matching
// events in file order, capped at the limit.
func (l *Logger) Query(f Filter) ([]domain.AuditEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	var out []domain.AuditEvent
	err := l.scan(f.From, f.To, func(ev domain.AuditEvent, _ string, _ int, ok bool) {
		if !ok || len(out) >= limit {
			return
		}
		if f.EventType != "" && ev.EventType != f.EventType {
			return
		}
		if f.Actor != "" && ev.Actor != f.Actor {
			return
		}
		if f.Entity != "" && ev.Entity != f.Entity {
			return
		}
		if ts, err := time.Parse(time.RFC3339, ev.Timestamp); err == nil {
			if !f.From.IsZero() && ts.Before(f.From) {
				return
			}
			if !f.To.IsZero() && ts.After(f.To) {
				return
			}
		}
		out = append(out, ev)
	})
	return out, err
}

// IntegrityIssue reports one record whose recomputed checksum differs from
// the stored one.
type IntegrityIssue struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// VerifyIntegrity recomputes checksums over the date range and reports
// mismatches. Detection after the fact; it does not prevent writes.
func (l *Logger) VerifyIntegrity(from, to time.Time) ([]IntegrityIssue, error) {
	var issues []IntegrityIssue
	err := l.scan(from, to, func(ev domain.AuditEvent, file string, line int, ok bool) {
		if !ok {
			issues = append(issues, IntegrityIssue{File: file, Line: line, Actual: "unparseable"})
			return
		}
		stored := ev.Checksum
		ev.Checksum = ""
		if recomputed := Checksum(ev); recomputed != stored {
			issues = append(issues, IntegrityIssue{
				File:     file,
				Line:     line,
				Expected: recomputed,
				Actual:   stored,
			})
		}
	})
	return issues, err
}

// ConflictsReport aggregates conflict events over a trailing window for
// governance reporting.
type ConflictsReport struct {
	WindowDays int                 `json:"window_days"`
	Total      int                 `json:"total"`
	BySeverity map[string]int      `json:"by_severity"`
	ByType     map[string]int      `json:"by_type"`
	Events     []domain.AuditEvent `json:"events,omitempty"`
}

// GetConflictsReport aggregates conflict_detected events by severity and
// conflict type over the trailing window.
func (l *Logger) GetConflictsReport(windowDays int) (ConflictsReport, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	from := l.now().UTC().AddDate(0, 0, -windowDays)
	report := ConflictsReport{
		WindowDays: windowDays,
		BySeverity: map[string]int{},
		ByType:     map[string]int{},
	}
	err := l.scan(from, time.Time{}, func(ev domain.AuditEvent, _ string, _ int, ok bool) {
		if !ok || ev.EventType != "conflict_detected" {
			return
		}
		if ts, err := time.Parse(time.RFC3339, ev.Timestamp); err != nil || ts.Before(from) {
			return
		}
		report.Total++
		if sev, ok := ev.Details["severity"].(string); ok {
			report.BySeverity[sev]++
		}
		if ct, ok := ev.Details["conflict_type"].(string); ok {
			report.ByType[ct]++
		}
		report.Events = append(report.Events, ev)
	})
	return report, err
}

// scan walks day files within [from,to] (zero time = unbounded) in name
// order and calls fn for each decoded event.
func (l *Logger) scan(from, to time.Time, fn func(ev domain.AuditEvent, file string, line int, ok bool)) error {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		day, err := time.Parse(dateLayout, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			continue
		}
		if !from.IsZero() && day.Before(from.UTC().Truncate(24*time.Hour)) {
			continue
		}
		if !to.IsZero() && day.After(to) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := l.scanFile(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logger) scanFile(name string, fn func(ev domain.AuditEvent, file string, line int, ok bool)) error {
	f, err := os.Open(filepath.Join(l.Dir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var ev domain.AuditEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			fn(domain.AuditEvent{}, name, line, false)
			continue
		}
		fn(ev, name, line, true)
	}
	return scanner.Err()
}
