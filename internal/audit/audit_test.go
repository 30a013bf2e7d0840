package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"steward/internal/domain"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l := New(t.TempDir())
	l.Now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return l
}

func TestAppendWritesDayFile(t *testing.T) {
	l := newTestLogger(t)
	err := l.Append(domain.AuditEvent{
		EventType: "process_created",
		Actor:     "tester",
		Entity:    "proc-1",
		Details:   map[string]any{"status": "draft"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(l.Dir, "audit-2026-03-10.jsonl"))
	if err != nil {
		t.Fatalf("read day file: %v", err)
	}
	if !strings.Contains(string(data), `"checksum"`) {
		t.Fatalf("expected checksum in record: %s", data)
	}
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	l := newTestLogger(t)
	for i := 0; i < 3; i++ {
		if err := l.Append(domain.AuditEvent{EventType: "rule_fired", Actor: "runner", Entity: "r1"}); err != nil {
			t.Fatal(err)
		}
	}
	issues, err := l.VerifyIntegrity(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Fatalf("expected clean log, got %v", issues)
	}

	// tamper with the actor of the second line
	path := filepath.Join(l.Dir, "audit-2026-03-10.jsonl")
	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), `"actor":"runner"`, `"actor":"mallory"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatal(err)
	}
	issues, err = l.VerifyIntegrity(time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 1 || issues[0].Line != 1 {
		t.Fatalf("expected one issue on line 1, got %v", issues)
	}
}

func TestQueryFilters(t *testing.T) {
	l := newTestLogger(t)
	events := []domain.AuditEvent{
		{EventType: "process_created", Actor: "alice", Entity: "p1"},
		{EventType: "process_created", Actor: "bob", Entity: "p2"},
		{EventType: "rule_fired", Actor: "alice", Entity: "r1"},
	}
	for _, ev := range events {
		if err := l.Append(ev); err != nil {
			t.Fatal(err)
		}
	}
	got, err := l.Query(Filter{EventType: "process_created"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	got, _ = l.Query(Filter{Actor: "alice"})
	if len(got) != 2 {
		t.Fatalf("expected 2 alice events, got %d", len(got))
	}
	got, _ = l.Query(Filter{Entity: "p2"})
	if len(got) != 1 {
		t.Fatalf("expected 1 p2 event, got %d", len(got))
	}
	got, _ = l.Query(Filter{Limit: 1})
	if len(got) != 1 {
		t.Fatalf("expected limit to cap results, got %d", len(got))
	}
}

func TestConflictsReport(t *testing.T) {
	l := newTestLogger(t)
	appendConflict := func(sev, ctype string) {
		if err := l.Append(domain.AuditEvent{
			EventType: "conflict_detected",
			Actor:     "detector",
			Entity:    "p1",
			Details:   map[string]any{"severity": sev, "conflict_type": ctype},
		}); err != nil {
			t.Fatal(err)
		}
	}
	appendConflict("HIGH", "trigger_collision")
	appendConflict("HIGH", "output_contradiction")
	appendConflict("MEDIUM", "ownership_overlap")
	if err := l.Append(domain.AuditEvent{EventType: "rule_fired", Actor: "x"}); err != nil {
		t.Fatal(err)
	}

	report, err := l.GetConflictsReport(7)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != 3 {
		t.Fatalf("expected 3 conflicts, got %d", report.Total)
	}
	if report.BySeverity["HIGH"] != 2 || report.BySeverity["MEDIUM"] != 1 {
		t.Fatalf("unexpected severity counts: %v", report.BySeverity)
	}
	if report.ByType["trigger_collision"] != 1 {
		t.Fatalf("unexpected type counts: %v", report.ByType)
	}
}

func TestChecksumStableUnderDetailOrder(t *testing.T) {
	ev := domain.AuditEvent{
		Timestamp: "2026-03-10T12:00:00Z",
		EventType: "x",
		Actor:     "a",
		Details:   map[string]any{"b": 1, "a": 2, "c": "z"},
	}
	first := Checksum(ev)
	for i := 0; i < 10; i++ {
		if got := Checksum(ev); got != first {
			t.Fatalf("checksum unstable: %s vs %s", got, first)
		}
	}
	if len(first) != checksumLen {
		t.Fatalf("expected truncated checksum, got %d chars", len(first))
	}
}
