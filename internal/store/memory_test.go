package store

import (
	"testing"
	"time"
)

func TestMemoryChatWindowQueries(t *testing.T) {
	m := NewMemory()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := ChatEntry{Message: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Hour)}
		if err := m.AppendChat(t.Context(), entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := m.ChatsBetween(t.Context(), base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries in window, got %d", len(entries))
	}
	if entries[0].Message != "b" || entries[2].Message != "d" {
		t.Fatalf("window bounds inclusive, got %+v", entries)
	}
}

func TestMemoryPurgeKeepsRecentChats(t *testing.T) {
	m := NewMemory()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		entry := ChatEntry{Timestamp: base.Add(time.Duration(i) * 24 * time.Hour)}
		if err := m.AppendChat(t.Context(), entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	purged, err := m.PurgeChatsBefore(t.Context(), base.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 2 {
		t.Fatalf("purged %d, want 2", purged)
	}
	remaining, err := m.ChatsBetween(t.Context(), time.Time{}, base.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(remaining))
	}
}

func TestMemoryIPStatusRoundTrip(t *testing.T) {
	m := NewMemory()
	if _, found, err := m.IPStatus(t.Context(), "10.0.0.1"); err != nil || found {
		t.Fatalf("unknown address must report not found, got found=%v err=%v", found, err)
	}
	if err := m.SetIPStatus(t.Context(), IPEntry{IP: "10.0.0.1", Status: IPBanned, Reason: "manual"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	entry, found, err := m.IPStatus(t.Context(), "10.0.0.1")
	if err != nil || !found {
		t.Fatalf("lookup after set: found=%v err=%v", found, err)
	}
	if entry.Status != IPBanned || entry.Reason != "manual" {
		t.Fatalf("entry wrong: %+v", entry)
	}
}

func TestMemoryAdminAudit(t *testing.T) {
	m := NewMemory()
	entry := AdminEntry{Token: "secret", Command: "ANNOUNCEMENT", Args: "hi", Timestamp: time.Now()}
	if err := m.AppendAdminCommand(t.Context(), entry); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := m.AdminCommands(t.Context())
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(entries) != 1 || entries[0].Command != "ANNOUNCEMENT" {
		t.Fatalf("audit wrong: %+v", entries)
	}
}
