package store

import (
	"context"
	"sync"
	"time"
)

// Memory keeps every collection in process memory. It backs tests and
// development runs where no database is configured.
type Memory struct {
	mu     sync.Mutex
	chats  []ChatEntry
	admin  []AdminEntry
	ipList map[string]IPEntry
}

func NewMemory() *Memory {
	return &Memory{ipList: make(map[string]IPEntry)}
}

func (m *Memory) AppendChat(_ context.Context, entry ChatEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats = append(m.chats, entry)
	return nil
}

func (m *Memory) ChatsBetween(_ context.Context, from, to time.Time) ([]ChatEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []ChatEntry
	for _, entry := range m.chats {
		if entry.Timestamp.Before(from) || entry.Timestamp.After(to) {
			continue
		}
		matched = append(matched, entry)
	}
	return matched, nil
}

func (m *Memory) PurgeChatsBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.chats[:0]
	purged := 0
	for _, entry := range m.chats {
		if entry.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, entry)
	}
	m.chats = kept
	return purged, nil
}

func (m *Memory) AppendAdminCommand(_ context.Context, entry AdminEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admin = append(m.admin, entry)
	return nil
}

func (m *Memory) AdminCommands(_ context.Context) ([]AdminEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]AdminEntry, len(m.admin))
	copy(snapshot, m.admin)
	return snapshot, nil
}

func (m *Memory) IPStatus(_ context.Context, ip string) (IPEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.ipList[ip]
	return entry, ok, nil
}

func (m *Memory) SetIPStatus(_ context.Context, entry IPEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ipList[entry.IP] = entry
	return nil
}

var _ Store = (*Memory)(nil)
