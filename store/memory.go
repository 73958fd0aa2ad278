package store

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and single-shot tooling. It
// honors the same TTL and due-time semantics as the pebble backend but
// persists nothing.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
	dueAt     time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry), now: time.Now}
}

// SetClock overrides the time source. Testing hook.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get implements Store.
func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveEntry(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *Memory) liveEntry(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !live(e.expiresAt, m.now()) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

// Set implements Store.
func (m *Memory) Set(key string, value []byte, opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{
		value:     append([]byte(nil), value...),
		expiresAt: expiryFromOpts(m.now(), opts),
		dueAt:     opts.DueAt,
	}
	return nil
}

// SetIfAbsent implements Store.
func (m *Memory) SetIfAbsent(key string, value []byte, opts Options) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.liveEntry(key); ok {
		return false, nil
	}
	m.entries[key] = memEntry{
		value:     append([]byte(nil), value...),
		expiresAt: expiryFromOpts(m.now(), opts),
		dueAt:     opts.DueAt,
	}
	return true, nil
}

// CompareAndSet implements Store.
func (m *Memory) CompareAndSet(key string, expect, value []byte, opts Options) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveEntry(key)
	if !ok || !bytes.Equal(e.value, expect) {
		return false, nil
	}
	m.entries[key] = memEntry{
		value:     append([]byte(nil), value...),
		expiresAt: expiryFromOpts(m.now(), opts),
		dueAt:     opts.DueAt,
	}
	return true, nil
}

// Delete implements Store.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// ScanDueBefore implements Store.
func (m *Memory) ScanDueBefore(prefix string, cutoff time.Time) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []Record
	for key, e := range m.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !live(e.expiresAt, now) || e.dueAt.IsZero() || e.dueAt.After(cutoff) {
			continue
		}
		out = append(out, Record{
			Key:   key,
			Value: append([]byte(nil), e.value...),
			DueAt: e.dueAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
