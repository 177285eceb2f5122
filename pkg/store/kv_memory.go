package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryKV keeps hashes and sorted sets in-process (single instance only).
// It follows Redis semantics closely enough to stand in for RedisKV in tests
// and single-node development.
type MemoryKV struct {
	mu     sync.RWMutex
	hashes map[string]map[string]string
	zsets  map[string]map[string]float64
	closed bool
}

// NewMemoryKV builds an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		hashes: make(map[string]map[string]string),
		zsets:  make(map[string]map[string]float64),
	}
}

func (m *MemoryKV) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrKVClosed
	}
	v, ok := m.hashes[key][field]
	return v, ok, nil
}

func (m *MemoryKV) HSet(_ context.Context, key, field, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrKVClosed
	}
	h := m.hashLocked(key)
	_, exists := h[field]
	h[field] = value
	return !exists, nil
}

func (m *MemoryKV) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrKVClosed
	}
	h := m.hashLocked(key)
	if _, exists := h[field]; exists {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (m *MemoryKV) HExists(_ context.Context, key, field string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrKVClosed
	}
	_, ok := m.hashes[key][field]
	return ok, nil
}

func (m *MemoryKV) HVals(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrKVClosed
	}
	h := m.hashes[key]
	out := make([]string, 0, len(h))
	for _, v := range h {
		out = append(out, v)
	}
	return out, nil
}

func (m *MemoryKV) ZAdd(_ context.Context, key, member string, score float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrKVClosed
	}
	z := m.zsets[key]
	if z == nil {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	_, exists := z[member]
	z[member] = score
	return !exists, nil
}

func (m *MemoryKV) ZRem(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrKVClosed
	}
	z := m.zsets[key]
	if _, exists := z[member]; !exists {
		return false, nil
	}
	delete(z, member)
	if len(z) == 0 {
		delete(m.zsets, key)
	}
	return true, nil
}

func (m *MemoryKV) ZRangeAll(_ context.Context, key string) ([]ScoredMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrKVClosed
	}
	z := m.zsets[key]
	out := make([]ScoredMember, 0, len(z))
	for member, score := range z {
		out = append(out, ScoredMember{Member: member, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out, nil
}

func (m *MemoryKV) Del(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrKVClosed
	}
	_, inHash := m.hashes[key]
	_, inZSet := m.zsets[key]
	delete(m.hashes, key)
	delete(m.zsets, key)
	return inHash || inZSet, nil
}

func (m *MemoryKV) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrKVClosed
	}
	return nil
}

func (m *MemoryKV) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) hashLocked(key string) map[string]string {
	h := m.hashes[key]
	if h == nil {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	return h
}
