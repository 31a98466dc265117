package branch

import (
	"context"
	"sort"
	"sync"
)

// Change is one branch write inside a commit. The write only applies if the
// stored revision still equals Expect; zero means the branch must not exist.
type Change struct {
	Branch *Branch
	Expect int64
}

// Backend persists branches and history. Commit applies every change and
// appends the history entry atomically, or fails with ErrStaleRevision
// without writing anything.
type Backend interface {
	// Load returns the stored branch, tombstones included, or ErrBranchNotFound.
	Load(ctx context.Context, name string) (*Branch, error)
	// Names lists live branch names in any order.
	Names(ctx context.Context) ([]string, error)
	Commit(ctx context.Context, changes []Change, entry HistoryEntry) error
	History(ctx context.Context) ([]HistoryEntry, error)
	Ping(ctx context.Context) error
}

// MemoryBackend keeps everything in process memory.
type MemoryBackend struct {
	mu       sync.RWMutex
	branches map[string]*Branch
	history  []HistoryEntry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{branches: make(map[string]*Branch)}
}

func (m *MemoryBackend) Load(ctx context.Context, name string) (*Branch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.branches[name]
	if !ok {
		return nil, ErrBranchNotFound
	}
	return b.Clone(), nil
}

func (m *MemoryBackend) Names(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.branches))
	for name, b := range m.branches {
		if !b.IsDeleted {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryBackend) Commit(ctx context.Context, changes []Change, entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range changes {
		if m.revision(c.Branch.Name) != c.Expect {
			return ErrStaleRevision
		}
	}
	for _, c := range changes {
		b := c.Branch.Clone()
		b.Revision = c.Expect + 1
		m.branches[b.Name] = b
	}
	m.history = append(m.history, entry)
	return nil
}

func (m *MemoryBackend) revision(name string) int64 {
	if b, ok := m.branches[name]; ok {
		return b.Revision
	}
	return 0
}

func (m *MemoryBackend) History(ctx context.Context) ([]HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]HistoryEntry(nil), m.history...), nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}
