package records

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. Test double for the sync
// engine.
type MemoryStore struct {
	mu   sync.Mutex
	data Export
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: Export{Settings: map[string]string{}}}
}

func (m *MemoryStore) Export(_ context.Context) (Export, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneExport(m.data), nil
}

func (m *MemoryStore) Import(_ context.Context, data Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = cloneExport(data)
	return nil
}

func cloneExport(e Export) Export {
	out := Export{
		Hosts:    append([]Host(nil), e.Hosts...),
		Snippets: append([]Snippet(nil), e.Snippets...),
		Presets:  append([]Preset(nil), e.Presets...),
		Settings: map[string]string{},
	}
	for k, v := range e.Settings {
		out.Settings[k] = v
	}
	return out
}
