package history

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/chainvoice/internal/invoice"
)

// MemoryStore implements Store with in-memory storage.
type MemoryStore struct {
	logs map[Ref]*memoryLog
	mu   sync.RWMutex
}

type memoryLog struct {
	core   invoice.Core
	events []invoice.Event
	saved  bool
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[Ref]*memoryLog)}
}

func (s *MemoryStore) Track(_ context.Context, ref Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logs[ref]; !ok {
		s.logs[ref] = &memoryLog{}
	}
	return nil
}

func (s *MemoryStore) SaveLog(_ context.Context, ref Ref, core invoice.Core, events []invoice.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]invoice.Event, len(events))
	copy(cp, events)
	s.logs[ref] = &memoryLog{core: core, events: cp, saved: true}
	return nil
}

func (s *MemoryStore) Log(_ context.Context, ref Ref) (invoice.Core, []invoice.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log, ok := s.logs[ref]
	if !ok || !log.saved {
		return invoice.Core{}, nil, ErrNotTracked
	}
	cp := make([]invoice.Event, len(log.events))
	copy(cp, log.events)
	return log.core, cp, nil
}

func (s *MemoryStore) Tracked(_ context.Context) ([]Ref, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := make([]Ref, 0, len(s.logs))
	for ref := range s.logs {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].ChainID != refs[j].ChainID {
			return refs[i].ChainID < refs[j].ChainID
		}
		return refs[i].Address < refs[j].Address
	})
	return refs, nil
}
