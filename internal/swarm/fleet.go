package swarm

import "sync"

// Fleet is the shared set of swarms for one run. The demo owns it; the
// coordinator and monitor read it concurrently.
type Fleet struct {
	mu     sync.RWMutex
	swarms map[string]*Swarm
	order  []string
}

func NewFleet(swarms ...*Swarm) *Fleet {
	f := &Fleet{swarms: make(map[string]*Swarm)}
	for _, s := range swarms {
		f.Add(s)
	}
	return f
}

// Add registers s, replacing any swarm with the same id but keeping its
// original position.
func (f *Fleet) Add(s *Swarm) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.swarms[s.ID]; !ok {
		f.order = append(f.order, s.ID)
	}
	f.swarms[s.ID] = s
}

func (f *Fleet) Get(id string) (*Swarm, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.swarms[id]
	return s, ok
}

// List returns swarms in insertion order.
func (f *Fleet) List() []*Swarm {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Swarm, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.swarms[id])
	}
	return out
}

func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.swarms)
}

// Snapshots returns a deep copy of every swarm in insertion order.
func (f *Fleet) Snapshots() []Snapshot {
	list := f.List()
	out := make([]Snapshot, 0, len(list))
	for _, s := range list {
		out = append(out, s.Snapshot())
	}
	return out
}
