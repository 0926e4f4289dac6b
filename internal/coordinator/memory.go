package coordinator

import (
	"maps"
	"slices"
	"time"
)

// Shared memory segment names.
const (
	SegGlobalInsights     = "global-insights"
	SegResourcePool       = "resource-pool"
	SegTaskRegistry       = "task-registry"
	SegPerformanceMetrics = "performance-metrics"
	SegErrorLogs          = "error-logs"
)

var segmentNames = []string{SegGlobalInsights, SegResourcePool, SegTaskRegistry, SegPerformanceMetrics, SegErrorLogs}

// staleAfter is how old a segment may get before the minor cycle bumps it.
const staleAfter = time.Second

// Segment is a versioned key/value area shared by all swarms. Version
// strictly increases on every write and on every stale tick.
type Segment struct {
	Name        string
	Data        map[string]any
	LastSync    time.Time
	Version     int
	Subscribers map[string]bool
	// Seen records the last version each swarm was notified of.
	Seen map[string]int
}

type SegmentSnapshot struct {
	Name        string         `json:"name"`
	Data        map[string]any `json:"data"`
	LastSync    time.Time      `json:"last_sync"`
	Version     int            `json:"version"`
	Subscribers []string       `json:"subscribers"`
}

func newSegments() map[string]*Segment {
	now := time.Now()
	out := make(map[string]*Segment, len(segmentNames))
	for _, name := range segmentNames {
		out[name] = &Segment{
			Name:        name,
			Data:        make(map[string]any),
			LastSync:    now,
			Subscribers: make(map[string]bool),
			Seen:        make(map[string]int),
		}
	}
	return out
}

func (s *Segment) write(key string, value any, now time.Time) int {
	s.Data[key] = value
	s.Version++
	s.LastSync = now
	return s.Version
}

// tick bumps the version when the segment has not synced for staleAfter.
func (s *Segment) tick(now time.Time) bool {
	if now.Sub(s.LastSync) <= staleAfter {
		return false
	}
	s.Version++
	s.LastSync = now
	return true
}

func (s *Segment) snapshot() SegmentSnapshot {
	return SegmentSnapshot{
		Name:        s.Name,
		Data:        maps.Clone(s.Data),
		LastSync:    s.LastSync,
		Version:     s.Version,
		Subscribers: slices.Sorted(maps.Keys(s.Subscribers)),
	}
}

// Memory returns a copy of the named segment.
func (c *Coordinator) Memory(name string) (SegmentSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seg, ok := c.memory[name]
	if !ok {
		return SegmentSnapshot{}, false
	}
	return seg.snapshot(), true
}

// WriteMemory stores value under key in the named segment and returns the
// new version.
func (c *Coordinator) WriteMemory(name, key string, value any) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seg, ok := c.memory[name]
	if !ok {
		return 0, false
	}
	return seg.write(key, value, time.Now()), true
}

func (c *Coordinator) memorySnapshotLocked() map[string]SegmentSnapshot {
	out := make(map[string]SegmentSnapshot, len(c.memory))
	for name, seg := range c.memory {
		out[name] = seg.snapshot()
	}
	return out
}

// appendLocked adds entry to a list stored under key.
func (s *Segment) appendLocked(key string, entry any, now time.Time) {
	list, _ := s.Data[key].([]any)
	s.write(key, append(list, entry), now)
}

// CoordinationLock is advisory: it is recorded and expires, but nothing
// checks it before acting.
type CoordinationLock struct {
	Name       string    `json:"name"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Lock returns the named coordination lock if it is held.
func (c *Coordinator) Lock(name string) (CoordinationLock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[name]
	return l, ok
}
