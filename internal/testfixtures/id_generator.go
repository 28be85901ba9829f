package testfixtures

import (
	"fmt"
	"sync"
)

// IDGenerator hands out readable sequential ids, counted per kind, so a test
// can predict "session-1" or "entry-3".
type IDGenerator struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{counters: make(map[string]uint64)}
}

// Next returns the next id of kind.
func (g *IDGenerator) Next(kind string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[kind]++
	return fmt.Sprintf("%s-%d", kind, g.counters[kind])
}

// For returns a generator of kind ids for service dependencies.
func (g *IDGenerator) For(kind string) func() string {
	if g == nil {
		return func() string { return "" }
	}
	return func() string { return g.Next(kind) }
}
