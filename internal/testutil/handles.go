package testutil

import (
	"fmt"
	"sync"
)

// SequentialHandles generates row handles "<prefix>-1", "<prefix>-2", ...
//
// This keeps journals and golden logs byte-identical across runs.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialHandles struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialHandles creates a generator. An empty prefix means "row".
func NewSequentialHandles(prefix string) *SequentialHandles {
	if prefix == "" {
		prefix = "row"
	}
	return &SequentialHandles{prefix: prefix}
}

// Generate returns the next handle.
func (g *SequentialHandles) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
