// Package identifier provides WorldMap-scoped monotonic identifier generators.
//
// The original system used a single process-wide static counter per entity
// kind (Frame::_instances, ...). Design Notes §9 calls for lifting that to a
// WorldMap-scoped generator so independent maps never collide and so
// multiple WorldMap instances can coexist in one process. Reads are
// lock-free; increments happen only under the caller's write lock (the
// WorldMap itself serializes all mutation).
package identifier

// ID is a unique, monotonically assigned, never-reused identifier for a
// Frame, Landmark, or LocalMap. Zero is reserved to mean "no entity".
type ID uint64

// None is the sentinel value meaning "no identifier assigned".
const None ID = 0

// Generator hands out strictly increasing IDs starting at 1.
type Generator struct {
	next ID
}

// NewGenerator returns a Generator whose first Next() call returns 1.
func NewGenerator() *Generator {
	return &Generator{next: 1}
}

// Next returns the next unused identifier and advances the counter.
func (g *Generator) Next() ID {
	id := g.next
	g.next++
	return id
}

// Peek returns the identifier that the next call to Next() will return,
// without consuming it.
func (g *Generator) Peek() ID {
	return g.next
}
