package composition

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator hands out note ids.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator produces random v4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// CounterGenerator produces "<prefix>-1", "<prefix>-2", ... and is meant for
// deterministic fixtures.
type CounterGenerator struct {
	Prefix string
	next   atomic.Int64
}

func (g *CounterGenerator) NewID() string {
	prefix := g.Prefix
	if prefix == "" {
		prefix = "note"
	}
	return fmt.Sprintf("%s-%d", prefix, g.next.Add(1))
}
