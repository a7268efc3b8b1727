package core

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator produces globally unique identifiers for messages and agents.
// The prefix is a human readable hint (usually a message kind or agent name).
type IDGenerator interface {
	NewID(prefix string) string
}

// UUIDGenerator generates "<prefix>:<uuid>" identifiers.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + ":" + uuid.NewString()
}

// SequenceGenerator generates deterministic "<prefix>:<n>" identifiers. It is
// safe for concurrent use and intended for tests and reproducible transcripts.
type SequenceGenerator struct {
	next atomic.Uint64
}

// NewID implements IDGenerator.
func (g *SequenceGenerator) NewID(prefix string) string {
	n := g.next.Add(1)
	if prefix == "" {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s:%d", prefix, n)
}
