// Package id provides prefixed ULID generation for host-side identifiers.
//
// ULIDs are lexicographically sortable by creation time and monotonic within
// a millisecond, which keeps lease and breakpoint listings in creation order
// without carrying separate timestamps.
// Prefixes make identifiers readable in logs:
//
//	lease_01J9Z8...   pool lease
//	bp_01J9Z8...      breakpoint definition
//	req_01J9Z8...     HTTP request
//
// Session identity is not generated here; sessions are keyed by GUID
// (github.com/google/uuid) so callers can pick well-known identities.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// LeaseID identifies one checkout of a pooled session
type LeaseID string

// BreakpointID identifies a breakpoint definition
type BreakpointID string

// RequestID identifies an inbound API request
type RequestID string

const (
	LeasePrefix      = "lease"
	BreakpointPrefix = "bp"
	RequestPrefix    = "req"
)

// Generator produces ULIDs from a shared entropy source
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand. IDs from one
// generator are strictly increasing, also within the same millisecond.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefix_ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewLeaseID generates a new lease ID
func NewLeaseID() LeaseID {
	return LeaseID(Default().GenerateWithPrefix(LeasePrefix))
}

// NewBreakpointID generates a new breakpoint ID
func NewBreakpointID() BreakpointID {
	return BreakpointID(Default().GenerateWithPrefix(BreakpointPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id LeaseID) String() string      { return string(id) }
func (id BreakpointID) String() string { return string(id) }
func (id RequestID) String() string    { return string(id) }

// Timestamp extracts the creation time from a prefixed or bare ULID
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
