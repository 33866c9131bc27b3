package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	gen := NewGenerator()

	assert.NotEqual(t, gen.Generate().String(), gen.Generate().String())
}

func TestGenerateIsOrderedWithinMillisecond(t *testing.T) {
	gen := NewGenerator()

	prev := gen.Generate().String()
	for range 1000 {
		next := gen.Generate().String()
		require.Less(t, prev, next)
		prev = next
	}
}

func TestTypedIDs(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		prefix string
	}{
		{"lease", NewLeaseID().String(), LeasePrefix},
		{"breakpoint", NewBreakpointID().String(), BreakpointPrefix},
		{"request", NewRequestID().String(), RequestPrefix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, strings.HasPrefix(tt.value, tt.prefix+"_"))
			parts := strings.Split(tt.value, "_")
			require.Len(t, parts, 2)
			assert.Len(t, parts[1], 26)
		})
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	lease := NewLeaseID()

	ts, err := Timestamp(lease.String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("lease_not-a-ulid")
	assert.Error(t, err)
}
