package http

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalGoneNeverBlocks(t *testing.T) {
	gone := make(chan error, 1)
	signalGone(gone, nil)

	returned := make(chan struct{})
	go func() {
		signalGone(gone, errors.New("worker exited"))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("second disconnect signal blocked")
	}

	require.Len(t, gone, 1)
	assert.NoError(t, <-gone)
}
