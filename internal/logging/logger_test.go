package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewDevelopment(t *testing.T) {
	logger, err := New(DevelopmentConfig())
	require.NoError(t, err)
	assert.NotNil(t, logger.Component("session"))
}

func TestNilLoggerComponent(t *testing.T) {
	var logger *Logger
	assert.NotNil(t, logger.Component("pool"))
	assert.NotNil(t, OrNop(nil))
}
