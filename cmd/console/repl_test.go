package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncomplete(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"1 + 1", false},
		{"function f(x) {", true},
		{"function f(x) {\n  return x\n}", false},
		{"x = [1, 2,", true},
		{"x = )", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, incomplete(tt.src))
		})
	}
}
