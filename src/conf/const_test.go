package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStackLayout(t *testing.T) {
	assert.Less(t, REGISTRYINDEX, -MAXSTACK)
	assert.Less(t, REGISTRYINDEX-MAXUPVALUES, REGISTRYINDEX)
	assert.Greater(t, MAXSTACK, 0)
}

func TestPathBuffer(t *testing.T) {
	assert.Equal(t, 256, INITIALPATHBUFFER)
}
