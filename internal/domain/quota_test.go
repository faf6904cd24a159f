package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextByteSize(t *testing.T) {
	assert.Equal(t, 0, TextByteSize(""))
	assert.Equal(t, 5, TextByteSize("hello"))
	// Multibyte runes count as encoded bytes, not characters.
	assert.Equal(t, 6, TextByteSize("héllo"))
	assert.Equal(t, 12, TextByteSize("你好世界"))
	assert.Equal(t, 4, TextByteSize("🎉"))
}
