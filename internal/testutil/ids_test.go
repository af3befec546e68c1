package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wem-technology/ios-webxr-sub000/internal/ident"
)

var _ ident.Generator = (*SequentialIDs)(nil)

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("anchor")
	assert.Equal(t, "anchor-1", g.Generate())
	assert.Equal(t, "anchor-2", g.Generate())

	g.Reset()
	assert.Equal(t, "anchor-1", g.Generate())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "id-1", NewSequentialIDs("").Generate())
}
