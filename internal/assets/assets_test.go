package assets

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupKnownAsset(t *testing.T) {
	data, contentType, ok := Lookup("index.js")
	require.True(t, ok)
	require.NotEmpty(t, data)
	require.NotEmpty(t, contentType)
}

func TestLookupMissingAsset(t *testing.T) {
	_, _, ok := Lookup("does-not-exist.bin")
	require.False(t, ok)
}
