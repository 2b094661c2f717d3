package render

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localshare/localshare/internal/listing"
)

func TestNewIndexPayloadCarriesItems(t *testing.T) {
	items := []listing.Item{
		{PathType: listing.TypeFile, Name: "a.txt", MtimeMS: 1000, SizeOrCount: 5},
	}
	p := NewIndexPayload("/docs/", "", true, false, true, true, true, true, "alice", items)

	require.Equal(t, KindIndex, p.Kind)
	require.Len(t, p.Paths, 1)
	require.Equal(t, "a.txt", p.Paths[0].Name)
}

func TestNewEditPayloadEditableWithinLimit(t *testing.T) {
	p := NewEditPayload(KindEdit, "/doc.txt", "", true, "alice", 1024, true)
	require.True(t, p.Editable)
}

func TestNewEditPayloadNotEditableWhenTooLarge(t *testing.T) {
	p := NewEditPayload(KindEdit, "/doc.txt", "", true, "alice", MaxEditableSize+1, true)
	require.False(t, p.Editable)
}

func TestNewEditPayloadViewIsNeverEditable(t *testing.T) {
	p := NewEditPayload(KindView, "/doc.txt", "", true, "alice", 10, true)
	require.False(t, p.Editable, "KindView should never be editable")
}

func TestPageEmbedsBase64Payload(t *testing.T) {
	payload := NewIndexPayload("/", "", true, true, true, true, true, false, "", nil)
	html, err := Page("/__dufs_v1__/", payload)
	require.NoError(t, err)
	require.Contains(t, html, "/__dufs_v1__/index.js")

	start := strings.Index(html, `<template id="index-data">`) + len(`<template id="index-data">`)
	end := strings.Index(html, "</template>")
	encoded := html[start:end]

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	var decoded IndexPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, KindIndex, decoded.Kind)
}
