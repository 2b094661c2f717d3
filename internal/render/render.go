// Package render builds the JSON payloads the browser UI consumes for
// directory index and file edit/view pages, and fills them into the
// HTML shell template (C12).
package render

import (
	"encoding/base64"
	"encoding/json"
	"html/template"
	"strings"

	"github.com/localshare/localshare/internal/listing"
)

// Kind discriminates the three page payload shapes.
type Kind string

const (
	KindIndex Kind = "Index"
	KindEdit  Kind = "Edit"
	KindView  Kind = "View"
)

// pathItemJSON mirrors spec.md §3's PathItem wire shape.
type pathItemJSON struct {
	PathType    string `json:"path_type"`
	Name        string `json:"name"`
	MtimeMS     int64  `json:"mtime"`
	SizeOrCount int64  `json:"size"`
}

func toPathItems(items []listing.Item) []pathItemJSON {
	out := make([]pathItemJSON, len(items))
	for i, it := range items {
		out[i] = pathItemJSON{
			PathType:    it.PathType.String(),
			Name:        it.Name,
			MtimeMS:     it.MtimeMS,
			SizeOrCount: it.SizeOrCount,
		}
	}
	return out
}

// IndexPayload is the JSON object serialized for a directory page.
type IndexPayload struct {
	Kind         Kind           `json:"kind"`
	Href         string         `json:"href"`
	URIPrefix    string         `json:"uri_prefix"`
	AllowUpload  bool           `json:"allow_upload"`
	AllowDelete  bool           `json:"allow_delete"`
	AllowSearch  bool           `json:"allow_search"`
	AllowArchive bool           `json:"allow_archive"`
	DirExists    bool           `json:"dir_exists"`
	Auth         bool           `json:"auth"`
	User         string         `json:"user"`
	Paths        []pathItemJSON `json:"paths"`
}

// NewIndexPayload builds the directory-listing payload.
func NewIndexPayload(href, uriPrefix string, allowUpload, allowDelete, allowSearch, allowArchive, dirExists, auth bool, user string, items []listing.Item) IndexPayload {
	return IndexPayload{
		Kind:         KindIndex,
		Href:         href,
		URIPrefix:    uriPrefix,
		AllowUpload:  allowUpload,
		AllowDelete:  allowDelete,
		AllowSearch:  allowSearch,
		AllowArchive: allowArchive,
		DirExists:    dirExists,
		Auth:         auth,
		User:         user,
		Paths:        toPathItems(items),
	}
}

// EditPayload is the JSON object for a single-file edit/view page.
type EditPayload struct {
	Kind      Kind   `json:"kind"`
	Href      string `json:"href"`
	URIPrefix string `json:"uri_prefix"`
	Auth      bool   `json:"auth"`
	User      string `json:"user"`
	Editable  bool   `json:"editable"`
}

// MaxEditableSize is the size ceiling for the in-browser editor
// (spec.md §4.13).
const MaxEditableSize = 4 << 20

// NewEditPayload builds the file-view/edit payload. kind must be
// KindEdit or KindView; editable requires both a size within
// MaxEditableSize and content sniffed as text.
func NewEditPayload(kind Kind, href, uriPrefix string, auth bool, user string, size int64, isText bool) EditPayload {
	return EditPayload{
		Kind:      kind,
		Href:      href,
		URIPrefix: uriPrefix,
		Auth:      auth,
		User:      user,
		Editable:  kind == KindEdit && size <= MaxEditableSize && isText,
	}
}

const shellTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Index</title>
<link rel="stylesheet" href="__ASSETS_PREFIX__index.css">
</head>
<body>
<div id="app"></div>
<template id="index-data">__INDEX_DATA__</template>
<script src="__ASSETS_PREFIX__index.js"></script>
</body>
</html>
`

// Page renders the HTML shell with payload base64-encoded into the
// index-data template element, and the two asset placeholders filled
// with assetsPrefix.
func Page(assetsPrefix string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	out := strings.ReplaceAll(shellTemplate, "__ASSETS_PREFIX__", template.HTMLEscapeString(assetsPrefix))
	out = strings.ReplaceAll(out, "__INDEX_DATA__", encoded)
	return out, nil
}
