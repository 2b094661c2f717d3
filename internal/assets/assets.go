// Package assets embeds the built-in browser UI files served by the
// versioned asset endpoint (C13).
package assets

import (
	"embed"
	"mime"
	"path/filepath"
)

//go:embed static/index.js static/index.css static/favicon.ico
var files embed.FS

// Lookup reads a built-in asset by name, returning its bytes and a
// content type derived from its extension.
func Lookup(name string) (data []byte, contentType string, ok bool) {
	data, err := files.ReadFile("static/" + name)
	if err != nil {
		return nil, "", false
	}
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return data, ct, true
}
