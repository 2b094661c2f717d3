// Package config holds the immutable, process-wide configuration
// record the core consumes (spec.md §3/§6). Parsing it from argv or a
// config file is an external collaborator's job; this package only
// defines the record and the small grammars the core itself must
// understand (the access-rule mini-language lives in package access).
package config

import (
	"github.com/localshare/localshare/internal/access"
)

// Compression selects the ZIP entry compression method for the
// archive streamer (C7).
type Compression int

const (
	CompressionNone Compression = iota
	CompressionLow
	CompressionMedium
	CompressionHigh
)

// Features toggles the optional capabilities spec.md §3 lists.
type Features struct {
	AllowUpload     bool
	AllowDelete     bool
	AllowSearch     bool
	AllowSymlink    bool
	AllowArchive    bool
	EnableCORS      bool
	RenderIndex     bool
	RenderTryIndex  bool
	RenderSPA       bool
}

// Config is the immutable configuration record built at startup and
// shared read-only thereafter.
type Config struct {
	// ServeRoot is the absolute, canonical serve path.
	ServeRoot string
	// PathIsFile is true when ServeRoot names a single file rather
	// than a directory (single-file mode, spec.md §4.1).
	PathIsFile bool
	// URIPrefix is "" or a prefix like "p" ("/p/...").
	URIPrefix string
	// HidePatterns is the ordered sequence of glob patterns applied
	// to listings, search, and archive walks (C11).
	HidePatterns []string
	// Access is the built access-control tree (C2).
	Access *access.Control
	// Compress selects the ZIP compression level (C7).
	Compress Compression
	Features Features
	// AssetsOverrideDir, if set, serves built-in assets from disk
	// instead of the embedded table (C13).
	AssetsOverrideDir string
	// LogFormatTemplate drives the access logger (C14).
	LogFormatTemplate string
	// Version is embedded in the "__dufs_v{version}__" asset prefix.
	Version string
}

// New builds a Config from already-parsed fields. Loading flags,
// environment variables, or a config file into these fields is out
// of this module's scope (spec.md §1 Non-goals).
func New(serveRoot string, pathIsFile bool, uriPrefix string, hidePatterns []string, acc *access.Control, compress Compression, features Features, assetsOverrideDir, logFormatTemplate, version string) *Config {
	return &Config{
		ServeRoot:         serveRoot,
		PathIsFile:        pathIsFile,
		URIPrefix:         uriPrefix,
		HidePatterns:      hidePatterns,
		Access:            acc,
		Compress:          compress,
		Features:          features,
		AssetsOverrideDir: assetsOverrideDir,
		LogFormatTemplate: logFormatTemplate,
		Version:           version,
	}
}
