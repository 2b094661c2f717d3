// Package pathresolve translates a request URI path into a sanitized
// relative path plus a filesystem path confined to the serve root (C1).
package pathresolve

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrBadPath is returned for any URI path that fails decoding,
// prefix-matching, or segment sanitization.
var ErrBadPath = errors.New("pathresolve: invalid request path")

// Resolved is the outcome of resolving a request path.
type Resolved struct {
	// RelPath is the sanitized, "/"-joined relative path with no
	// leading or trailing slash ("" for the serve root itself).
	RelPath string
	// FSPath is RelPath joined onto the serve root.
	FSPath string
}

var windowsDriveLetter = func(seg string) bool {
	return len(seg) == 2 && seg[1] == ':' &&
		((seg[0] >= 'A' && seg[0] <= 'Z') || (seg[0] >= 'a' && seg[0] <= 'z'))
}

// Resolve implements spec.md §4.1 steps 1-6. uriPrefix is "" or a
// leading-and-trailing-slash-free prefix like "p" for a configured
// "/p/" mount point.
func Resolve(requestPath, uriPrefix, serveRoot string) (Resolved, error) {
	decoded, err := url.PathUnescape(requestPath)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %v", ErrBadPath, err)
	}
	if !isValidUTF8Path(decoded) {
		return Resolved{}, ErrBadPath
	}

	trimmed := strings.Trim(decoded, "/")

	if uriPrefix != "" {
		prefix := strings.Trim(uriPrefix, "/")
		switch {
		case trimmed == prefix:
			trimmed = ""
		case strings.HasPrefix(trimmed, prefix+"/"):
			trimmed = trimmed[len(prefix)+1:]
		default:
			return Resolved{}, ErrBadPath
		}
	}

	var segs []string
	if trimmed != "" {
		segs = strings.Split(trimmed, "/")
	}

	clean := make([]string, 0, len(segs))
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." {
			return Resolved{}, ErrBadPath
		}
		if strings.Contains(seg, "/") || strings.Contains(seg, "\\") {
			return Resolved{}, ErrBadPath
		}
		if runtime.GOOS == "windows" && windowsDriveLetter(seg) {
			return Resolved{}, ErrBadPath
		}
		clean = append(clean, seg)
	}

	rel := strings.Join(clean, "/")
	fsPath := filepath.Join(append([]string{serveRoot}, clean...)...)

	return Resolved{RelPath: rel, FSPath: fsPath}, nil
}

func isValidUTF8Path(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}

// ResolveSingleFile implements the single-file-mode acceptance rule:
// only "/<prefix>", "/<prefix>/", and "/<prefix>/<basename>" resolve.
func ResolveSingleFile(requestPath, uriPrefix, basename string) (matchesRoot bool, matchesFile bool, ok bool) {
	decoded, err := url.PathUnescape(requestPath)
	if err != nil {
		return false, false, false
	}
	trimmed := strings.Trim(decoded, "/")
	prefix := strings.Trim(uriPrefix, "/")
	if prefix != "" {
		if trimmed == prefix {
			return true, false, true
		}
		if trimmed == prefix+"/"+basename {
			return false, true, true
		}
		return false, false, false
	}
	if trimmed == "" {
		return true, false, true
	}
	if trimmed == basename {
		return false, true, true
	}
	return false, false, false
}
