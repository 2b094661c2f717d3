// Package sniff classifies file content as text or binary and guesses
// a MIME type (and, for text, a charset) per spec.md §4.11.
package sniff

import (
	"bytes"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// SniffLen is how much of a file's content is inspected.
const SniffLen = 1024

// Result is the outcome of sniffing a file's content.
type Result struct {
	// ContentType is the full value for the Content-Type header,
	// e.g. "text/plain; charset=utf-8" or "application/octet-stream".
	ContentType string
	// IsText is true when the byte-distribution heuristic judged the
	// sample as text.
	IsText bool
}

// Detect reads up to SniffLen bytes from r and classifies them,
// falling back to an extension-based guess for binary content.
func Detect(r io.Reader, name string) (Result, error) {
	buf := make([]byte, SniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Result{}, err
	}
	sample := buf[:n]

	if looksBinary(sample) {
		ct := extensionMIME(name, sample)
		return Result{ContentType: ct, IsText: false}, nil
	}

	enc, name2, certain := charset.DetermineEncoding(sample, "")
	textMIME := "text/plain"
	if certain && enc != nil && name2 != "" && !strings.EqualFold(name2, "utf-8") {
		return Result{ContentType: textMIME + "; charset=" + canonicalCharset(enc, name2), IsText: true}, nil
	}
	if certain {
		return Result{ContentType: textMIME + "; charset=utf-8", IsText: true}, nil
	}
	return Result{ContentType: textMIME, IsText: true}, nil
}

// canonicalCharset resolves the label x/net/html/charset guessed to
// the IANA name browsers expect in a Content-Type parameter, falling
// back to the guessed label itself when the encoding isn't in
// htmlindex's table.
func canonicalCharset(enc encoding.Encoding, guessed string) string {
	if name, err := htmlindex.Name(enc); err == nil && name != "" {
		return strings.ToLower(name)
	}
	return guessed
}

// looksBinary applies a simple byte-distribution heuristic: a NUL
// byte, or too high a proportion of non-printable control bytes,
// marks content as binary.
func looksBinary(sample []byte) bool {
	if bytes.IndexByte(sample, 0) >= 0 {
		return true
	}
	if len(sample) == 0 {
		return false
	}
	control := 0
	for _, b := range sample {
		if b < 0x09 || (b > 0x0d && b < 0x20 && b != 0x1b) {
			control++
		}
	}
	return float64(control)/float64(len(sample)) > 0.3
}

// extensionMIME guesses a MIME type from the file extension, falling
// back to mimetype's content-based detection over the already-read
// sample, and finally to the generic octet-stream type.
func extensionMIME(name string, sample []byte) string {
	ext := filepath.Ext(name)
	if ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	if mt := mimetype.Detect(sample); mt != nil && mt.String() != "" {
		return mt.String()
	}
	return "application/octet-stream"
}
