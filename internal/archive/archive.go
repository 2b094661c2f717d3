// Package archive streams an on-the-fly ZIP of a filesystem subtree
// (C7), selecting a compression method per spec.md §3/§4.7.
package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/localshare/localshare/internal/access"
	"github.com/localshare/localshare/internal/config"
	"github.com/localshare/localshare/internal/hidden"
	"github.com/localshare/localshare/internal/listing"
	"github.com/ulikunitz/xz/lzma"
	"golang.org/x/sync/errgroup"
)

// Method IDs for the two compressors this package registers beyond
// the two archive/zip already knows (Store=0, Deflate=8).
const (
	methodBzip2 = 12
	methodLZMA  = 14
)

func init() {
	zip.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})
	zip.RegisterCompressor(methodBzip2, func(w io.Writer) (io.WriteCloser, error) {
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	})
	zip.RegisterCompressor(methodLZMA, func(w io.Writer) (io.WriteCloser, error) {
		return lzma.NewWriter(w)
	})
	zip.RegisterDecompressor(methodBzip2, func(r io.Reader) io.ReadCloser {
		rc, err := bzip2.NewReader(r, nil)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return rc
	})
	zip.RegisterDecompressor(methodLZMA, func(r io.Reader) io.ReadCloser {
		rc, err := lzma.NewReader(r)
		if err != nil {
			return io.NopCloser(errReader{err})
		}
		return io.NopCloser(rc)
	})
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func methodFor(c config.Compression) uint16 {
	switch c {
	case config.CompressionNone:
		return zip.Store
	case config.CompressionLow:
		return zip.Deflate
	case config.CompressionMedium:
		return methodBzip2
	case config.CompressionHigh:
		return methodLZMA
	default:
		return zip.Deflate
	}
}

// Deps bundles what the streamer needs from the rest of the engine.
type Deps struct {
	Compress     config.Compression
	AllowSymlink bool
	Hidden       []hidden.Pattern
	Running      func() bool
	RootContained func(string) bool
}

// Stream walks fsRoot/relRoot (filtered the same way listing is),
// writing a ZIP to w. It is driven by a bounded pipe internally so
// that backpressure from w propagates to the walker.
func Stream(ctx context.Context, w io.Writer, fsRoot, relRoot string, tree *access.Tree, d Deps) error {
	method := methodFor(d.Compress)

	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zw := zip.NewWriter(pw)
		err := walkAndZip(gctx, zw, fsRoot, relRoot, tree, d, method)
		closeErr := zw.Close()
		if err == nil {
			err = closeErr
		}
		return pw.CloseWithError(err)
	})

	g.Go(func() error {
		_, err := io.Copy(w, pr)
		return err
	})

	return g.Wait()
}

func walkAndZip(ctx context.Context, zw *zip.Writer, fsRoot, relRoot string, tree *access.Tree, d Deps, method uint16) error {
	ld := listing.Deps{AllowSymlink: d.AllowSymlink, Hidden: d.Hidden, Running: d.Running}
	items, err := listing.Enumerate(fsRoot, relRoot, tree, ld, d.RootContained)
	if err != nil {
		return err
	}
	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.Running != nil && !d.Running() {
			return nil
		}
		childFS := filepath.Join(fsRoot, item.Name)
		if item.IsDir() {
			if err := addDirEntry(zw, item, method); err != nil {
				return err
			}
			if err := walkAndZip(ctx, zw, childFS, item.RelPath, tree, d, method); err != nil {
				return err
			}
			continue
		}
		if err := addFileEntry(zw, childFS, item, method); err != nil {
			return err
		}
	}
	return nil
}

func addDirEntry(zw *zip.Writer, item listing.Item, method uint16) error {
	hdr := &zip.FileHeader{
		Name:     item.RelPath + "/",
		Method:   zip.Store,
		Modified: time.UnixMilli(item.MtimeMS),
	}
	hdr.SetMode(os.ModeDir | 0o755)
	_, err := zw.CreateHeader(hdr)
	return err
}

func addFileEntry(zw *zip.Writer, fsPath string, item listing.Item, method uint16) error {
	f, err := os.Open(fsPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	hdr := &zip.FileHeader{
		Name:     item.RelPath,
		Method:   method,
		Modified: info.ModTime(),
	}
	mode := info.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	hdr.SetMode(mode)

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
