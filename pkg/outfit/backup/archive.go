package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"

	"github.com/jamesainslie/outfit/pkg/outfit/errs"
	"github.com/jamesainslie/outfit/pkg/outfit/fsutil"
)

// writeArchive streams entries from root into a compressed tarball at dest.
func writeArchive(ctx context.Context, root, dest string, format Format, entries []entry) error {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fsutil.FileMode)
	if err != nil {
		return errs.IO("create", dest, err)
	}

	zw, err := compressor(out, format)
	if err != nil {
		_ = out.Close()
		return err
	}
	tw := tar.NewWriter(zw)

	writeErr := writeEntries(ctx, tw, root, entries)
	if err := tw.Close(); err != nil && writeErr == nil {
		writeErr = errs.IO("write", dest, err)
	}
	if err := zw.Close(); err != nil && writeErr == nil {
		writeErr = errs.IO("write", dest, err)
	}
	if err := out.Close(); err != nil && writeErr == nil {
		writeErr = errs.IO("close", dest, err)
	}
	return writeErr
}

func compressor(w io.Writer, format Format) (io.WriteCloser, error) {
	switch format {
	case FormatTarGz:
		return pgzip.NewWriter(w), nil
	case FormatTarXz:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating xz writer: %w", err)
		}
		return xw, nil
	default:
		return nil, fmt.Errorf("%w: %q is not an archive format", ErrUnknownFormat, format)
	}
}

func writeEntries(ctx context.Context, tw *tar.Writer, root string, entries []entry) error {
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		full := filepath.Join(root, filepath.FromSlash(e.rel))
		info, err := os.Lstat(full)
		if err != nil {
			return errs.IO("stat", full, err)
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("tar header for %s: %w", e.rel, err)
		}
		hdr.Name = e.rel
		if e.dir {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		hdr.ModTime = info.ModTime().UTC().Truncate(time.Second)

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing header for %s: %w", e.rel, err)
		}
		if e.dir {
			continue
		}
		if err := copyInto(tw, full); err != nil {
			return err
		}
	}
	return nil
}

func copyInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.IO("open", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return errs.IO("read", path, err)
	}
	return nil
}

// countArchive returns the number of regular files in a snapshot tarball.
func countArchive(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errs.IO("open", path, err)
	}
	defer f.Close()

	r, closeFn, err := decompressor(f, formatOf(path))
	if err != nil {
		return 0, err
	}
	defer closeFn()

	tr := tar.NewReader(r)
	n := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("reading %s: %w", path, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			n++
		}
	}
}

func decompressor(r io.Reader, format Format) (io.Reader, func(), error) {
	switch format {
	case FormatTarGz:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	case FormatTarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return xr, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q is not an archive format", ErrUnknownFormat, format)
	}
}
