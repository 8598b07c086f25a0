package uxfs

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression selects how an exported archive is compressed.
type Compression uint16

const (
	NoCompression Compression = iota
	Zstd
	Xz
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Zstd:
		return "zstd"
	case Xz:
		return "xz"
	}
	return fmt.Sprintf("Compression(%d)", uint16(c))
}

// CompressionForPath picks a compression from the output file name.
func CompressionForPath(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".zst"):
		return Zstd
	case strings.HasSuffix(path, ".xz"):
		return Xz
	}
	return NoCompression
}

// compressor wraps w according to c. The returned WriteCloser must be
// closed before w.
func (c Compression) compressor(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case NoCompression:
		return nopWriteCloser{w}, nil
	case Zstd:
		return zstd.NewWriter(w)
	case Xz:
		return xz.NewWriter(w)
	}
	return nil, fmt.Errorf("uxfs: unsupported compression %s", c)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}

// WriteTar exports the whole volume tree as a tar stream on w, compressed
// according to c. Entry metadata (mode, owner, times) comes straight from
// the inodes.
func (sb *Superblock) WriteTar(w io.Writer, c Compression) error {
	cw, err := c.compressor(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	err = fs.WalkDir(sb, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		ino := info.Sys().(*Inode)
		raw := ino.Raw()

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = path
		if d.IsDir() {
			hdr.Name += "/"
			hdr.Size = 0
		}
		hdr.Uid = int(raw.Uid)
		hdr.Gid = int(raw.Gid)
		if err = tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := sb.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
	if err != nil {
		return err
	}
	if err = tw.Close(); err != nil {
		return err
	}
	return cw.Close()
}
