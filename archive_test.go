package uxfs_test

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"

	"github.com/KarpelesLab/uxfs"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

func populate(t *testing.T, sb *uxfs.Superblock) {
	t.Helper()
	root, _ := sb.Root()
	d, err := root.Mkdir("docs", 0755, 0, 0)
	if err != nil {
		t.Fatalf("mkdir failed: %s", err)
	}
	f, err := d.Create("readme", 0644, 0, 0)
	if err != nil {
		t.Fatalf("create failed: %s", err)
	}
	if _, err = f.WriteAt([]byte("uxfs archive test\n"), 0); err != nil {
		t.Fatalf("write failed: %s", err)
	}
}

func readEntries(t *testing.T, r io.Reader) map[string]string {
	t.Helper()
	out := make(map[string]string)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("tar read failed: %s", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("tar content read failed: %s", err)
		}
		out[hdr.Name] = string(data)
	}
}

func checkArchive(t *testing.T, entries map[string]string) {
	t.Helper()
	if _, ok := entries["lost+found/"]; !ok {
		t.Errorf("archive is missing lost+found/: %v", entries)
	}
	if _, ok := entries["docs/"]; !ok {
		t.Errorf("archive is missing docs/: %v", entries)
	}
	if got := entries["docs/readme"]; got != "uxfs archive test\n" {
		t.Errorf("docs/readme content = %q", got)
	}
}

func TestWriteTarPlain(t *testing.T) {
	sb := newVolume(t)
	defer sb.Close()
	populate(t, sb)

	var buf bytes.Buffer
	if err := sb.WriteTar(&buf, uxfs.NoCompression); err != nil {
		t.Fatalf("export failed: %s", err)
	}
	checkArchive(t, readEntries(t, &buf))
}

func TestWriteTarZstd(t *testing.T) {
	sb := newVolume(t)
	defer sb.Close()
	populate(t, sb)

	var buf bytes.Buffer
	if err := sb.WriteTar(&buf, uxfs.Zstd); err != nil {
		t.Fatalf("export failed: %s", err)
	}
	zr, err := zstd.NewReader(&buf)
	if err != nil {
		t.Fatalf("zstd stream unreadable: %s", err)
	}
	defer zr.Close()
	checkArchive(t, readEntries(t, zr))
}

func TestWriteTarXz(t *testing.T) {
	sb := newVolume(t)
	defer sb.Close()
	populate(t, sb)

	var buf bytes.Buffer
	if err := sb.WriteTar(&buf, uxfs.Xz); err != nil {
		t.Fatalf("export failed: %s", err)
	}
	xr, err := xz.NewReader(&buf)
	if err != nil {
		t.Fatalf("xz stream unreadable: %s", err)
	}
	checkArchive(t, readEntries(t, xr))
}

func TestCompressionForPath(t *testing.T) {
	cases := map[string]uxfs.Compression{
		"backup.tar":     uxfs.NoCompression,
		"backup.tar.zst": uxfs.Zstd,
		"backup.tar.xz":  uxfs.Xz,
	}
	for path, want := range cases {
		if got := uxfs.CompressionForPath(path); got != want {
			t.Errorf("CompressionForPath(%q) = %s, want %s", path, got, want)
		}
	}
}
