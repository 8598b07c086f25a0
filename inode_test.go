package uxfs_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/KarpelesLab/uxfs"
)

func TestReadWrite(t *testing.T) {
	m := newImage(t)
	sb := mountImage(t, m)
	root, _ := sb.Root()

	f, err := root.Create("data", 0644, 0, 0)
	if err != nil {
		t.Fatalf("create failed: %s", err)
	}

	msg := []byte("hello, block device")
	if n, err := f.WriteAt(msg, 0); err != nil || n != len(msg) {
		t.Fatalf("write returned (%d, %v)", n, err)
	}
	if raw := f.Raw(); raw.Size != uint32(len(msg)) || raw.Blocks != 1 {
		t.Errorf("after write size=%d blocks=%d, want %d/1", raw.Size, raw.Blocks, len(msg))
	}

	buf := make([]byte, len(msg))
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("read failed: %s", err)
	}
	if !bytes.Equal(buf, msg) {
		t.Errorf("read back %q, want %q", buf, msg)
	}

	// survive a remount
	if err := sb.Close(); err != nil {
		t.Fatalf("unmount failed: %s", err)
	}
	sb = mountImage(t, m)
	defer sb.Close()
	root, _ = sb.Root()
	f, err = root.Lookup("data")
	if err != nil {
		t.Fatalf("lookup after remount failed: %s", err)
	}
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("read after remount failed: %s", err)
	}
	if !bytes.Equal(buf, msg) {
		t.Errorf("read back %q after remount, want %q", buf, msg)
	}
}

func TestWriteSpansBlocks(t *testing.T) {
	sb := newVolume(t)
	defer sb.Close()
	root, _ := sb.Root()

	f, _ := root.Create("big", 0644, 0, 0)
	data := bytes.Repeat([]byte{0xa5}, 3*uxfs.BlockSize+17)
	if _, err := f.WriteAt(data, 0); err != nil {
		t.Fatalf("write failed: %s", err)
	}
	if raw := f.Raw(); raw.Blocks != 4 {
		t.Errorf("blocks = %d, want 4", raw.Blocks)
	}

	back := make([]byte, len(data))
	if _, err := f.ReadAt(back, 0); err != nil {
		t.Fatalf("read failed: %s", err)
	}
	if !bytes.Equal(back, data) {
		t.Errorf("multi-block data mismatch")
	}
	checkInvariants(t, sb)
}

func TestWriteMaxFile(t *testing.T) {
	sb := newVolume(t)
	defer sb.Close()
	root, _ := sb.Root()

	f, _ := root.Create("max", 0644, 0, 0)
	data := bytes.Repeat([]byte{1}, uxfs.MaxFileSize)
	if _, err := f.WriteAt(data, 0); err != nil {
		t.Fatalf("write of full file failed: %s", err)
	}
	if raw := f.Raw(); raw.Blocks != uxfs.DirectBlocks {
		t.Errorf("blocks = %d, want %d", raw.Blocks, uxfs.DirectBlocks)
	}

	// byte 8192 would need a 17th direct block
	if _, err := f.WriteAt([]byte{1}, uxfs.MaxFileSize); !errors.Is(err, uxfs.ErrFileTooBig) {
		t.Errorf("write past last direct block returned %v, want ErrFileTooBig", err)
	}
	checkInvariants(t, sb)
}

func TestSparseWriteReadsZeroes(t *testing.T) {
	sb := newVolume(t)
	defer sb.Close()
	root, _ := sb.Root()

	f, _ := root.Create("sparse", 0644, 0, 0)
	if _, err := f.WriteAt([]byte("end"), 2*uxfs.BlockSize); err != nil {
		t.Fatalf("write failed: %s", err)
	}

	buf := make([]byte, uxfs.BlockSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("read failed: %s", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d of skipped region = %d, want 0", i, b)
		}
	}
	checkInvariants(t, sb)
}

func TestTruncate(t *testing.T) {
	sb := newVolume(t)
	defer sb.Close()
	root, _ := sb.Root()

	f, _ := root.Create("t", 0644, 0, 0)
	data := bytes.Repeat([]byte{7}, 4*uxfs.BlockSize)
	if _, err := f.WriteAt(data, 0); err != nil {
		t.Fatalf("write failed: %s", err)
	}
	free := sb.Nbfree

	if err := f.Truncate(uxfs.BlockSize + 1); err != nil {
		t.Fatalf("truncate failed: %s", err)
	}
	raw := f.Raw()
	if raw.Size != uxfs.BlockSize+1 || raw.Blocks != 2 {
		t.Errorf("after truncate size=%d blocks=%d, want %d/2", raw.Size, raw.Blocks, uxfs.BlockSize+1)
	}
	if sb.Nbfree != free+2 {
		t.Errorf("nbfree = %d, want %d blocks reclaimed", sb.Nbfree, free+2)
	}

	if err := f.Truncate(0); err != nil {
		t.Fatalf("truncate to zero failed: %s", err)
	}
	if raw = f.Raw(); raw.Size != 0 || raw.Blocks != 0 {
		t.Errorf("after truncate to zero size=%d blocks=%d", raw.Size, raw.Blocks)
	}
	checkInvariants(t, sb)
}

func TestReadAtEOF(t *testing.T) {
	sb := newVolume(t)
	defer sb.Close()
	root, _ := sb.Root()

	f, _ := root.Create("small", 0644, 0, 0)
	if _, err := f.WriteAt([]byte("abc"), 0); err != nil {
		t.Fatalf("write failed: %s", err)
	}

	buf := make([]byte, 10)
	if _, err := f.ReadAt(buf, 3); err != io.EOF {
		t.Errorf("read at size returned %v, want io.EOF", err)
	}
	if n, err := f.ReadAt(buf, 1); err != io.EOF || n != 2 {
		t.Errorf("short read returned (%d, %v), want (2, EOF)", n, err)
	}
}

func TestBadInodeNumber(t *testing.T) {
	sb := newVolume(t)
	defer sb.Close()

	for _, ino := range []uint32{0, 1, uxfs.MaxFiles, 99} {
		if _, err := sb.GetInode(ino); !errors.Is(err, uxfs.ErrBadInode) {
			t.Errorf("GetInode(%d) returned %v, want ErrBadInode", ino, err)
		}
	}
}

func TestDirReadInvalid(t *testing.T) {
	sb := newVolume(t)
	defer sb.Close()
	root, _ := sb.Root()

	buf := make([]byte, 16)
	if _, err := root.ReadAt(buf, 0); !errors.Is(err, uxfs.ErrIsDirectory) {
		t.Errorf("ReadAt on a directory returned %v, want ErrIsDirectory", err)
	}
	f, _ := root.Create("f", 0644, 0, 0)
	if _, err := f.Entries(); !errors.Is(err, uxfs.ErrNotDirectory) {
		t.Errorf("Entries on a file returned %v, want ErrNotDirectory", err)
	}
}
