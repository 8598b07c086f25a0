package uxfs_test

import (
	"io"
	"testing"

	"github.com/KarpelesLab/uxfs"
)

// memDevice implements uxfs.BlockIO over a byte slice, standing in for a
// real block device. It can also simulate read errors for testing error
// handling.
type memDevice struct {
	data   []byte
	errAt  int64
	errMsg error
}

func newMemDevice() *memDevice {
	return &memDevice{data: make([]byte, uxfs.TotalBlocks*uxfs.BlockSize)}
}

func (m *memDevice) ReadAt(p []byte, off int64) (int, error) {
	if m.errMsg != nil && off >= m.errAt {
		return 0, m.errMsg
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (m *memDevice) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(m.data)) {
		return 0, io.ErrShortWrite
	}
	return copy(m.data[off:], p), nil
}

// newImage formats a fresh in-memory volume.
func newImage(t *testing.T) *memDevice {
	t.Helper()
	m := newMemDevice()
	if err := uxfs.Mkfs(m); err != nil {
		t.Fatalf("mkfs failed: %s", err)
	}
	return m
}

// mountImage mounts a volume over m.
func mountImage(t *testing.T, m *memDevice, opts ...uxfs.Option) *uxfs.Superblock {
	t.Helper()
	sb, err := uxfs.New(uxfs.NewDevice(m), opts...)
	if err != nil {
		t.Fatalf("mount failed: %s", err)
	}
	return sb
}

// newVolume formats and mounts a fresh volume in one go.
func newVolume(t *testing.T) *uxfs.Superblock {
	t.Helper()
	return mountImage(t, newImage(t))
}

// checkInvariants verifies the cross-structure invariants that every
// operation sequence must preserve: free counts match the bitmaps, block
// pointers of live inodes name in-use blocks, directories are well formed
// and entries point at in-use inodes.
func checkInvariants(t *testing.T, sb *uxfs.Superblock) {
	t.Helper()

	var nifree, nbfree uint32
	for _, v := range sb.Inodes {
		if v == 0 {
			nifree++
		}
	}
	for _, v := range sb.Blocks {
		if v == 0 {
			nbfree++
		}
	}
	if sb.Nifree != nifree {
		t.Errorf("nifree=%d but bitmap has %d free slots", sb.Nifree, nifree)
	}
	if sb.Nbfree != nbfree {
		t.Errorf("nbfree=%d but bitmap has %d free slots", sb.Nbfree, nbfree)
	}

	for ino := uint32(uxfs.RootIno); ino < uxfs.MaxFiles; ino++ {
		if sb.Inodes[ino] == 0 {
			continue
		}
		in, err := sb.GetInode(ino)
		if err != nil {
			t.Errorf("inode %d marked in use but unreadable: %s", ino, err)
			continue
		}
		raw := in.Raw()
		for j := uint32(0); j < raw.Blocks; j++ {
			blk := raw.Addr[j]
			if blk < uxfs.FirstDataBlock || blk >= uxfs.TotalBlocks {
				t.Errorf("inode %d addr[%d]=%d out of data area", ino, j, blk)
				continue
			}
			if sb.Blocks[blk-uxfs.FirstDataBlock] == 0 {
				t.Errorf("inode %d addr[%d]=%d not marked in use", ino, j, blk)
			}
		}
		if raw.IsDir() {
			checkDirInvariants(t, sb, ino, in)
		}
	}
}

func checkDirInvariants(t *testing.T, sb *uxfs.Superblock, ino uint32, in *uxfs.Inode) {
	t.Helper()

	raw := in.Raw()
	if raw.Size%uxfs.BlockSize != 0 || raw.Size != raw.Blocks*uxfs.BlockSize {
		t.Errorf("directory %d: size %d does not match %d blocks", ino, raw.Size, raw.Blocks)
	}

	ents, err := in.Entries()
	if err != nil {
		t.Errorf("directory %d unreadable: %s", ino, err)
		return
	}
	seen := make(map[string]bool)
	var dot, dotdot bool
	for _, de := range ents {
		name := de.Name()
		if seen[name] {
			t.Errorf("directory %d: duplicate entry %q", ino, name)
		}
		seen[name] = true

		info, err := de.Info()
		if err != nil {
			t.Errorf("directory %d: entry %q: %s", ino, name, err)
			continue
		}
		child := info.Sys().(*uxfs.Inode)
		if sb.Inodes[child.Num] == 0 {
			t.Errorf("directory %d: entry %q points at free inode %d", ino, name, child.Num)
		}
		switch name {
		case ".":
			dot = true
			if child.Num != ino {
				t.Errorf("directory %d: '.' resolves to %d", ino, child.Num)
			}
		case "..":
			dotdot = true
		}
	}
	if !dot || !dotdot {
		t.Errorf("directory %d: missing '.' or '..'", ino)
	}
}
