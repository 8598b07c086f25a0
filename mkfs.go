package uxfs

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/renameio"
)

// Mkfs writes a fresh volume image to w: a clean superblock, the root and
// lost+found directories, and everything else zeroed. The image occupies
// TotalBlocks blocks (255 KiB).
func Mkfs(w io.WriterAt) error {
	return mkfsAt(w, time.Now())
}

func mkfsAt(w io.WriterAt, now time.Time) error {
	zero := make([]byte, BlockSize)
	for blk := int64(0); blk < TotalBlocks; blk++ {
		if _, err := w.WriteAt(zero, blk*BlockSize); err != nil {
			return fmt.Errorf("uxfs: mkfs: zero block %d: %w", blk, err)
		}
	}

	sb := Superblock{
		Magic:  Magic,
		Mod:    StateClean,
		Nifree: MaxFiles - 4,
		Nbfree: MaxBlocks - 2,
	}
	// inodes 0 and 1 are unused sentinels, 2 is the root directory and 3
	// is lost+found; their directory blocks sit in bitmap slots 0 and 1
	for i := 0; i < 4; i++ {
		sb.Inodes[i] = slotInuse
	}
	sb.Blocks[0] = slotInuse
	sb.Blocks[1] = slotInuse

	data, err := sb.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err = w.WriteAt(data, 0); err != nil {
		return err
	}

	tm := uint32(now.Unix())
	root := RawInode{
		Mode:   S_IFDIR | 0755,
		Nlink:  3, // ".", ".." and "lost+found"
		Atime:  tm,
		Mtime:  tm,
		Ctime:  tm,
		Size:   BlockSize,
		Blocks: 1,
	}
	root.Addr[0] = FirstDataBlock
	if err = writeInodeAt(w, RootIno, &root); err != nil {
		return err
	}

	lf := RawInode{
		Mode:   S_IFDIR | 0755,
		Nlink:  2, // "." and ".."
		Atime:  tm,
		Mtime:  tm,
		Ctime:  tm,
		Size:   BlockSize,
		Blocks: 1,
	}
	lf.Addr[0] = FirstDataBlock + 1
	if err = writeInodeAt(w, LostFoundIno, &lf); err != nil {
		return err
	}

	if err = writeDirBlockAt(w, FirstDataBlock, []Dirent{
		mkDirent(".", RootIno),
		mkDirent("..", RootIno),
		mkDirent("lost+found", LostFoundIno),
	}); err != nil {
		return err
	}
	return writeDirBlockAt(w, FirstDataBlock+1, []Dirent{
		mkDirent(".", LostFoundIno),
		mkDirent("..", RootIno),
	})
}

func mkDirent(name string, ino uint32) Dirent {
	de := Dirent{Ino: ino}
	de.setName(name)
	return de
}

func writeInodeAt(w io.WriterAt, ino uint32, ri *RawInode) error {
	data, err := ri.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.WriteAt(data, int64(InodeBlock+ino)*BlockSize)
	return err
}

func writeDirBlockAt(w io.WriterAt, blk uint32, ents []Dirent) error {
	buf := make([]byte, BlockSize)
	for n, de := range ents {
		data, err := de.MarshalBinary()
		if err != nil {
			return err
		}
		copy(buf[n*DirentSize:], data)
	}
	_, err := w.WriteAt(buf, int64(blk)*BlockSize)
	return err
}

// MkfsPath formats the named target. A block device is written in place
// after checking it is big enough; a regular image file is built in a
// temporary file and moved into place atomically, so a half-written image
// never carries the magic.
func MkfsPath(path string) error {
	st, err := os.Stat(path)
	if err == nil && st.Mode()&os.ModeDevice != 0 {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		defer f.Close()

		size, err := deviceSize(f)
		if err != nil {
			return err
		}
		if size < TotalBlocks*BlockSize {
			return fmt.Errorf("uxfs: mkfs: device %s holds %d bytes, need %d", path, size, TotalBlocks*BlockSize)
		}
		if err = Mkfs(f); err != nil {
			return err
		}
		return f.Sync()
	}

	t, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	if err = Mkfs(t); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
