package uxfs

import (
	"io/fs"
)

// Directory file contents are Dirent records packed DirsPerBlock per
// block. Removal leaves a tombstone (ino 0, empty name) so iteration
// offsets stay stable; blocks are never reclaimed while the directory
// lives.
//
// The lowercase helpers assume the caller holds the directory inode's
// mutex; the namespace operations take it so an existence check and the
// mutation behind it stay atomic.

// direntry implements fs.DirEntry for one live slot of a directory.
type direntry struct {
	name string
	ino  uint32
	sb   *Superblock
}

// findEntryLocked scans the directory for name and returns the inode
// number, or 0 when the name is not present.
func (i *Inode) findEntryLocked(name string) (uint32, error) {
	var de Dirent
	for blk := uint32(0); blk < i.raw.Blocks; blk++ {
		b, err := i.sb.dev.Read(i.raw.Addr[blk])
		if err != nil {
			return 0, err
		}
		data := b.Data()
		for n := 0; n < DirsPerBlock; n++ {
			if err = de.UnmarshalBinary(data[n*DirentSize:]); err != nil {
				b.Release()
				return 0, err
			}
			if de.Ino != 0 && de.name() == name {
				b.Release()
				return de.Ino, nil
			}
		}
		b.Release()
	}
	return 0, nil
}

// addEntryLocked writes a (name, ino) entry into the first free slot,
// extending the directory by one block when every slot is taken.
func (i *Inode) addEntryLocked(name string, ino uint32) error {
	if len(name) > NameLen-1 {
		return ErrNameTooLong
	}

	ent := Dirent{Ino: ino}
	ent.setName(name)
	data, err := ent.MarshalBinary()
	if err != nil {
		return err
	}

	var de Dirent
	for blk := uint32(0); blk < i.raw.Blocks; blk++ {
		b, err := i.sb.dev.GetWrite(i.raw.Addr[blk])
		if err != nil {
			return err
		}
		bdata := b.Data()
		for n := 0; n < DirsPerBlock; n++ {
			if err = de.UnmarshalBinary(bdata[n*DirentSize:]); err != nil {
				b.Release()
				return err
			}
			if de.Ino != 0 {
				continue
			}
			copy(bdata[n*DirentSize:], data)
			b.MarkDirty()
			b.Release()
			return i.writeBack()
		}
		b.Release()
	}

	// no free slot: grow the directory by one block
	if i.raw.Blocks >= DirectBlocks {
		return ErrNoSpace
	}
	blk, err := i.sb.balloc()
	if err != nil {
		return err
	}
	b, err := i.sb.dev.GetZero(blk)
	if err != nil {
		i.sb.bfree(blk)
		return err
	}
	copy(b.Data(), data)
	b.MarkDirty()
	b.Release()

	i.raw.Addr[i.raw.Blocks] = blk
	i.raw.Blocks++
	i.raw.Size += BlockSize
	return i.writeBack()
}

// delEntryLocked tombstones the entry for name. The parent link count is
// not touched here; rmdir adjusts it for directory children.
func (i *Inode) delEntryLocked(name string) error {
	var de Dirent
	for blk := uint32(0); blk < i.raw.Blocks; blk++ {
		b, err := i.sb.dev.GetWrite(i.raw.Addr[blk])
		if err != nil {
			return err
		}
		data := b.Data()
		for n := 0; n < DirsPerBlock; n++ {
			if err = de.UnmarshalBinary(data[n*DirentSize:]); err != nil {
				b.Release()
				return err
			}
			if de.Ino == 0 || de.name() != name {
				continue
			}
			de.Ino = 0
			de.setName("")
			ed, err := de.MarshalBinary()
			if err != nil {
				b.Release()
				return err
			}
			copy(data[n*DirentSize:], ed)
			b.MarkDirty()
			b.Release()
			return nil
		}
		b.Release()
	}
	return fs.ErrNotExist
}

// readEntriesLocked returns the live entries in slot order.
func (i *Inode) readEntriesLocked() ([]Dirent, error) {
	var out []Dirent
	var de Dirent
	for blk := uint32(0); blk < i.raw.Blocks; blk++ {
		b, err := i.sb.dev.Read(i.raw.Addr[blk])
		if err != nil {
			return nil, err
		}
		data := b.Data()
		for n := 0; n < DirsPerBlock; n++ {
			if err = de.UnmarshalBinary(data[n*DirentSize:]); err != nil {
				b.Release()
				return nil, err
			}
			if de.Ino != 0 {
				out = append(out, de)
			}
		}
		b.Release()
	}
	return out, nil
}

// emptyLocked reports whether the directory holds nothing but "." and "..".
func (i *Inode) emptyLocked() (bool, error) {
	ents, err := i.readEntriesLocked()
	if err != nil {
		return false, err
	}
	for _, de := range ents {
		if n := de.name(); n != "." && n != ".." {
			return false, nil
		}
	}
	return true, nil
}

// Entries lists the directory as fs.DirEntry values, "." and ".."
// included, in slot order.
func (i *Inode) Entries() ([]fs.DirEntry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.raw.IsDir() {
		return nil, ErrNotDirectory
	}
	ents, err := i.readEntriesLocked()
	if err != nil {
		return nil, err
	}
	out := make([]fs.DirEntry, 0, len(ents))
	for _, de := range ents {
		out = append(out, &direntry{name: de.name(), ino: de.Ino, sb: i.sb})
	}
	return out, nil
}

func (de *direntry) Name() string {
	return de.name
}

func (de *direntry) IsDir() bool {
	in, err := de.sb.GetInode(de.ino)
	if err != nil {
		return false
	}
	return in.IsDir()
}

func (de *direntry) Type() fs.FileMode {
	in, err := de.sb.GetInode(de.ino)
	if err != nil {
		return fs.ModeIrregular
	}
	return UnixToMode(in.Raw().Mode).Type()
}

func (de *direntry) Info() (fs.FileInfo, error) {
	in, err := de.sb.GetInode(de.ino)
	if err != nil {
		return nil, err
	}
	return &fileinfo{name: de.name, ino: in}, nil
}
