package uxfs

import (
	"io/fs"
	"time"
)

// Namespace operations. All of them take the parent directory inode and a
// name, serialize on the parent's mutex, and keep the superblock bitmaps,
// the inode payloads and the directory entries moving together. When a
// later step fails the earlier allocations are undone, so a failed create
// or mkdir leaves the namespace unchanged.

// Lookup resolves name inside the directory.
func (i *Inode) Lookup(name string) (*Inode, error) {
	if len(name) > NameLen-1 {
		return nil, ErrNameTooLong
	}

	i.mu.Lock()
	if !i.raw.IsDir() {
		i.mu.Unlock()
		return nil, ErrNotDirectory
	}
	if name == "." {
		i.mu.Unlock()
		return i, nil
	}
	ino, err := i.findEntryLocked(name)
	i.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if ino == 0 {
		return nil, fs.ErrNotExist
	}
	return i.sb.GetInode(ino)
}

// Create makes a regular file called name in the directory. The group is
// inherited from the parent when its setgid bit is set.
func (i *Inode) Create(name string, mode uint32, uid, gid uint32) (*Inode, error) {
	if i.sb.readonly {
		return nil, ErrReadOnly
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.raw.IsDir() {
		return nil, ErrNotDirectory
	}
	if ino, err := i.findEntryLocked(name); err != nil {
		return nil, err
	} else if ino != 0 {
		return nil, ErrExist
	}

	inum, err := i.sb.ialloc()
	if err != nil {
		return nil, err
	}
	if err = i.addEntryLocked(name, inum); err != nil {
		i.sb.ifree(inum)
		return nil, err
	}

	if i.raw.Mode&S_ISGID != 0 {
		gid = i.raw.Gid
	}
	now := uint32(time.Now().Unix())
	in := &Inode{sb: i.sb, Num: inum, raw: RawInode{
		Mode:  (mode &^ S_IFMT) | S_IFREG,
		Nlink: 1,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Uid:   uid,
		Gid:   gid,
	}}
	if err = in.writeBack(); err != nil {
		i.delEntryLocked(name)
		i.sb.ifree(inum)
		return nil, err
	}

	i.sb.imu.Lock()
	i.sb.ino[inum] = in
	i.sb.imu.Unlock()
	return in, nil
}

// Mkdir makes a directory called name, with "." and ".." already in
// place, and gives the parent the extra link for the child's "..".
func (i *Inode) Mkdir(name string, mode uint32, uid, gid uint32) (*Inode, error) {
	if i.sb.readonly {
		return nil, ErrReadOnly
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.raw.IsDir() {
		return nil, ErrNotDirectory
	}
	if ino, err := i.findEntryLocked(name); err != nil {
		return nil, err
	} else if ino != 0 {
		return nil, ErrExist
	}

	inum, err := i.sb.ialloc()
	if err != nil {
		return nil, err
	}
	blk, err := i.sb.balloc()
	if err != nil {
		i.sb.ifree(inum)
		return nil, err
	}
	if err = i.addEntryLocked(name, inum); err != nil {
		i.sb.bfree(blk)
		i.sb.ifree(inum)
		return nil, err
	}

	// first directory block: "." and ".."
	b, err := i.sb.dev.GetZero(blk)
	if err != nil {
		i.delEntryLocked(name)
		i.sb.bfree(blk)
		i.sb.ifree(inum)
		return nil, err
	}
	dot := Dirent{Ino: inum}
	dot.setName(".")
	data, _ := dot.MarshalBinary()
	copy(b.Data(), data)
	dot = Dirent{Ino: i.Num}
	dot.setName("..")
	data, _ = dot.MarshalBinary()
	copy(b.Data()[DirentSize:], data)
	b.MarkDirty()
	b.Release()

	if i.raw.Mode&S_ISGID != 0 {
		gid = i.raw.Gid
	}
	now := uint32(time.Now().Unix())
	in := &Inode{sb: i.sb, Num: inum, raw: RawInode{
		Mode:   (mode &^ S_IFMT) | S_IFDIR,
		Nlink:  2,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Uid:    uid,
		Gid:    gid,
		Size:   BlockSize,
		Blocks: 1,
	}}
	in.raw.Addr[0] = blk
	if err = in.writeBack(); err != nil {
		i.delEntryLocked(name)
		i.sb.bfree(blk)
		i.sb.ifree(inum)
		return nil, err
	}

	// the child's ".." is a new link on the parent
	i.raw.Nlink++
	if err = i.writeBack(); err != nil {
		return nil, err
	}

	i.sb.imu.Lock()
	i.sb.ino[inum] = in
	i.sb.imu.Unlock()
	return in, nil
}

// Rmdir removes the directory called name. The target must hold nothing
// but "." and "..": its entries are enumerated rather than trusting the
// nlink>2 shortcut, which cannot see regular files.
func (i *Inode) Rmdir(name string) error {
	if i.sb.readonly {
		return ErrReadOnly
	}
	if name == "." || name == ".." {
		return ErrNotEmpty
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.raw.IsDir() {
		return ErrNotDirectory
	}
	inum, err := i.findEntryLocked(name)
	if err != nil {
		return err
	}
	if inum == 0 {
		return ErrNotDirectory
	}
	target, err := i.sb.GetInode(inum)
	if err != nil {
		return err
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if !target.raw.IsDir() {
		return ErrNotDirectory
	}
	if target.raw.Nlink > 2 {
		return ErrNotEmpty
	}
	empty, err := target.emptyLocked()
	if err != nil {
		return err
	}
	if !empty {
		return ErrNotEmpty
	}

	if err = i.delEntryLocked(name); err != nil {
		return err
	}
	// the child's ".." no longer references the parent
	i.raw.Nlink--
	if err = i.writeBack(); err != nil {
		return err
	}

	// free the target's blocks and its inode slot
	target.raw.Nlink = 0
	i.sb.mu.Lock()
	for n := uint32(0); n < target.raw.Blocks; n++ {
		if target.raw.Addr[n] != 0 {
			i.sb.bfreeLocked(target.raw.Addr[n])
			target.raw.Addr[n] = 0
		}
	}
	target.raw.Blocks = 0
	i.sb.Inodes[target.Num] = slotFree
	i.sb.Nifree++
	i.sb.flushSuper()
	i.sb.mu.Unlock()

	i.sb.imu.Lock()
	delete(i.sb.ino, target.Num)
	i.sb.imu.Unlock()
	return nil
}

// Link adds name as another hard link to target.
func (i *Inode) Link(target *Inode, name string) error {
	if i.sb.readonly {
		return ErrReadOnly
	}

	if target.IsDir() {
		return ErrIsDirectory
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.raw.IsDir() {
		return ErrNotDirectory
	}
	if ino, err := i.findEntryLocked(name); err != nil {
		return err
	} else if ino != 0 {
		return ErrExist
	}

	if err := i.addEntryLocked(name, target.Num); err != nil {
		return err
	}

	target.mu.Lock()
	target.raw.Nlink++
	target.raw.Ctime = uint32(time.Now().Unix())
	err := target.writeBack()
	target.mu.Unlock()
	return err
}

// Unlink removes the name. When the last link goes and nothing holds the
// file open the inode and its blocks are freed; an open orphan survives
// until its final handle is released.
func (i *Inode) Unlink(name string) error {
	if i.sb.readonly {
		return ErrReadOnly
	}

	i.mu.Lock()
	if !i.raw.IsDir() {
		i.mu.Unlock()
		return ErrNotDirectory
	}
	inum, err := i.findEntryLocked(name)
	if err != nil {
		i.mu.Unlock()
		return err
	}
	if inum == 0 {
		i.mu.Unlock()
		return fs.ErrNotExist
	}
	target, err := i.sb.GetInode(inum)
	if err != nil {
		i.mu.Unlock()
		return err
	}
	if target == i || target.IsDir() {
		i.mu.Unlock()
		return ErrIsDirectory
	}
	if err = i.delEntryLocked(name); err != nil {
		i.mu.Unlock()
		return err
	}
	i.mu.Unlock()

	target.mu.Lock()
	target.raw.Nlink--
	target.raw.Ctime = uint32(time.Now().Unix())
	err = target.writeBack()
	target.mu.Unlock()
	if err != nil {
		return err
	}

	target.maybeDelete()
	return nil
}
