package uxfs

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Inode is the in-core inode. It carries a copy of the on-disk record; that
// copy is the source of truth for Addr and Blocks until writeBack pushes it
// into the buffer cache.
type Inode struct {
	// refcnt is first value to get guaranteed 64bits alignment, if not sync/atomic will panic
	refcnt uint64 // open handles on this inode

	sb  *Superblock
	Num uint32

	mu  sync.Mutex // serializes mutations of the payload and, for directories, the entries
	raw RawInode
}

// GetInode materializes the in-core inode for slot ino, reading it from
// the inode table on first use.
func (sb *Superblock) GetInode(ino uint32) (*Inode, error) {
	if ino < RootIno || ino >= MaxFiles {
		log.Printf("uxfs: bad inode number %d", ino)
		return nil, ErrBadInode
	}

	sb.imu.Lock()
	defer sb.imu.Unlock()
	if in, ok := sb.ino[ino]; ok {
		return in, nil
	}

	b, err := sb.dev.Read(InodeBlock + ino)
	if err != nil {
		return nil, err
	}
	in := &Inode{sb: sb, Num: ino}
	err = in.raw.UnmarshalBinary(b.Data())
	b.Release()
	if err != nil {
		return nil, err
	}

	sb.ino[ino] = in
	return in, nil
}

// Raw returns a copy of the on-disk payload.
func (i *Inode) Raw() RawInode {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.raw
}

// writeBack serializes the embedded payload into the inode's table block.
// The data reaches the device on the next flush.
func (i *Inode) writeBack() error {
	if i.Num < RootIno || i.Num >= MaxFiles {
		return ErrBadInode
	}
	b, err := i.sb.dev.GetWrite(InodeBlock + i.Num)
	if err != nil {
		return err
	}
	defer b.Release()

	data, err := i.raw.MarshalBinary()
	if err != nil {
		return err
	}
	copy(b.Data(), data)
	b.MarkDirty()
	return nil
}

// AddRef pins the inode for an open handle.
func (i *Inode) AddRef() uint64 {
	return atomic.AddUint64(&i.refcnt, 1)
}

// DelRef drops an open-handle pin. When the last handle on an orphan
// (nlink 0) goes away the inode is deleted for good.
func (i *Inode) DelRef() uint64 {
	n := atomic.AddUint64(&i.refcnt, ^uint64(0))
	if n == 0 {
		i.maybeDelete()
	}
	return n
}

// maybeDelete frees the inode's data blocks and its table slot once it is
// an orphan with no remaining handles.
func (i *Inode) maybeDelete() {
	i.mu.Lock()
	orphan := i.raw.Nlink == 0
	i.mu.Unlock()
	if !orphan || atomic.LoadUint64(&i.refcnt) != 0 {
		return
	}
	i.sb.deleteInode(i)
}

// deleteInode releases everything the inode owns: all allocated data
// blocks, then the inode slot, then the in-core copy.
func (sb *Superblock) deleteInode(i *Inode) {
	i.mu.Lock()
	sb.mu.Lock()
	for n := uint32(0); n < i.raw.Blocks; n++ {
		if i.raw.Addr[n] != 0 {
			sb.bfreeLocked(i.raw.Addr[n])
			i.raw.Addr[n] = 0
		}
	}
	i.raw.Blocks = 0
	sb.Inodes[i.Num] = slotFree
	sb.Nifree++
	sb.flushSuper()
	sb.mu.Unlock()
	i.mu.Unlock()

	sb.imu.Lock()
	delete(sb.ino, i.Num)
	sb.imu.Unlock()
}

// blockMap translates logical block iblk of the file to an absolute device
// block, allocating when create is set. Allocation fills any hole below
// iblk too, so addr[0..blocks) always names in-use blocks.
func (i *Inode) blockMap(iblk uint32, create bool) (uint32, error) {
	if iblk >= DirectBlocks {
		return 0, ErrFileTooBig
	}
	if i.raw.Addr[iblk] == 0 && create {
		for n := uint32(0); n <= iblk; n++ {
			if i.raw.Addr[n] != 0 {
				continue
			}
			blk, err := i.sb.balloc()
			if err != nil {
				return 0, err
			}
			// fresh blocks must read as zeroes
			b, err := i.sb.dev.GetZero(blk)
			if err != nil {
				return 0, err
			}
			b.MarkDirty()
			b.Release()
			i.raw.Addr[n] = blk
		}
		if iblk >= i.raw.Blocks {
			i.raw.Blocks = iblk + 1
		}
	}
	return i.raw.Addr[iblk], nil
}

// Size returns the current byte size.
func (i *Inode) Size() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return int64(i.raw.Size)
}

// ModTime returns the modification time.
func (i *Inode) ModTime() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return time.Unix(int64(i.raw.Mtime), 0)
}

// IsDir reports whether this is a directory inode.
func (i *Inode) IsDir() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.raw.IsDir()
}

// ReadAt reads file data through the block map. Unallocated blocks inside
// the file read as zeroes.
func (i *Inode) ReadAt(p []byte, off int64) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.raw.IsDir() {
		return 0, ErrIsDirectory
	}
	size := int64(i.raw.Size)
	if off < 0 || off >= size {
		return 0, io.EOF
	}
	short := false
	if off+int64(len(p)) > size {
		p = p[:size-off]
		short = true
	}

	n := 0
	for len(p) > 0 {
		iblk := uint32(off / BlockSize)
		boff := int(off % BlockSize)

		blk := i.raw.Addr[iblk]
		if blk == 0 {
			// hole
			l := BlockSize - boff
			if l > len(p) {
				l = len(p)
			}
			for x := 0; x < l; x++ {
				p[x] = 0
			}
			n += l
			off += int64(l)
			p = p[l:]
			continue
		}

		b, err := i.sb.dev.Read(blk)
		if err != nil {
			return n, err
		}
		l := copy(p, b.Data()[boff:])
		b.Release()
		n += l
		off += int64(l)
		p = p[l:]
	}
	if short {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes file data through the block map, allocating direct blocks
// as needed and growing the size. Writing past the last direct block fails
// with ErrFileTooBig.
func (i *Inode) WriteAt(p []byte, off int64) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.raw.IsDir() {
		return 0, ErrIsDirectory
	}
	if i.sb.readonly {
		return 0, ErrReadOnly
	}
	if off < 0 || off+int64(len(p)) > MaxFileSize {
		return 0, ErrFileTooBig
	}

	n := 0
	for len(p) > 0 {
		iblk := uint32(off / BlockSize)
		boff := int(off % BlockSize)

		blk, err := i.blockMap(iblk, true)
		if err != nil {
			return n, err
		}
		b, err := i.sb.dev.GetWrite(blk)
		if err != nil {
			return n, err
		}
		l := copy(b.Data()[boff:], p)
		b.MarkDirty()
		b.Release()
		n += l
		off += int64(l)
		p = p[l:]
	}

	if uint32(off) > i.raw.Size {
		i.raw.Size = uint32(off)
	}
	now := uint32(time.Now().Unix())
	i.raw.Mtime = now
	i.raw.Ctime = now
	if err := i.writeBack(); err != nil {
		return n, err
	}
	return n, nil
}

// Truncate resizes the file. Shrinking frees the direct blocks past the
// new size; growing only moves the size, later reads see zeroes.
func (i *Inode) Truncate(size int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.raw.IsDir() {
		return ErrIsDirectory
	}
	if i.sb.readonly {
		return ErrReadOnly
	}
	if size < 0 || size > MaxFileSize {
		return ErrFileTooBig
	}

	if size < int64(i.raw.Size) && size%BlockSize != 0 {
		// clear the tail of the new last block so a later grow reads zeroes
		if blk := i.raw.Addr[size/BlockSize]; blk != 0 {
			b, err := i.sb.dev.GetWrite(blk)
			if err != nil {
				return err
			}
			data := b.Data()
			for x := size % BlockSize; x < BlockSize; x++ {
				data[x] = 0
			}
			b.MarkDirty()
			b.Release()
		}
	}

	keep := uint32((size + BlockSize - 1) / BlockSize)
	if keep < i.raw.Blocks {
		i.sb.mu.Lock()
		for n := keep; n < i.raw.Blocks; n++ {
			if i.raw.Addr[n] != 0 {
				i.sb.bfreeLocked(i.raw.Addr[n])
				i.raw.Addr[n] = 0
			}
		}
		i.sb.flushSuper()
		i.sb.mu.Unlock()
		i.raw.Blocks = keep
	}
	i.raw.Size = uint32(size)
	now := uint32(time.Now().Unix())
	i.raw.Mtime = now
	i.raw.Ctime = now
	return i.writeBack()
}
