package uxfs

import "log"

// The allocator is a pair of linear scans over the superblock bitmaps. At
// MaxFiles=32 and MaxBlocks=460 nothing smarter pays for itself. All four
// operations run under the superblock mutex so a bitmap flip and its free
// counter always move together.

// ialloc allocates a free inode slot and returns its number. Slots 0 and 1
// are unused sentinels, 2 is the root and 3 is lost+found; the scan starts
// at slot 3.
func (sb *Superblock) ialloc() (uint32, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.Nifree == 0 {
		log.Printf("uxfs: out of inodes")
		return 0, ErrNoSpace
	}
	for i := uint32(3); i < MaxFiles; i++ {
		if sb.Inodes[i] == slotFree {
			sb.Inodes[i] = slotInuse
			sb.Nifree--
			sb.flushSuper()
			return i, nil
		}
	}
	log.Printf("uxfs: ialloc: free count %d but no free slot", sb.Nifree)
	return 0, ErrNoSpace
}

// ifree releases inode slot ino. Freeing an already-free slot corrupts the
// free count; callers guarantee the slot is in use.
func (sb *Superblock) ifree(ino uint32) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.Inodes[ino] = slotFree
	sb.Nifree++
	sb.flushSuper()
}

// balloc allocates a free data block and returns its absolute block
// number. Bitmap slot 0 holds the root directory's first block and slot 1
// lost+found's, so the scan starts at 1.
func (sb *Superblock) balloc() (uint32, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.Nbfree == 0 {
		log.Printf("uxfs: out of space")
		return 0, ErrNoSpace
	}
	for i := uint32(1); i < MaxBlocks; i++ {
		if sb.Blocks[i] == slotFree {
			sb.Blocks[i] = slotInuse
			sb.Nbfree--
			sb.flushSuper()
			return FirstDataBlock + i, nil
		}
	}
	log.Printf("uxfs: balloc: free count %d but no free slot", sb.Nbfree)
	return 0, ErrNoSpace
}

// bfree releases the data block with absolute number blk.
func (sb *Superblock) bfree(blk uint32) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.bfreeLocked(blk)
	sb.flushSuper()
}

func (sb *Superblock) bfreeLocked(blk uint32) {
	sb.Blocks[blk-FirstDataBlock] = slotFree
	sb.Nbfree++
}
