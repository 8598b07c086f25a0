package uxfs

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// BlockIO is what a device must provide: random-access reads and writes in
// whole 512-byte blocks. *os.File satisfies it, as does any in-memory
// stand-in used by tests.
type BlockIO interface {
	io.ReaderAt
	io.WriterAt
}

// Device wraps a block device with a write-back buffer cache. Blocks are
// borrowed as *Buffer handles; every acquire must be matched by a Release
// on every exit path. Dirty buffers reach the device on Flush, which the
// superblock calls on fsync and unmount.
//
// The cache holds every block ever touched. A full volume is
// TotalBlocks*BlockSize = 255KiB, so there is no eviction.
type Device struct {
	f      BlockIO
	closer io.Closer // set when we opened the file ourselves

	mu   sync.Mutex
	bufs map[uint32]*Buffer
}

// Buffer is a scoped borrow of one block from the cache.
type Buffer struct {
	dev   *Device
	blk   uint32
	data  []byte
	dirty bool
	refs  int
}

// NewDevice wraps an already-open block device or image.
func NewDevice(f BlockIO) *Device {
	return &Device{f: f, bufs: make(map[uint32]*Buffer)}
}

// OpenDevice opens the named device or image file read-write.
func OpenDevice(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	d := NewDevice(f)
	d.closer = f
	return d, nil
}

func (d *Device) get(blk uint32, load bool) (*Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b, ok := d.bufs[blk]; ok {
		b.refs++
		return b, nil
	}

	b := &Buffer{dev: d, blk: blk, data: make([]byte, BlockSize), refs: 1}
	if load {
		if _, err := d.f.ReadAt(b.data, int64(blk)*BlockSize); err != nil {
			return nil, fmt.Errorf("uxfs: read block %d: %w", blk, err)
		}
	}
	d.bufs[blk] = b
	return b, nil
}

// Read borrows block blk for reading.
func (d *Device) Read(blk uint32) (*Buffer, error) {
	return d.get(blk, true)
}

// GetWrite borrows block blk for modification. The caller must MarkDirty
// after changing the data.
func (d *Device) GetWrite(blk uint32) (*Buffer, error) {
	return d.get(blk, true)
}

// GetZero borrows block blk without reading it from the device and with its
// contents zeroed, for blocks that are about to be fully rewritten.
func (d *Device) GetZero(blk uint32) (*Buffer, error) {
	b, err := d.get(blk, false)
	if err != nil {
		return nil, err
	}
	for i := range b.data {
		b.data[i] = 0
	}
	return b, nil
}

// Data returns the 512-byte view of the block.
func (b *Buffer) Data() []byte {
	return b.data
}

// MarkDirty schedules the buffer for write-back on the next Flush.
func (b *Buffer) MarkDirty() {
	b.dev.mu.Lock()
	b.dirty = true
	b.dev.mu.Unlock()
}

// Release returns the borrow. The block stays cached; dirty data reaches
// the device on Flush.
func (b *Buffer) Release() {
	b.dev.mu.Lock()
	b.refs--
	b.dev.mu.Unlock()
}

// Flush writes every dirty buffer back to the device.
func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for blk, b := range d.bufs {
		if !b.dirty {
			continue
		}
		if _, err := d.f.WriteAt(b.data, int64(blk)*BlockSize); err != nil {
			return fmt.Errorf("uxfs: write block %d: %w", blk, err)
		}
		b.dirty = false
	}
	if f, ok := d.f.(*os.File); ok {
		return f.Sync()
	}
	return nil
}

// Close flushes and, when the device was opened by OpenDevice, closes the
// underlying file.
func (d *Device) Close() error {
	err := d.Flush()
	if d.closer != nil {
		if cerr := d.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
