package uxfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
)

// Superblock is the in-core volume state: the parsed block-0 record, the
// device with its buffer cache, and the table of materialized inodes. The
// block-0 buffer stays pinned from mount to unmount; bitmap mutations
// update the parsed fields and are serialized back into the pinned buffer
// before every flush.
type Superblock struct {
	dev  *Device
	sbuf *Buffer // pinned block 0

	mu  sync.Mutex // guards the bitmaps and free counts
	imu sync.Mutex // guards the inode table
	ino map[uint32]*Inode

	readonly   bool
	novalidate bool

	Magic  uint32
	Mod    State
	Nifree uint32
	Inodes [MaxFiles]uint8 // per-inode allocation bitmap
	Nbfree uint32
	Blocks [MaxBlocks]uint8 // per-data-block allocation bitmap
}

// Open opens the named device or image and mounts the volume on it.
func Open(path string, opts ...Option) (*Superblock, error) {
	dev, err := OpenDevice(path)
	if err != nil {
		return nil, err
	}
	sb, err := New(dev, opts...)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return sb, nil
}

// New mounts the volume held on dev: reads and validates block 0, pins it,
// and marks the volume dirty until Close writes it back clean.
func New(dev *Device, opts ...Option) (*Superblock, error) {
	sb := &Superblock{dev: dev, ino: make(map[uint32]*Inode)}
	for _, opt := range opts {
		if err := opt(sb); err != nil {
			return nil, err
		}
	}

	b, err := dev.Read(0)
	if err != nil {
		return nil, err
	}
	if err = sb.UnmarshalBinary(b.Data()); err != nil {
		b.Release()
		return nil, err
	}
	if sb.Mod == StateDirty && !sb.novalidate {
		b.Release()
		return nil, ErrDirtyVolume
	}

	// The buffer stays pinned until Close.
	sb.sbuf = b

	if !sb.readonly {
		sb.Mod = StateDirty
		sb.flushSuper()
		if err = dev.Flush(); err != nil {
			b.Release()
			return nil, err
		}
	}
	return sb, nil
}

func (sb *Superblock) UnmarshalBinary(data []byte) error {
	if len(data) < superDiskSize {
		return ErrShortRecord
	}
	r := bytes.NewReader(data)

	var raw struct {
		Magic  uint32
		Mod    uint32
		Nifree uint32
		Inodes [MaxFiles]uint8
		Nbfree uint32
		Blocks [MaxBlocks]uint8
	}
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return err
	}
	if raw.Magic != Magic {
		return ErrInvalidVolume
	}

	sb.Magic = raw.Magic
	sb.Mod = State(raw.Mod)
	sb.Nifree = raw.Nifree
	sb.Inodes = raw.Inodes
	sb.Nbfree = raw.Nbfree
	sb.Blocks = raw.Blocks
	return nil
}

func (sb *Superblock) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, superDiskSize))
	raw := struct {
		Magic  uint32
		Mod    uint32
		Nifree uint32
		Inodes [MaxFiles]uint8
		Nbfree uint32
		Blocks [MaxBlocks]uint8
	}{sb.Magic, uint32(sb.Mod), sb.Nifree, sb.Inodes, sb.Nbfree, sb.Blocks}
	if err := binary.Write(buf, binary.LittleEndian, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// flushSuper serializes the in-core superblock into the pinned buffer and
// marks it dirty. Callers still need Device.Flush for it to reach disk.
func (sb *Superblock) flushSuper() {
	data, _ := sb.MarshalBinary() // cannot fail on a fixed-layout record
	copy(sb.sbuf.Data(), data)
	sb.sbuf.MarkDirty()
}

// Root returns the in-core inode of the root directory.
func (sb *Superblock) Root() (*Inode, error) {
	return sb.GetInode(RootIno)
}

// Sync writes all dirty in-core state (superblock, inodes, data buffers)
// back to the device.
func (sb *Superblock) Sync() error {
	sb.mu.Lock()
	sb.flushSuper()
	sb.mu.Unlock()
	return sb.dev.Flush()
}

// Close unmounts the volume: flushes everything, writes the superblock back
// clean, releases the pinned buffer and closes the device.
func (sb *Superblock) Close() error {
	sb.mu.Lock()
	if !sb.readonly {
		sb.Mod = StateClean
	}
	sb.flushSuper()
	sb.mu.Unlock()
	var err error
	if err = sb.dev.Flush(); err != nil {
		return err
	}
	sb.sbuf.Release()
	sb.sbuf = nil
	if err = sb.dev.Close(); err != nil {
		return err
	}
	log.Printf("uxfs: volume unmounted clean")
	return nil
}

// VolumeStat is what df sees: totals and free counts for blocks and
// inodes.
type VolumeStat struct {
	Type       uint32
	Bsize      uint32
	TotalBlks  uint32
	FreeBlks   uint32
	AvailBlks  uint32
	TotalFiles uint32
	FreeFiles  uint32
	NameMax    uint32
}

// Statfs reports the volume totals and free counts.
func (sb *Superblock) Statfs() VolumeStat {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return VolumeStat{
		Type:       sb.Magic,
		Bsize:      BlockSize,
		TotalBlks:  MaxBlocks,
		FreeBlks:   sb.Nbfree,
		AvailBlks:  sb.Nbfree,
		TotalFiles: MaxFiles,
		FreeFiles:  sb.Nifree,
		NameMax:    NameLen - 1,
	}
}

func (sb *Superblock) String() string {
	return fmt.Sprintf("uxfs volume (%s, %d/%d inodes free, %d/%d blocks free)",
		sb.Mod, sb.Nifree, MaxFiles, sb.Nbfree, MaxBlocks)
}
