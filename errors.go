package uxfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrInvalidVolume is returned when block 0 of the device does not carry
	// the uxfs magic
	ErrInvalidVolume = errors.New("invalid volume, uxfs magic not found")

	// ErrDirtyVolume is returned when mounting a volume whose last unmount
	// was not orderly
	ErrDirtyVolume = errors.New("filesystem is not clean, run fsck")

	// ErrNoSpace is returned when the volume runs out of free inodes, free
	// data blocks, or directory slots
	ErrNoSpace = errors.New("no space left on volume")

	// ErrExist is returned when creating a name that is already present in
	// the parent directory
	ErrExist = errors.New("file exists")

	// ErrNotDirectory is returned when a directory operation targets
	// something that is not a directory
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory is returned when a file operation targets a directory
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotEmpty is returned when removing a directory that still has live
	// entries besides "." and ".."
	ErrNotEmpty = errors.New("directory not empty")

	// ErrNameTooLong is returned for names longer than NameLen-1 bytes
	ErrNameTooLong = errors.New("name too long")

	// ErrFileTooBig is returned when a write would need a block past the
	// last direct block
	ErrFileTooBig = errors.New("file exceeds direct blocks")

	// ErrBadInode is returned for inode numbers outside the inode table
	ErrBadInode = errors.New("bad inode number")

	// ErrShortRecord is returned when decoding an on-disk record from a
	// buffer that is too small
	ErrShortRecord = errors.New("short on-disk record")

	// ErrReadOnly is returned for mutations on a volume mounted read-only
	ErrReadOnly = errors.New("read-only volume")
)
