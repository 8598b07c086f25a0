package uxfs

import (
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// File is a convenience object allowing using a file inode as if it was a regular file
type File struct {
	*io.SectionReader
	ino  *Inode
	name string
}

// FileDir is a convenience object allowing using a dir inode as if it was a regular file
type FileDir struct {
	ino  *Inode
	name string
	ents []fs.DirEntry
	pos  int
}

type fileinfo struct {
	ino  *Inode
	name string
}

// Ensure File respects fs.File & others
var _ fs.File = (*File)(nil)
var _ io.ReaderAt = (*File)(nil)

var _ fs.ReadDirFile = (*FileDir)(nil)

var _ fs.FileInfo = (*fileinfo)(nil)

var _ fs.FS = (*Superblock)(nil)
var _ fs.StatFS = (*Superblock)(nil)

// FindInode walks path from the root directory and returns the inode it
// names. The path is /-separated and relative to the root; "." names the
// root itself.
func (sb *Superblock) FindInode(name string) (*Inode, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	cur, err := sb.Root()
	if err != nil {
		return nil, err
	}
	if name == "." {
		return cur, nil
	}
	for _, part := range strings.Split(name, "/") {
		cur, err = cur.Lookup(part)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// Open returns a fs.File for the named path. Directories implement
// fs.ReadDirFile, regular files io.Seeker and io.ReaderAt.
func (sb *Superblock) Open(name string) (fs.File, error) {
	ino, err := sb.FindInode(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return ino.OpenFile(name), nil
}

// Stat implements fs.StatFS.
func (sb *Superblock) Stat(name string) (fs.FileInfo, error) {
	ino, err := sb.FindInode(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return &fileinfo{name: path.Base(name), ino: ino}, nil
}

// ReadDir implements fs.ReadDirFS; entries come back sorted by name as
// the interface demands, not in slot order.
func (sb *Superblock) ReadDir(name string) ([]fs.DirEntry, error) {
	ino, err := sb.FindInode(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	ents, err := ino.Entries()
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	out := make([]fs.DirEntry, 0, len(ents))
	for _, e := range ents {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name() < out[b].Name() })
	return out, nil
}

// OpenFile returns a fs.File for a given inode.
func (ino *Inode) OpenFile(name string) fs.File {
	if ino.IsDir() {
		return &FileDir{ino: ino, name: name}
	}
	sec := io.NewSectionReader(ino, 0, ino.Size())
	return &File{SectionReader: sec, ino: ino, name: name}
}

// (File)

// Stat returns the details of the open file
func (f *File) Stat() (fs.FileInfo, error) {
	return &fileinfo{name: path.Base(f.name), ino: f.ino}, nil
}

// Sys returns the *Inode object for this file
func (f *File) Sys() any {
	return f.ino
}

// Close actually does nothing and exists to comply with fs.File
func (f *File) Close() error {
	return nil
}

// (FileDir)

// Read on a directory is invalid and will always fail
func (d *FileDir) Read(p []byte) (int, error) {
	return 0, fs.ErrInvalid
}

// Stat returns details on the file
func (d *FileDir) Stat() (fs.FileInfo, error) {
	return &fileinfo{name: path.Base(d.name), ino: d.ino}, nil
}

// Sys returns the *Inode object for this directory
func (d *FileDir) Sys() any {
	return d.ino
}

// Close resets the dir reader
func (d *FileDir) Close() error {
	d.ents = nil
	d.pos = 0
	return nil
}

func (d *FileDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.ents == nil {
		ents, err := d.ino.Entries()
		if err != nil {
			return nil, err
		}
		d.ents = make([]fs.DirEntry, 0, len(ents))
		for _, e := range ents {
			if e.Name() == "." || e.Name() == ".." {
				continue
			}
			d.ents = append(d.ents, e)
		}
		d.pos = 0
	}

	rest := d.ents[d.pos:]
	if n <= 0 {
		d.pos = len(d.ents)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.pos += n
	return rest[:n], nil
}

// (fileinfo)

// Name returns the file's base name
func (fi *fileinfo) Name() string {
	return fi.name
}

// Size returns the file's size
func (fi *fileinfo) Size() int64 {
	return fi.ino.Size()
}

// Mode returns the file's mode
func (fi *fileinfo) Mode() fs.FileMode {
	return UnixToMode(fi.ino.Raw().Mode)
}

// ModTime returns the file's modification time. The on-disk field is a
// 32-bit count of Unix seconds.
func (fi *fileinfo) ModTime() time.Time {
	return fi.ino.ModTime()
}

// IsDir returns true if this is a directory
func (fi *fileinfo) IsDir() bool {
	return fi.ino.IsDir()
}

// Sys returns the *Inode object matching this file
func (fi *fileinfo) Sys() any {
	return fi.ino
}
