package uxfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"syscall"
	"time"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// The FUSE binding. Each kernel-visible node wraps one in-core inode; the
// node tree is built on demand by Lookup and torn down by the kernel's
// forgets. Open handles pin the inode so an unlinked-but-open file stays
// alive until its last Release.

type fuseNode struct {
	gofs.Inode
	ino *Inode
}

type fileHandle struct {
	ino *Inode
}

var _ gofs.NodeLookuper = (*fuseNode)(nil)
var _ gofs.NodeGetattrer = (*fuseNode)(nil)
var _ gofs.NodeSetattrer = (*fuseNode)(nil)
var _ gofs.NodeReaddirer = (*fuseNode)(nil)
var _ gofs.NodeCreater = (*fuseNode)(nil)
var _ gofs.NodeMkdirer = (*fuseNode)(nil)
var _ gofs.NodeRmdirer = (*fuseNode)(nil)
var _ gofs.NodeUnlinker = (*fuseNode)(nil)
var _ gofs.NodeLinker = (*fuseNode)(nil)
var _ gofs.NodeOpener = (*fuseNode)(nil)
var _ gofs.NodeReader = (*fuseNode)(nil)
var _ gofs.NodeWriter = (*fuseNode)(nil)
var _ gofs.NodeReleaser = (*fuseNode)(nil)
var _ gofs.NodeFsyncer = (*fuseNode)(nil)
var _ gofs.NodeStatfser = (*fuseNode)(nil)

// Mount serves the volume at mnt until the returned server is unmounted.
func Mount(mnt string, sb *Superblock, opts *gofs.Options) (*fuse.Server, error) {
	root, err := sb.Root()
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &gofs.Options{}
	}
	opts.MountOptions.FsName = "uxfs"
	opts.MountOptions.Name = "uxfs"
	return gofs.Mount(mnt, &fuseNode{ino: root}, opts)
}

// errno converts core errors into what the kernel expects.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, ErrExist):
		return syscall.EEXIST
	case errors.Is(err, ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, ErrFileTooBig):
		return syscall.EFBIG
	case errors.Is(err, ErrBadInode):
		return syscall.EIO
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, ErrInvalidVolume), errors.Is(err, ErrDirtyVolume):
		return syscall.EINVAL
	case errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	default:
		return gofs.ToErrno(err)
	}
}

// caller returns the requesting uid/gid, or root when the request does not
// carry one (e.g. when invoked outside a kernel request).
func caller(ctx context.Context) (uint32, uint32) {
	if c, ok := fuse.FromContext(ctx); ok {
		return c.Uid, c.Gid
	}
	return 0, 0
}

func (n *fuseNode) fillAttr(out *fuse.Attr) {
	raw := n.ino.Raw()
	out.Ino = uint64(n.ino.Num)
	out.Size = uint64(raw.Size)
	out.Blocks = uint64(raw.Blocks)
	out.Blksize = BlockSize
	out.Mode = raw.Mode
	out.Nlink = raw.Nlink
	out.Atime = uint64(raw.Atime)
	out.Mtime = uint64(raw.Mtime)
	out.Ctime = uint64(raw.Ctime)
	out.Owner = fuse.Owner{Uid: raw.Uid, Gid: raw.Gid}
}

func (n *fuseNode) child(ctx context.Context, in *Inode, out *fuse.EntryOut) *gofs.Inode {
	node := &fuseNode{ino: in}
	stable := gofs.StableAttr{Mode: in.Raw().Mode & S_IFMT, Ino: uint64(in.Num)}
	ch := n.NewInode(ctx, node, stable)
	node.fillAttr(&out.Attr)
	out.SetEntryTimeout(time.Second)
	out.SetAttrTimeout(time.Second)
	return ch
}

func (n *fuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	in, err := n.ino.Lookup(name)
	if err != nil {
		return nil, errno(err)
	}
	return n.child(ctx, in, out), 0
}

func (n *fuseNode) Getattr(ctx context.Context, f gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.fillAttr(&out.Attr)
	return 0
}

func (n *fuseNode) Setattr(ctx context.Context, f gofs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if n.ino.sb.readonly {
		return errno(ErrReadOnly)
	}
	if size, ok := in.GetSize(); ok {
		if err := n.ino.Truncate(int64(size)); err != nil {
			return errno(err)
		}
	}

	i := n.ino
	i.mu.Lock()
	if mode, ok := in.GetMode(); ok {
		i.raw.Mode = (i.raw.Mode & S_IFMT) | (mode &^ S_IFMT)
	}
	if uid, ok := in.GetUID(); ok {
		i.raw.Uid = uid
	}
	if gid, ok := in.GetGID(); ok {
		i.raw.Gid = gid
	}
	if atime, ok := in.GetATime(); ok {
		i.raw.Atime = uint32(atime.Unix())
	}
	if mtime, ok := in.GetMTime(); ok {
		i.raw.Mtime = uint32(mtime.Unix())
	}
	i.raw.Ctime = uint32(time.Now().Unix())
	err := i.writeBack()
	i.mu.Unlock()
	if err != nil {
		return errno(err)
	}

	n.fillAttr(&out.Attr)
	return 0
}

func (n *fuseNode) Readdir(ctx context.Context) (gofs.DirStream, syscall.Errno) {
	ents, err := n.ino.Entries()
	if err != nil {
		return nil, errno(err)
	}
	ds := &dirStream{}
	for _, de := range ents {
		ino := de.(*direntry).ino
		var mode uint32
		if in, err := n.ino.sb.GetInode(ino); err == nil {
			mode = in.Raw().Mode & S_IFMT
		}
		ds.ents = append(ds.ents, fuse.DirEntry{Name: de.Name(), Ino: uint64(ino), Mode: mode})
	}
	return ds, 0
}

type dirStream struct {
	ents []fuse.DirEntry
	idx  int
}

func (ds *dirStream) HasNext() bool {
	return ds.idx < len(ds.ents)
}

func (ds *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	de := ds.ents[ds.idx]
	ds.idx++
	return de, 0
}

func (ds *dirStream) Close() {}

func (n *fuseNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofs.Inode, gofs.FileHandle, uint32, syscall.Errno) {
	uid, gid := caller(ctx)
	in, err := n.ino.Create(name, mode, uid, gid)
	if err != nil {
		return nil, nil, 0, errno(err)
	}
	in.AddRef()
	return n.child(ctx, in, out), &fileHandle{ino: in}, 0, 0
}

func (n *fuseNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	uid, gid := caller(ctx)
	in, err := n.ino.Mkdir(name, mode, uid, gid)
	if err != nil {
		return nil, errno(err)
	}
	return n.child(ctx, in, out), 0
}

func (n *fuseNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errno(n.ino.Rmdir(name))
}

func (n *fuseNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errno(n.ino.Unlink(name))
}

func (n *fuseNode) Link(ctx context.Context, target gofs.InodeEmbedder, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	tn, ok := target.(*fuseNode)
	if !ok {
		return nil, syscall.EXDEV
	}
	if err := n.ino.Link(tn.ino, name); err != nil {
		return nil, errno(err)
	}
	return n.child(ctx, tn.ino, out), 0
}

func (n *fuseNode) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	if flags&syscall.O_TRUNC != 0 {
		if err := n.ino.Truncate(0); err != nil {
			return nil, 0, errno(err)
		}
	}
	n.ino.AddRef()
	return &fileHandle{ino: n.ino}, 0, 0
}

func (n *fuseNode) Read(ctx context.Context, f gofs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nr, err := n.ino.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:nr]), 0
}

func (n *fuseNode) Write(ctx context.Context, f gofs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	nw, err := n.ino.WriteAt(data, off)
	if err != nil {
		return uint32(nw), errno(err)
	}
	return uint32(nw), 0
}

func (n *fuseNode) Release(ctx context.Context, f gofs.FileHandle) syscall.Errno {
	if fh, ok := f.(*fileHandle); ok && fh.ino != nil {
		fh.ino.DelRef()
		fh.ino = nil
	}
	return 0
}

func (n *fuseNode) Fsync(ctx context.Context, f gofs.FileHandle, flags uint32) syscall.Errno {
	return errno(n.ino.sb.Sync())
}

func (n *fuseNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st := n.ino.sb.Statfs()
	out.Bsize = st.Bsize
	out.Blocks = uint64(st.TotalBlks)
	out.Bfree = uint64(st.FreeBlks)
	out.Bavail = uint64(st.AvailBlks)
	out.Files = uint64(st.TotalFiles)
	out.Ffree = uint64(st.FreeFiles)
	out.NameLen = st.NameMax
	return 0
}
