//go:build linux

package uxfs

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// deviceSize returns the usable byte size of f. For block devices the size
// comes from the BLKGETSIZE64 ioctl; stat reports zero for those.
func deviceSize(f *os.File) (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if st.Mode()&os.ModeDevice == 0 {
		return st.Size(), nil
	}

	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}
