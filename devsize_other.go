//go:build !linux

package uxfs

import (
	"io"
	"os"
)

// deviceSize returns the byte size of f. Without the Linux block-device
// ioctl we fall back to seeking to the end.
func deviceSize(f *os.File) (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if st.Mode()&os.ModeDevice == 0 {
		return st.Size(), nil
	}
	return f.Seek(0, io.SeekEnd)
}
