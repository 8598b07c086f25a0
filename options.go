package uxfs

type Option func(sb *Superblock) error

// ReadOnly mounts the volume without marking it dirty; all mutating
// operations fail with ErrReadOnly.
func ReadOnly() Option {
	return func(sb *Superblock) error {
		sb.readonly = true
		return nil
	}
}

// NoValidate skips the clean/dirty check on mount. The inspector uses this
// to look at volumes that would otherwise demand an fsck run.
func NoValidate() Option {
	return func(sb *Superblock) error {
		sb.novalidate = true
		return nil
	}
}
