package backend

import "os"

// File is a lower device backed by a regular file or block special file,
// the common case for an operator pointing the replication engine at a
// real disk partition instead of a RAM-backed scratch device.
type File struct {
	f    *os.File
	size int64
}

// NewFile opens path and wraps it as a Backend. If the file is smaller
// than size, it is grown (sparse) to size; a size of 0 uses the file's
// current length.
func NewFile(path string, size int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if size == 0 {
		size = info.Size()
	} else if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	}

	return &File{f: f, size: size}, nil
}

func (b *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := b.f.ReadAt(p, off)
	if n > 0 {
		err = nil
	}
	return n, err
}

func (b *File) WriteAt(p []byte, off int64) (int, error) {
	return b.f.WriteAt(p, off)
}

func (b *File) Size() int64 { return b.size }

func (b *File) Close() error { return b.f.Close() }

func (b *File) Flush() error { return b.f.Sync() }

func (b *File) Sync() error { return b.f.Sync() }

func (b *File) SyncRange(offset, length int64) error { return b.f.Sync() }

func (b *File) Discard(offset, length int64) error {
	zeros := make([]byte, 64*1024)
	remaining := length
	off := offset
	for remaining > 0 {
		n := int64(len(zeros))
		if n > remaining {
			n = remaining
		}
		if _, err := b.f.WriteAt(zeros[:n], off); err != nil {
			return err
		}
		off += n
		remaining -= n
	}
	return nil
}

func (b *File) WriteZeroes(offset, length int64) error {
	return b.Discard(offset, length)
}

func (b *File) Resize(newSize int64) error {
	if err := b.f.Truncate(newSize); err != nil {
		return err
	}
	b.size = newSize
	return nil
}

func (b *File) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type": "file",
		"size": b.size,
		"path": b.f.Name(),
	}
}

var (
	_ Backend            = (*File)(nil)
	_ DiscardBackend     = (*File)(nil)
	_ WriteZeroesBackend = (*File)(nil)
	_ SyncBackend        = (*File)(nil)
	_ StatBackend        = (*File)(nil)
	_ ResizeBackend      = (*File)(nil)
)
