// Package mmapfile opens shard artifacts read-only, either memory-mapped
// or fully loaded into RAM.
package mmapfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a read-only view of a file's bytes.
type File struct {
	path   string
	data   []byte
	mapped bool
}

// Open maps the file at path. With loadToRAM the contents are read into
// memory instead, so queries never fault pages from disk.
func Open(path string, loadToRAM bool) (*File, error) {
	if loadToRAM {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return &File{path: path, data: data}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		return &File{path: path, data: []byte{}}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &File{path: path, data: data, mapped: true}, nil
}

// Bytes returns the file contents. The slice must not be modified and is
// invalid after Close.
func (f *File) Bytes() []byte { return f.data }

// Len returns the file size.
func (f *File) Len() int { return len(f.data) }

// Path returns the file path.
func (f *File) Path() string { return f.path }

// Mapped reports whether the file is memory-mapped.
func (f *File) Mapped() bool { return f.mapped }

// Advise passes an access pattern hint (e.g. unix.MADV_RANDOM) to the
// kernel. It is a no-op for files loaded into RAM.
func (f *File) Advise(advice int) error {
	if !f.mapped {
		return nil
	}
	return unix.Madvise(f.data, advice)
}

// Close unmaps the file.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	var err error
	if f.mapped {
		err = unix.Munmap(f.data)
	}
	f.data = nil
	return err
}
