package station

import "io"

// BlobStore provides access to the image and video files that collection
// entries reference. Names are bare filenames relative to dir.
type BlobStore interface {
	// Size returns the size of a file. The error wraps fs.ErrNotExist when
	// the file is missing.
	Size(dir, name string) (int64, error)

	// Open opens a file for reading.
	Open(dir, name string) (io.ReadCloser, error)

	// Copy copies srcDir/name to dstDir/name through a temporary file and
	// returns the number of bytes written.
	Copy(srcDir, dstDir, name string) (int64, error)

	// Remove deletes a file. The error wraps fs.ErrNotExist when the file
	// is already gone.
	Remove(dir, name string) error

	// List returns the regular files in dir that are not ignored.
	List(dir string) ([]string, error)

	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error

	// DirExists reports whether dir exists and is a directory.
	DirExists(dir string) (bool, error)
}
