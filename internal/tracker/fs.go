package tracker

import (
	"io"
	"os"
)

// File is the random-access read handle a Tracker owns
type File interface {
	io.ReaderAt
	io.Closer
	Stat() (os.FileInfo, error)
}

// FS provides the file system primitives a Tracker needs.
// Stat must return an error satisfying errors.Is(err, fs.ErrNotExist) for
// missing paths.
type FS interface {
	Stat(name string) (os.FileInfo, error)
	Open(name string) (File, error)
}

// OS returns the FS backed by the operating system
func OS() FS {
	return osFS{}
}

type osFS struct{}

func (osFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (osFS) Open(name string) (File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}
