package sweeper

import (
	"io/fs"
	"os"
)

// FS is the filesystem surface a sweep pass touches.
type FS interface {
	Stat(name string) (fs.FileInfo, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	Remove(name string) error
	RemoveAll(name string) error
}

// OSFS is the FS backed by the host filesystem.
type OSFS struct{}

func (OSFS) Stat(name string) (fs.FileInfo, error)      { return os.Stat(name) }
func (OSFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }
func (OSFS) Remove(name string) error                   { return os.Remove(name) }
func (OSFS) RemoveAll(name string) error                { return os.RemoveAll(name) }
