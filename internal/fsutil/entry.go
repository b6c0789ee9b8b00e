package fsutil

import (
	"os"
	"path/filepath"
)

// Exists reports whether anything, including a dangling symlink, is at path.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// RemoveEntry removes path whether it is a symlink, a plain file or a
// directory tree. Symlinks are unlinked, never followed.
func RemoveEntry(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
		return os.Remove(path)
	}
	return os.RemoveAll(path)
}

// EnsureSymlink links target into linkDir under target's base name. It is a
// no-op when linkDir is not an existing directory or the link name is taken.
func EnsureSymlink(target, linkDir string) (bool, error) {
	if linkDir == "" {
		return false, nil
	}
	info, err := os.Stat(linkDir)
	if err != nil || !info.IsDir() {
		return false, nil
	}
	link := filepath.Join(linkDir, filepath.Base(target))
	if Exists(link) {
		return false, nil
	}
	if err := os.Symlink(target, link); err != nil {
		return false, err
	}
	return true, nil
}
