package utils

import (
	"os"

	"github.com/spf13/afero"
)

// Exists reports whether path exists on the given filesystem.
func Exists(appFs afero.Fs, path string) (bool, error) {
	_, err := appFs.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return true, err
}

// IsDir reports whether path exists and is a directory.
func IsDir(appFs afero.Fs, path string) (bool, error) {
	info, err := appFs.Stat(path)
	if err == nil {
		return info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
