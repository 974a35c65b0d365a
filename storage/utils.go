package storage

import (
	"os"
	"path/filepath"
)

func testPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(os.TempDir(), path)
}
