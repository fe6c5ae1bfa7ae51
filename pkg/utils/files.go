package utils

import (
	"path/filepath"
	"strings"
)

// ImageExt is the extension of encoded image files. Anything else is treated
// as script source.
const ImageExt = ".bin"

// GetPathInfo resolves relPath to an absolute path and the directory holding it.
func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}
	return fullPath, filepath.Dir(fullPath), nil
}

// IsImage reports whether path names an encoded image rather than source.
func IsImage(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ImageExt)
}

// ImagePath swaps the extension of a source path for the image extension.
func ImagePath(sourcePath string) string {
	return strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + ImageExt
}
