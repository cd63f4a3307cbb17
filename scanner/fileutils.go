package scanner

import (
	"path/filepath"
	"strings"
)

var rawFormats = []string{".dng", ".raf", ".arw", ".nef", ".cr2", ".cr3", ".nrw", ".srf", ".orf", ".rw2", ".pef"}

// IsImageFile checks if a file extension belongs to a supported image file.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".tif", ".tiff":
		return true
	}
	return IsRawFormat(path)
}

// IsRawFormat checks if a file is a RAW camera format.
func IsRawFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range rawFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// GetFileFormat returns the lowercase file extension without the dot.
func GetFileFormat(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
