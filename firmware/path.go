package firmware

import (
	"errors"
	"path/filepath"
	"strings"
)

// ==========================================================
// PATH VALIDATION
// ==========================================================

var (
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrInvalidExtension = errors.New("invalid file extension")
	ErrPathTraversal    = errors.New("path contains invalid traversal sequences")
	ErrPathNotAbsolute  = errors.New("path must be absolute")
)

// Extensions lists the firmware file types the uploader accepts.
var Extensions = []string{".zip", ".uf2", ".hex", ".elf"}

// ValidatePath validates a firmware file path before an upload.
// It ensures the path is absolute, has one of the allowed extensions, and
// doesn't contain directory traversal sequences.
func ValidatePath(path string, allowedExtensions []string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}

	// Clean the path to resolve any . or .. components
	cleanPath := filepath.Clean(path)

	if !filepath.IsAbs(cleanPath) {
		return "", ErrPathNotAbsolute
	}

	// Check for traversal sequences that survived cleaning
	for _, part := range strings.Split(filepath.ToSlash(cleanPath), "/") {
		if part == ".." {
			return "", ErrPathTraversal
		}
	}

	if len(allowedExtensions) > 0 {
		ext := strings.ToLower(filepath.Ext(cleanPath))
		valid := false
		for _, allowed := range allowedExtensions {
			if ext == strings.ToLower(allowed) {
				valid = true
				break
			}
		}
		if !valid {
			return "", ErrInvalidExtension
		}
	}

	return cleanPath, nil
}
