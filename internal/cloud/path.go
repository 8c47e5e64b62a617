package cloud

import (
	"strings"

	"github.com/adem9445/iub-recorder/backend/internal/model"
)

// NormalizePath makes a user-supplied folder path absolute. Blank input
// yields fallback.
func NormalizePath(path, fallback string) string {
	if strings.TrimSpace(path) == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

// FileName returns the trimmed name, or the default file name when blank.
func FileName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return model.DefaultFileName
	}
	return name
}

// JoinPath joins folder and file, collapsing runs of slashes.
func JoinPath(folder, file string) string {
	joined := folder + "/" + file
	var b strings.Builder
	b.Grow(len(joined))
	prevSlash := false
	for _, r := range joined {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
