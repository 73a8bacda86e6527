package utils

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const fallbackBaseName = "downloaded_file"

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// ErrInvalidFilename is returned when a client supplied name has no usable base.
var ErrInvalidFilename = errors.New("invalid filename")

// SanitizeFilename replaces characters that are illegal on common filesystems with '_'.
func SanitizeFilename(name string) string {
	return invalidFilenameChars.ReplaceAllString(name, "_")
}

// GenerateUniqueFilename builds {base}_{hash8}_{YYYYmmddHHMMSS} for a file fetched from rawURL.
func GenerateUniqueFilename(rawURL, fileHash string, now time.Time) string {
	base := ""
	if u, err := url.Parse(rawURL); err == nil {
		// A path ending in "/" names a directory and has no file base
		base = u.Path[strings.LastIndex(u.Path, "/")+1:]
	}
	if base == "" || base == "." || base == ".." {
		base = fallbackBaseName
	}
	prefix := fileHash
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%s_%s_%s", SanitizeFilename(base), prefix, now.Format("20060102150405"))
}

// SafeUploadName strips any directory part from a client filename and sanitizes the rest.
func SafeUploadName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.TrimSpace(base)
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", ErrInvalidFilename
	}
	return SanitizeFilename(base), nil
}

// AllowedFile reports whether name carries one of the allowed extensions.
// An empty allow-list accepts every name.
func AllowedFile(name string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return false
	}
	ext := strings.ToLower(name[idx+1:])
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == ext {
			return true
		}
	}
	return false
}
