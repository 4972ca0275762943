package offload

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxNameLength   = 128
	defaultFilename = "file"
)

// SanitizeFilename reduces name to a single path segment that cannot climb
// out of its directory.
func SanitizeFilename(name string) string {
	clean := sanitizeName(name)
	if clean == "" {
		return defaultFilename
	}
	return clean
}

func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r), r == utf8.RuneError:
			return -1
		}
		return r
	}, name)
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.Trim(name, "._ ")
	return truncateName(name)
}

// truncateName caps the length while keeping the extension.
func truncateName(name string) string {
	if utf8.RuneCountInString(name) <= maxNameLength {
		return name
	}
	ext := filepath.Ext(name)
	if utf8.RuneCountInString(ext) > 16 {
		ext = ""
	}
	runes := []rune(strings.TrimSuffix(name, ext))
	return string(runes[:maxNameLength-utf8.RuneCountInString(ext)]) + ext
}

// filenameFromURL derives the object filename of a hosted file: the path
// after the upload marker when present, else the last path segment. An empty
// result means no usable name.
func filenameFromURL(rawURL, marker string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if marker != "" {
		if idx := strings.LastIndex(p, marker); idx >= 0 {
			return sanitizeName(p[idx+len(marker):])
		}
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return sanitizeName(base)
}

// uniqueNames disambiguates repeated names within one batch.
type uniqueNames map[string]int

func (u uniqueNames) next(name string) string {
	n := u[name]
	u[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

func extensionOf(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".csv":  "text/csv",
	".txt":  "text/plain",
	".json": "application/json",
	".xml":  "application/xml",
	".zip":  "application/zip",
}

// DetectContentType infers the content type from the extension.
func DetectContentType(name string) string {
	if ct, ok := contentTypes[extensionOf(name)]; ok {
		return ct
	}
	return "application/octet-stream"
}
