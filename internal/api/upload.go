package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UploadHeaderName is the request header carrying the client-supplied
// filename, matching the original's upload_header_name parameter.
const UploadHeaderName = "x-filename"

// UploadPath is the fixed POST route DATA frames accumulate against,
// dispatched specially by internal/server (an upload never buffers its
// whole body before the server decides how to route it, unlike every
// other handler in Router).
const UploadPath = "/api/upload"

// SanitizeUploadFilename strips any directory components and replaces
// path separators/control characters with "_", matching
// incoming_data.c++'s sanitize_filename_local exactly.
func SanitizeUploadFilename(raw string) string {
	name := filepath.Base(raw)
	if name == "" || name == "." || name == ".." {
		return "upload.bin"
	}
	var b strings.Builder
	for _, r := range name {
		if r == '/' || r == '\\' || r < 0x20 {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	name = b.String()
	const maxLen = 255
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}

// MakeUniqueUploadPath appends "_N" before the extension until dir/name
// doesn't already exist, matching make_unique_path_local.
func MakeUniqueUploadPath(dir, desiredName string) string {
	candidate := filepath.Join(dir, desiredName)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(desiredName)
	stem := strings.TrimSuffix(desiredName, ext)
	for counter := 1; ; counter++ {
		next := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
		if _, err := os.Stat(next); os.IsNotExist(err) {
			return next
		}
	}
}

// UploadDir is the fixed destination directory for incoming uploads,
// matching incoming_data.c++'s "public/upload".
func UploadDir(deps *Deps) string {
	return filepath.Join(deps.Config.WWWRoot, "upload")
}

// PrepareUpload sanitizes the requested filename, ensures the upload
// directory exists, and returns the unique full path plus the relative
// URL path a later GET would use to fetch it.
func PrepareUpload(deps *Deps, requestedName string) (fullPath, relPath string, err error) {
	dir := UploadDir(deps)
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return "", "", fmt.Errorf("api: create upload dir: %w", mkErr)
	}
	safeName := SanitizeUploadFilename(requestedName)
	fullPath = MakeUniqueUploadPath(dir, safeName)
	relPath = "/upload/" + filepath.Base(fullPath)
	return fullPath, relPath, nil
}

// FinishUploadResponse builds the JSON body for a completed upload,
// matching the {"ok":true,"path":...,"bytes":...} shape the original's
// upload completion handler reports.
func FinishUploadResponse(relPath string, bytesWritten uint64) Response {
	return JSON(200, map[string]any{"ok": true, "path": relPath, "bytes": bytesWritten})
}
