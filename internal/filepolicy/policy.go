package filepolicy

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// MaxFileSize is the hard per-file ceiling (50 MB)
	MaxFileSize = 50 * 1024 * 1024

	// MaxFilesPerRequest caps one presigned-URL request
	MaxFilesPerRequest = 20

	// MaxRequestedDocuments caps requested-document entries per link
	MaxRequestedDocuments = 50
)

// allowedExtensions maps each permitted extension to the MIME types a
// client may declare (and that content sniffing must agree with).
var allowedExtensions = map[string][]string{
	"pdf":  {"application/pdf"},
	"doc":  {"application/msword"},
	"docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	"xls":  {"application/vnd.ms-excel"},
	"xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	"ppt":  {"application/vnd.ms-powerpoint"},
	"pptx": {"application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	"odt":  {"application/vnd.oasis.opendocument.text"},
	"ods":  {"application/vnd.oasis.opendocument.spreadsheet"},
	"txt":  {"text/plain"},
	"csv":  {"text/csv", "application/csv", "text/plain"},
	"rtf":  {"application/rtf", "text/rtf"},
	"jpg":  {"image/jpeg"},
	"jpeg": {"image/jpeg"},
	"png":  {"image/png"},
	"gif":  {"image/gif"},
	"webp": {"image/webp"},
	"tif":  {"image/tiff"},
	"tiff": {"image/tiff"},
	"heic": {"image/heic"},
}

// dangerousExtensions are rejected before the allow-list is even consulted:
// executables, scripts, and archives capable of carrying executables.
var dangerousExtensions = map[string]bool{
	"exe": true, "msi": true, "dll": true, "com": true, "scr": true,
	"pif": true, "bat": true, "cmd": true, "ps1": true, "sh": true,
	"bash": true, "vbs": true, "js": true, "jar": true, "apk": true,
	"app": true, "deb": true, "rpm": true, "zip": true, "rar": true,
	"7z": true, "tar": true, "gz": true, "iso": true, "dmg": true,
}

var dangerousMimeTypes = map[string]bool{
	"application/x-msdownload":       true,
	"application/x-msdos-program":    true,
	"application/x-executable":       true,
	"application/x-elf":              true,
	"application/x-mach-binary":      true,
	"application/x-sh":               true,
	"application/x-bat":              true,
	"application/javascript":         true,
	"text/javascript":                true,
	"application/java-archive":       true,
	"application/zip":                true,
	"application/x-zip-compressed":   true,
	"application/x-rar-compressed":   true,
	"application/vnd.rar":            true,
	"application/x-7z-compressed":    true,
	"application/x-tar":              true,
	"application/gzip":               true,
	"application/octet-stream":       true,
	"application/vnd.microsoft.portable-executable": true,
}

// flattened allow-list of declared MIME types, built once at init
var allowedMimeTypes = func() map[string]bool {
	m := make(map[string]bool)
	for _, mimes := range allowedExtensions {
		for _, mt := range mimes {
			m[mt] = true
		}
	}
	return m
}()

// Extension extracts the lowercased extension (substring after the last dot)
func Extension(fileName string) string {
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[idx+1:])
}

// normalizeMime strips parameters like "; charset=utf-8" and lowercases
func normalizeMime(mime string) string {
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = mime[:idx]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

// ValidateMetadata is the cheap pre-upload check over filename and declared
// MIME type. Each rule yields its own reason so the caller can correct the
// specific file.
func ValidateMetadata(fileName, declaredMime string) error {
	ext := Extension(fileName)
	if ext == "" {
		return fmt.Errorf("file %q has no extension", fileName)
	}

	if dangerousExtensions[ext] {
		return fmt.Errorf("file type .%s is not allowed for security reasons", ext)
	}

	if _, ok := allowedExtensions[ext]; !ok {
		return fmt.Errorf("file type .%s is not in the list of accepted document types", ext)
	}

	declared := normalizeMime(declaredMime)
	if declared == "" {
		return fmt.Errorf("file %q is missing a content type", fileName)
	}
	if dangerousMimeTypes[declared] {
		return fmt.Errorf("content type %s is not allowed for security reasons", declared)
	}
	if !allowedMimeTypes[declared] {
		return fmt.Errorf("content type %s is not accepted", declared)
	}

	// A declared type that disagrees with the extension is left to the
	// content phase: only sniffed bytes prove what the file actually is.
	return nil
}

// ValidateContent sniffs the actual content type from magic bytes and
// rejects disguised files (e.g. an executable renamed to .pdf). It implies
// the metadata checks.
func ValidateContent(buf []byte, fileName, declaredMime string) error {
	if err := ValidateMetadata(fileName, declaredMime); err != nil {
		return err
	}

	sniffed := normalizeMime(mimetype.Detect(buf).String())

	if dangerousMimeTypes[sniffed] {
		return fmt.Errorf("file %q contains disallowed content (detected %s)", fileName, sniffed)
	}
	if !allowedMimeTypes[sniffed] {
		return fmt.Errorf("file %q content does not match any accepted document type (detected %s)", fileName, sniffed)
	}

	ext := Extension(fileName)
	if !mimeMatches(sniffed, allowedExtensions[ext]) {
		return fmt.Errorf("file %q content (%s) does not match its .%s extension", fileName, sniffed, ext)
	}

	return nil
}

// CheckFileSize enforces the hard per-file ceiling
func CheckFileSize(size int64) error {
	if size <= 0 {
		return fmt.Errorf("file size must be greater than zero")
	}
	if size > MaxFileSize {
		return fmt.Errorf("file exceeds the maximum size of %d MB", MaxFileSize/(1024*1024))
	}
	return nil
}

// CheckBatchSize enforces the per-request file count ceiling
func CheckBatchSize(count int) error {
	if count < 1 {
		return fmt.Errorf("at least one file is required")
	}
	if count > MaxFilesPerRequest {
		return fmt.Errorf("a maximum of %d files can be submitted per request", MaxFilesPerRequest)
	}
	return nil
}

// CheckRequestedDocumentCount enforces the per-link requested-document ceiling
func CheckRequestedDocumentCount(count int) error {
	if count > MaxRequestedDocuments {
		return fmt.Errorf("a maximum of %d requested documents are allowed per link", MaxRequestedDocuments)
	}
	return nil
}

func mimeMatches(mime string, expected []string) bool {
	for _, e := range expected {
		if mime == e {
			return true
		}
	}
	return false
}
