package logger

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxPathLength is the maximum length for URL paths in logs
	MaxPathLength = 500
	// MaxAssetIDLength is the maximum length for asset ids (image paths) in logs
	MaxAssetIDLength = 512
	// MaxTagLength is the maximum length for tag names in logs
	MaxTagLength = 256
	// MaxErrorMessageLength is the maximum length for error messages in logs
	MaxErrorMessageLength = 1000
	// MaxGeneralStringLength is the maximum length for general strings in logs
	MaxGeneralStringLength = 2000
	// MaxDebugContentLength is the maximum length for debug content (payloads)
	MaxDebugContentLength = 10000
)

// SanitizePath sanitizes a URL path for safe logging
// Removes control characters, truncates to MaxPathLength, and validates UTF-8
func SanitizePath(path string) string {
	if path == "" {
		return ""
	}

	// Validate and fix UTF-8 encoding
	if !utf8.ValidString(path) {
		path = strings.ToValidUTF8(path, "")
	}

	// Remove control characters (except space, tab, newline, carriage return)
	var builder strings.Builder
	builder.Grow(len(path))
	for _, r := range path {
		// Allow printable characters, space, tab, newline, carriage return
		if unicode.IsPrint(r) || r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			builder.WriteRune(r)
		}
	}
	path = builder.String()

	// Truncate to max length
	if len(path) > MaxPathLength {
		path = path[:MaxPathLength] + "..."
	}

	return path
}

// SanitizeString sanitizes a general string for safe logging
// Removes control characters, truncates to maxLength, and validates UTF-8
func SanitizeString(s string, maxLength int) string {
	if s == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = MaxGeneralStringLength
	}
	s = sanitizeFilterRunes(s)
	if len(s) > maxLength {
		s = s[:maxLength] + "..."
	}
	return s
}

// sanitizeFilterRunes validates UTF-8 and removes control characters (keeps printable, space, tab, newline, CR).
func sanitizeFilterRunes(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	var builder strings.Builder
	builder.Grow(len(s))
	for _, r := range s {
		if unicode.IsPrint(r) || r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// SanitizeError sanitizes an error message for safe logging
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()
	return SanitizeString(errStr, MaxErrorMessageLength)
}

// SanitizeErrorString sanitizes an error string for safe logging
func SanitizeErrorString(errStr string) string {
	return SanitizeString(errStr, MaxErrorMessageLength)
}

// SanitizeAssetID sanitizes an asset id for safe logging.
// Asset ids are usually filesystem paths and may contain anything.
func SanitizeAssetID(assetID string) string {
	return SanitizeString(assetID, MaxAssetIDLength)
}

// SanitizeTag sanitizes a tag name for safe logging.
// Newlines are dropped so one tag never spans log lines.
func SanitizeTag(tag string) string {
	tag = strings.NewReplacer("\n", " ", "\r", " ").Replace(tag)
	return SanitizeString(tag, MaxTagLength)
}

// SanitizeTags sanitizes a tag list and joins it for a single log field
func SanitizeTags(tags []string) string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, SanitizeTag(t))
	}
	return SanitizeString(strings.Join(out, ", "), MaxDebugContentLength)
}

// SanitizeDebugContent sanitizes debug content (payloads) for safe logging
func SanitizeDebugContent(content string) string {
	return SanitizeString(content, MaxDebugContentLength)
}
