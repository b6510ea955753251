package utils

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Size limits (in bytes)
const (
	MaxFileSize    = 512 * 1024      // 512KB - single source file
	MaxFileMapSize = 4 * 1024 * 1024 // 4MB - every file of one playground
	MaxMessageSize = 1024 * 1024     // 1MB - single WebSocket message
)

// String length limits
const (
	MaxIDLength       = 128
	MaxFilenameLength = 256
	MaxTitleLength    = 256
	MaxFileCount      = 256
)

var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// FilenamePattern allows the characters of relative module paths
	FilenamePattern = regexp.MustCompile(`^[a-zA-Z0-9._@/-]+$`)
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateID validates an ID field
func ValidateID(id, fieldName string, required bool) error {
	if err := ValidateString(id, fieldName, 1, MaxIDLength, required); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (only alphanumeric, hyphens, and underscores allowed)", fieldName)
	}

	return nil
}

// ValidateTitle validates an optional display title
func ValidateTitle(title string) error {
	return ValidateString(title, "title", 1, MaxTitleLength, false)
}

// ValidateFilename validates a playground file name. Names are relative,
// slash separated and already clean, e.g. "components/Button.tsx".
func ValidateFilename(name string) error {
	if err := ValidateString(name, "filename", 1, MaxFilenameLength, true); err != nil {
		return err
	}

	if !FilenamePattern.MatchString(name) {
		return fmt.Errorf("filename %q contains invalid characters", name)
	}
	if strings.HasPrefix(name, "/") || path.Clean(name) != name {
		return fmt.Errorf("filename %q must be a clean relative path", name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("filename %q must not contain relative segments", name)
		}
	}

	return nil
}

// ValidateFiles validates every name and the total size of a file map
func ValidateFiles(files map[string]string, required bool) error {
	if required && len(files) == 0 {
		return fmt.Errorf("files are required")
	}
	if len(files) > MaxFileCount {
		return fmt.Errorf("%d files exceed maximum %d", len(files), MaxFileCount)
	}

	total := 0
	for name, code := range files {
		if err := ValidateFilename(name); err != nil {
			return err
		}
		if len(code) > MaxFileSize {
			return fmt.Errorf("file %s size %d bytes exceeds maximum %d bytes", name, len(code), MaxFileSize)
		}
		total += len(code)
	}
	if total > MaxFileMapSize {
		return fmt.Errorf("files size %d bytes exceeds maximum %d bytes", total, MaxFileMapSize)
	}

	return nil
}
