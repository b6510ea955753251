// Package diagnostics turns compiler and runtime failures into the error
// shape shown by the host: a line number, the full message, a one-line
// summary and a short description.
package diagnostics

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PublicError is the host-facing form of a compile or runtime failure.
type PublicError struct {
	LineNumber   *int   `json:"lineNumber,omitempty"`
	ErrorMessage string `json:"errorMessage"`
	Summary      string `json:"summary"`
	Description  string `json:"description"`
}

var (
	// file.js:12:4 as printed by goja stack frames and esbuild diagnostics
	positionPattern = regexp.MustCompile(`([\w./@$-]+):(\d+):(\d+)`)
	// "(12:4)" as printed by most transpilers
	parenPattern = regexp.MustCompile(`\((\d+):(\d+)\)`)
	linePattern  = regexp.MustCompile(`(?i)\bline (\d+)\b`)
)

// FormatError renders err with every file:line:col reference shifted up by
// prefixLineCount, compensating for wrapper lines prepended to user code.
// A message that is only a stack trace is labelled "Error".
func FormatError(err error, prefixLineCount int) string {
	if err == nil {
		return ""
	}
	return ShiftLines(Label(err.Error(), "Error"), prefixLineCount)
}

// Label puts label in front of a message that has no text before its
// stack trace.
func Label(message, label string) string {
	trimmed := strings.TrimSpace(message)
	switch {
	case trimmed == "":
		return label
	case strings.HasPrefix(trimmed, "at "):
		return label + " " + trimmed
	}
	return message
}

// ShiftLines rewrites file:line:col references in message.
func ShiftLines(message string, prefixLineCount int) string {
	if prefixLineCount == 0 {
		return message
	}

	return positionPattern.ReplaceAllStringFunc(message, func(match string) string {
		parts := positionPattern.FindStringSubmatch(match)
		line, err := strconv.Atoi(parts[2])
		if err != nil {
			return match
		}
		line -= prefixLineCount
		if line < 1 {
			line = 1
		}
		return fmt.Sprintf("%s:%d:%s", parts[1], line, parts[3])
	})
}

// Details splits a formatted error message into its public parts.
func Details(message string) PublicError {
	message = strings.TrimSpace(message)

	description := message
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		description = strings.TrimSpace(message[:idx])
	}

	details := PublicError{
		ErrorMessage: message,
		Description:  description,
		Summary:      "Error",
	}

	if line, ok := lineNumber(message); ok {
		details.LineNumber = &line
		details.Summary = fmt.Sprintf("Error on line %d", line)
	}

	return details
}

func lineNumber(message string) (int, bool) {
	for _, pattern := range []*regexp.Regexp{positionPattern, parenPattern} {
		if m := pattern.FindStringSubmatch(message); m != nil {
			group := m[len(m)-2]
			if n, err := strconv.Atoi(group); err == nil {
				return n, true
			}
		}
	}
	if m := linePattern.FindStringSubmatch(message); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n, true
		}
	}
	return 0, false
}
