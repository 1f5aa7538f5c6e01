// Package pathutil provides cross-platform path utilities for ralphctl.
package pathutil

import (
	"path/filepath"
	"strings"
)

// EncodeID converts an arbitrary identifier to a flat string safe for use
// as a directory or file name inside the state directory. Session ids come
// from operators and agent wrappers and may contain separators.
//
// Examples:
//
//	ralph-main          → ralph-main
//	team/auth service   → team-auth-service
func EncodeID(id string) string {
	s := strings.ReplaceAll(filepath.ToSlash(id), "/", "-")
	s = strings.ReplaceAll(s, string(filepath.Separator), "-")
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "..", "-")
	return strings.Trim(s, "-.")
}
