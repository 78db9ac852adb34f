package lib

import (
	"runtime"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// windowsMaxPath is the traditional MAX_PATH limit. Normalized paths
// longer than this get the extended-length prefix on Windows so that the
// Win32 layer does not truncate or reject them.
const windowsMaxPath = 260

// NormalizePath canonicalizes a path for hashing and logging: Unicode
// NFC so that decomposed and precomposed spellings of the same name
// produce the same log entry and sort key, plus the \\?\ extended-length
// prefix on Windows when the result exceeds MAX_PATH.
func NormalizePath(path string) string {
	p := norm.NFC.String(path)
	if runtime.GOOS == "windows" && len(p) > windowsMaxPath {
		p = addExtendedLengthPrefix(p)
	}
	return p
}

// addExtendedLengthPrefix applies the Win32 long-path prefix. UNC paths
// use the dedicated \\?\UNC\ form.
func addExtendedLengthPrefix(p string) string {
	if strings.HasPrefix(p, `\\?\`) {
		return p
	}
	if strings.HasPrefix(p, `\\`) {
		return `\\?\UNC\` + p[2:]
	}
	return `\\?\` + p
}
