package par3

import (
	"fmt"
	"path"
	"strings"
)

// Volume files are named <base>.vol<first>+<count>.par3 and data volumes
// <base>.part<first>+<count>.par3, with <first> and <count> zero-padded to
// the widest value they reach in the set so the names sort correctly.

func digits(v uint64) int {
	d := 1
	for v >= 10 {
		v /= 10
		d++
	}
	return d
}

// IndexFileName returns the metadata-only index file name.
func IndexFileName(base string) string {
	return base + ".par3"
}

// VolumeFileNames names one file per count, assigning consecutive first
// indices starting at firstIndex. kind is "vol" or "part".
func VolumeFileNames(base, kind string, firstIndex uint64, counts []uint64) []string {
	if len(counts) == 0 {
		return nil
	}
	var maxFirst, maxCount uint64
	first := firstIndex
	for _, c := range counts {
		maxFirst = first
		if c > maxCount {
			maxCount = c
		}
		first += c
	}
	fw, cw := digits(maxFirst), digits(maxCount)

	names := make([]string, len(counts))
	first = firstIndex
	for i, c := range counts {
		names[i] = fmt.Sprintf("%s.%s%0*d+%0*d.par3", base, kind, fw, first, cw, c)
		first += c
	}
	return names
}

// TempFileName returns the temporary output name used while restoring
// input file fileIndex of a set.
func TempFileName(setID SetID, fileIndex int) string {
	return fmt.Sprintf("par3_%s_%d.tmp", setID, fileIndex)
}

// reservedNames are Windows device names that cannot be written on that
// platform; they are sanitized on output regardless of the local OS so
// sets stay portable.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFileName replaces characters and device names that cannot be
// written portably with underscores. It operates on a single path
// component.
func SanitizeFileName(name string) string {
	stem := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		stem = name[:i]
	}
	if reservedNames[strings.ToUpper(stem)] {
		name = "_" + name[1:]
	}
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePath converts a stored set path to slash form, drops "./"
// segments, resolves "../" and rejects traversal above the base.
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path escapes the base directory: %q", p)
	}
	if clean == "." {
		return "", fmt.Errorf("empty path: %q", p)
	}
	return clean, nil
}

// ValidSetPath reports whether a path read from a packet is safe to use:
// relative slash form, no traversal, no NUL.
func ValidSetPath(p string) bool {
	if p == "" || strings.ContainsRune(p, 0) {
		return false
	}
	if strings.HasPrefix(p, "/") {
		return false
	}
	clean := path.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, "../") && clean != "."
}
