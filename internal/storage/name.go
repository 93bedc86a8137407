package storage

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

var windowsDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeName turns a client-supplied file name into a flat, ASCII-only
// token made of [A-Za-z0-9_.-]. Separators become underscores, so the result
// never names anything outside a single directory. It may return "".
//
//	"My cat.png"        -> "My_cat.png"
//	"../../etc/passwd"  -> "etc_passwd"
//	"café.txt"          -> "cafe.txt"
func SanitizeName(raw string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(raw) {
		switch {
		case r == '/' || r == '\\':
			b.WriteByte(' ')
		case r < utf8.RuneSelf:
			b.WriteRune(r)
		}
	}

	name := strings.Join(strings.Fields(b.String()), "_")
	name = unsafeNameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")

	if name != "" {
		stem, _, _ := strings.Cut(name, ".")
		if windowsDeviceNames[strings.ToUpper(stem)] {
			name = "_" + name
		}
	}
	return name
}

// ValidateName rejects names a backend must never resolve: empty, dot
// entries, and anything carrying a separator or NUL.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
