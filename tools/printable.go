package tools

import (
	"bytes"
	"unicode"
)

type printableType interface {
	~string | ~[]rune | ~[]byte
}

// IsPrintable returns v without the non printable characters
func IsPrintable[T printableType](v T) string {
	var result []rune

	switch v := any(v).(type) {
	case string:
		for _, r := range v {
			if unicode.IsPrint(r) {
				result = append(result, r)
			}
		}
	case []rune:
		for _, r := range v {
			if unicode.IsPrint(r) {
				result = append(result, r)
			}
		}
	case []byte:
		for _, r := range v {
			if unicode.IsPrint(rune(r)) {
				result = append(result, rune(r))
			}
		}
	}
	return string(result)
}

var passCommand = []byte("PASS ")

// MaskSecrets replaces the argument of every PASS line in b with asterisks.
// b is not modified.
func MaskSecrets(b []byte) []byte {
	lines := bytes.SplitAfter(b, []byte("\n"))
	masked := make([]byte, 0, len(b))
	for _, line := range lines {
		if len(line) >= len(passCommand) && bytes.EqualFold(line[:len(passCommand)], passCommand) {
			rest := line[len(passCommand):]
			masked = append(masked, line[:len(passCommand)]...)
			masked = append(masked, "****"...)
			masked = append(masked, rest[len(bytes.TrimRight(rest, "\r\n")):]...)
			continue
		}
		masked = append(masked, line...)
	}
	return masked
}
