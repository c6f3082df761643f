// Package redact masks credentials before they reach log output. The only
// credential Sohayok holds is the optional alert bot token.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped.
func String(s string, sensitive ...string) string {
	for _, v := range sensitive {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Token keeps the last four characters of tok so operators can tell two
// configured tokens apart. Empty input stays empty.
func Token(tok string) string {
	switch {
	case tok == "":
		return ""
	case len(tok) <= 8:
		return placeholder
	default:
		return placeholder + tok[len(tok)-4:]
	}
}
