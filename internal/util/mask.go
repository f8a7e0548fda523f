package util

import "strings"

// MaskEmail enmascara un email para logs: "ana@example.org" → "a***@e***.org".
// Sin '@' devuelve sólo el primer carácter seguido de la máscara.
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	user, dom, ok := strings.Cut(s, "@")
	if !ok || user == "" {
		return s[:1] + "***"
	}
	masked := user[:1] + "***@"
	if j := strings.LastIndexByte(dom, '.'); j > 0 {
		return masked + dom[:1] + "***" + dom[j:]
	}
	if dom == "" {
		return masked + "***"
	}
	return masked + dom[:1] + "***"
}
