package util

import "strings"

// DigitsOnly strips everything but ASCII digits, turning "+55 (11) 99999-0000"
// or "5511999990000@s.whatsapp.net" into a bare number.
func DigitsOnly(s string) string {
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
