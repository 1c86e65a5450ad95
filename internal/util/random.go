package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomID returns prefix followed by hexLength random hex digits.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns length random lowercase hex digits. It is not
// suitable for secrets.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	const hexChars = "0123456789abcdef"
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(hexChars[rand.IntN(16)])
	}
	return b.String()
}
