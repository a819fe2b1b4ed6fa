package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizePhone reduces a gateway-supplied number to digits in
// international form. "+234 801 234 5678", "08012345678" and
// "2348012345678" all normalize to the same token.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "0") && len(digits) == 11 {
		digits = "234" + digits[1:]
	}
	return digits
}

// HashPhone derives the phone_hash the core keys everything on. The raw
// number never crosses this boundary.
func HashPhone(raw, salt string) string {
	sum := sha256.Sum256([]byte(NormalizePhone(raw) + salt))
	return hex.EncodeToString(sum[:])
}
