package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// FingerprintEmpty is the reserved sentinel for empty or whitespace-only
// content. It is distinct from every real digest and from the empty
// string, which on a source row means "no prior state".
const FingerprintEmpty = "empty"

var reSpaces = regexp.MustCompile(`\s+`)

// Fingerprint returns a stable digest of extracted text: SHA-256 over
// the whitespace-normalized UTF-8 bytes. Two fetches differing only in
// whitespace fingerprint identically.
func Fingerprint(text string) string {
	normalized := strings.TrimSpace(reSpaces.ReplaceAllString(text, " "))
	if normalized == "" {
		return FingerprintEmpty
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
