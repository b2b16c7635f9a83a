package logutil

import (
	"fmt"
	"regexp"
	"strings"
)

const replacement = "[REDACTED]"

var sensitiveKeyRe = regexp.MustCompile(`(?i)(password|passphrase|pass|secret|token|pin|key)`)

// RedactValue returns value rendered for logging, replaced with a
// placeholder when the key looks like it names a secret. Settings paths
// are matched on their last segment so "pki.clientKeyPath" style keys
// are judged by "clientKeyPath".
func RedactValue(key string, value any) string {
	seg := key
	if i := strings.LastIndex(key, "."); i >= 0 {
		seg = key[i+1:]
	}
	// Path-valued settings are not secrets even when named *KeyPath.
	if strings.HasSuffix(strings.ToLower(seg), "path") {
		return fmt.Sprintf("%v", value)
	}
	if sensitiveKeyRe.MatchString(seg) {
		return replacement
	}
	return fmt.Sprintf("%v", value)
}
