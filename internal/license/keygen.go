package license

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Base32 charset without confusing characters (no 0/O, 1/I/L)
const keyCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	keyGroups    = 4
	keyGroupSize = 4
)

var keyFormat = regexp.MustCompile(`^[A-Z]{2,8}-[A-Z2-9]{4}-[A-Z2-9]{4}-[A-Z2-9]{4}-[A-Z2-9]{4}$`)

// GenerateKey produces a customer-facing license key of the form
// PREFIX-XXXX-XXXX-XXXX-XXXX using crypto/rand.
func GenerateKey(prefix string) (string, error) {
	groups := make([]string, 0, keyGroups+1)
	groups = append(groups, prefix)

	max := big.NewInt(int64(len(keyCharset)))
	for g := 0; g < keyGroups; g++ {
		var group strings.Builder
		for i := 0; i < keyGroupSize; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("failed to generate license key: %w", err)
			}
			group.WriteByte(keyCharset[n.Int64()])
		}
		groups = append(groups, group.String())
	}

	return strings.Join(groups, "-"), nil
}

// ValidKeyFormat reports whether a string looks like a license key. This is
// a format check only, not a database lookup; the public endpoint uses it
// to reject garbage before touching the store.
func ValidKeyFormat(key string) bool {
	return keyFormat.MatchString(key)
}

// MaskKey returns a loggable form of a license key: the prefix and first
// group, with the remaining groups elided. Full keys are secrets and must
// never appear in logs or events.
func MaskKey(key string) string {
	parts := strings.SplitN(key, "-", 3)
	if len(parts) < 3 {
		if len(key) > 4 {
			return key[:4] + "****"
		}
		return "****"
	}
	return parts[0] + "-" + parts[1] + "-****"
}
