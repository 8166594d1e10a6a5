package random

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Hex returns n random bytes from a cryptographically secure source as 2n lowercase hex characters.
func Hex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
