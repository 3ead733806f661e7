package booking

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

// NewConfirmationCode returns "BK" followed by eight base-32 characters.
func NewConfirmationCode() (string, error) {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("confirmation code: %w", err)
	}
	return "BK" + base32.StdEncoding.EncodeToString(b[:]), nil
}
