// Package keyring derives purpose-bound MAC keys from the call bus master
// secret.
package keyring

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Labels bind a derived key to one purpose. A key derived for capability
// tokens never verifies a delegation grant and vice versa.
const (
	LabelCapabilityToken = "warden/capability-token/v1"
	LabelDelegationGrant = "warden/delegation-grant/v1"
)

// MinSecretLength is the shortest master secret accepted.
const MinSecretLength = 32

const keyLength = 32

var ErrWeakSecret = errors.New("master secret too short")

// Derive expands master into a 256-bit key for label using HKDF-SHA256.
func Derive(master []byte, label string) ([]byte, error) {
	if len(master) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes", ErrWeakSecret, MinSecretLength)
	}
	if label == "" {
		return nil, errors.New("key label is required")
	}
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(label)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", label, err)
	}
	return key, nil
}
