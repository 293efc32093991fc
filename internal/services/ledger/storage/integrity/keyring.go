package integrity

import (
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Keyring stores root HMAC keys and the active key id.
type Keyring struct {
	keys        map[string][]byte
	activeKeyID string
}

// NewKeyring constructs a keyring for HMAC signing and verification.
func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("hmac keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active hmac key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active hmac key id is not configured")
	}
	return &Keyring{keys: keys, activeKeyID: activeKeyID}, nil
}

// Scope names the signing scope of one aggregate stream.
func Scope(tenantID, aggregateID string) string {
	return tenantID + "/" + aggregateID
}

// ActiveKeyID returns the configured signing key id.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeKeyID
}

// SignChainHash signs chainHash for scope with the active key and returns
// the signature with the key id that made it.
func (k *Keyring) SignChainHash(scope, chainHash string) (string, string, error) {
	if k == nil {
		return "", "", fmt.Errorf("hmac keyring is not configured")
	}
	signature, err := k.mac(k.activeKeyID, scope, chainHash)
	if err != nil {
		return "", "", err
	}
	return signature, k.activeKeyID, nil
}

// VerifyChainHash checks a signature made by any key still in the ring, so
// events signed before a rotation keep verifying.
func (k *Keyring) VerifyChainHash(scope, chainHash, signature, keyID string) error {
	if k == nil {
		return fmt.Errorf("hmac keyring is not configured")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return fmt.Errorf("signature key id is required")
	}
	expected, err := k.mac(keyID, scope, chainHash)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch under key %q", keyID)
	}
	return nil
}

// mac computes the hex HMAC-SHA256 of value under the per-aggregate key
// that HKDF derives from the root key keyID and scope.
func (k *Keyring) mac(keyID, scope, value string) (string, error) {
	root, ok := k.keys[keyID]
	if !ok {
		return "", fmt.Errorf("signature key id %q is unknown", keyID)
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return "", fmt.Errorf("signing scope is required")
	}
	derived, err := hkdf.Key(sha256.New, root, nil, "aggregate:"+scope, sha256.Size)
	if err != nil {
		return "", fmt.Errorf("derive aggregate key: %w", err)
	}
	h := hmac.New(sha256.New, derived)
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil)), nil
}
