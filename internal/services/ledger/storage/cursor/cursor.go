// Package cursor encodes opaque page tokens for event feeds.
package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Cursor points just past the last event of a page. Position is the
// store-wide append position of that event; feeds are newest first, so
// the next page holds positions below it.
type Cursor struct {
	Position   uint64 `json:"pos"`
	FilterHash string `json:"fh,omitempty"`
}

// New returns a cursor after position for a filter.
func New(position uint64, filter string) Cursor {
	return Cursor{Position: position, FilterHash: HashFilter(filter)}
}

// Encode renders c as a URL-safe page token.
func Encode(c Cursor) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// Decode parses a page token.
func Decode(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, errors.New("page token is empty")
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("decode page token: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("decode page token: %w", err)
	}
	if c.Position == 0 {
		return Cursor{}, errors.New("page token position is required")
	}
	return c, nil
}

// HashFilter returns a short stable hash of a filter, or "" for no filter.
func HashFilter(filter string) string {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(filter))
	return hex.EncodeToString(sum[:8])
}

// ValidateFilterHash rejects a token issued for a different filter.
func ValidateFilterHash(c Cursor, filter string) error {
	if c.FilterHash != HashFilter(filter) {
		return errors.New("page token does not match filter")
	}
	return nil
}
