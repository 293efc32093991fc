package cursor

import (
	"encoding/base64"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := New(42, `type = "RESERVED"`)
	token, err := Encode(original)
	if err != nil {
		t.Fatalf("encode cursor: %v", err)
	}
	decoded, err := Decode(token)
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if decoded != original {
		t.Fatalf("cursor mismatch: %+v != %+v", decoded, original)
	}
}

func TestDecodeRejectsBadTokens(t *testing.T) {
	for _, token := range []string{
		"",
		"not-base64@@",
		base64.URLEncoding.EncodeToString([]byte("{")),
		base64.URLEncoding.EncodeToString([]byte(`{"pos":0}`)),
	} {
		if _, err := Decode(token); err == nil {
			t.Fatalf("expected error for token %q", token)
		}
	}
}

func TestHashFilter(t *testing.T) {
	if HashFilter("  ") != "" {
		t.Fatal("expected empty hash for empty filter")
	}
	hash := HashFilter("foo")
	if len(hash) != 16 {
		t.Fatalf("expected 16-char hash, got %d", len(hash))
	}
	if hash == HashFilter("bar") {
		t.Fatal("expected different hashes for different filters")
	}
}

func TestValidateFilterHash(t *testing.T) {
	c := New(10, `type = "RESERVED"`)
	if err := ValidateFilterHash(c, `type = "RESERVED"`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateFilterHash(c, `type = "RELEASED"`); err == nil {
		t.Fatal("expected error for mismatched filter")
	}
}
