package integrity

import "testing"

func TestNewKeyringValidation(t *testing.T) {
	if _, err := NewKeyring(nil, "v1"); err == nil {
		t.Fatal("expected error for missing keys")
	}
	if _, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, ""); err == nil {
		t.Fatal("expected error for missing active key id")
	}
	if _, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v2"); err == nil {
		t.Fatal("expected error for unknown active key id")
	}
}

func TestKeyringSignAndVerify(t *testing.T) {
	ring, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	scope := Scope("t1", "P1")
	sig, keyID, err := ring.SignChainHash(scope, "chainhash")
	if err != nil {
		t.Fatalf("sign chain hash: %v", err)
	}
	if keyID != "v1" {
		t.Fatalf("expected key id v1, got %s", keyID)
	}
	if err := ring.VerifyChainHash(scope, "chainhash", sig, keyID); err != nil {
		t.Fatalf("verify chain hash: %v", err)
	}
}

func TestKeyringVerifyFailures(t *testing.T) {
	ring, err := NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	scope := Scope("t1", "P1")
	sig, _, err := ring.SignChainHash(scope, "chainhash")
	if err != nil {
		t.Fatalf("sign chain hash: %v", err)
	}

	if err := ring.VerifyChainHash(scope, "chainhash", sig, ""); err == nil {
		t.Fatal("expected error for missing key id")
	}
	if err := ring.VerifyChainHash(scope, "chainhash", sig, "v9"); err == nil {
		t.Fatal("expected error for unknown key id")
	}
	if err := ring.VerifyChainHash(scope, "other", sig, "v1"); err == nil {
		t.Fatal("expected error for tampered chain hash")
	}
	if err := ring.VerifyChainHash(Scope("t2", "P1"), "chainhash", sig, "v1"); err == nil {
		t.Fatal("expected error for a signature moved across tenants")
	}
}

func TestKeyringRotationVerifiesOldSignatures(t *testing.T) {
	old, err := NewKeyring(map[string][]byte{"v1": []byte("one")}, "v1")
	if err != nil {
		t.Fatalf("old keyring: %v", err)
	}
	sig, keyID, err := old.SignChainHash("t1/S1", "hash")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rotated, err := NewKeyring(map[string][]byte{"v1": []byte("one"), "v2": []byte("two")}, "v2")
	if err != nil {
		t.Fatalf("rotated keyring: %v", err)
	}
	if err := rotated.VerifyChainHash("t1/S1", "hash", sig, keyID); err != nil {
		t.Fatalf("verify after rotation: %v", err)
	}
	if _, keyID, _ := rotated.SignChainHash("t1/S1", "hash"); keyID != "v2" {
		t.Fatalf("active key = %s, want v2", keyID)
	}
}
