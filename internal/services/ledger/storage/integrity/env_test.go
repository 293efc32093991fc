package integrity

import "testing"

func setKeyEnv(t *testing.T, key, keys, keyID string) {
	t.Helper()
	t.Setenv("KILNLINE_LEDGER_EVENT_HMAC_KEY", key)
	t.Setenv("KILNLINE_LEDGER_EVENT_HMAC_KEYS", keys)
	t.Setenv("KILNLINE_LEDGER_EVENT_HMAC_KEY_ID", keyID)
}

func TestKeyringFromEnvRequiresKey(t *testing.T) {
	setKeyEnv(t, "", "", "")
	if _, err := KeyringFromEnv(); err == nil {
		t.Fatal("expected error when no key is configured")
	}
}

func TestKeyringFromEnvSingleKey(t *testing.T) {
	setKeyEnv(t, "secret", "", "")
	ring, err := KeyringFromEnv()
	if err != nil {
		t.Fatalf("keyring from env: %v", err)
	}
	if ring.ActiveKeyID() != "v1" {
		t.Fatalf("expected default key id v1, got %s", ring.ActiveKeyID())
	}
}

func TestKeyringFromEnvWhitespaceKeySpecFallsBack(t *testing.T) {
	setKeyEnv(t, "secret", "   ", "")
	ring, err := KeyringFromEnv()
	if err != nil {
		t.Fatalf("keyring from env: %v", err)
	}
	if ring.ActiveKeyID() != "v1" {
		t.Fatalf("expected default key id v1, got %s", ring.ActiveKeyID())
	}
}

func TestKeyringFromEnvKeySpec(t *testing.T) {
	setKeyEnv(t, "", "k1=one, k2=two", "k2")
	ring, err := KeyringFromEnv()
	if err != nil {
		t.Fatalf("keyring from env: %v", err)
	}
	if ring.ActiveKeyID() != "k2" {
		t.Fatalf("active key id = %s, want k2", ring.ActiveKeyID())
	}
}

func TestKeyringFromEnvInvalidSpec(t *testing.T) {
	setKeyEnv(t, "", "k1", "k1")
	if _, err := KeyringFromEnv(); err == nil {
		t.Fatal("expected error for entry without '='")
	}
	setKeyEnv(t, "", "k1=one", "k9")
	if _, err := KeyringFromEnv(); err == nil {
		t.Fatal("expected error for inactive key id")
	}
}
