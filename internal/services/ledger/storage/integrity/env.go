package integrity

import (
	"fmt"
	"strings"

	"github.com/kilnline/ledger/internal/platform/config"
)

const defaultKeyID = "v1"

// Config holds the keyring environment. Keys is a comma separated
// "id=secret" list; Key is a single secret stored under KeyID.
type Config struct {
	Keys  string `env:"EVENT_HMAC_KEYS"`
	Key   string `env:"EVENT_HMAC_KEY"`
	KeyID string `env:"EVENT_HMAC_KEY_ID" envDefault:"v1"`
}

// KeyringFromEnv loads the HMAC keyring from KILNLINE_LEDGER_EVENT_HMAC_*.
func KeyringFromEnv() (*Keyring, error) {
	var cfg Config
	if err := config.ParseEnvPrefixed(&cfg, config.EnvPrefix); err != nil {
		return nil, err
	}
	return KeyringFromConfig(cfg)
}

// KeyringFromConfig builds a keyring from parsed configuration.
func KeyringFromConfig(cfg Config) (*Keyring, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		keyID = defaultKeyID
	}

	keySpec := strings.TrimSpace(cfg.Keys)
	if keySpec == "" {
		raw := strings.TrimSpace(cfg.Key)
		if raw == "" {
			return nil, fmt.Errorf("%sEVENT_HMAC_KEY is required", config.EnvPrefix)
		}
		return NewKeyring(map[string][]byte{keyID: []byte(raw)}, keyID)
	}

	keys := make(map[string][]byte)
	for _, entry := range strings.Split(keySpec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, value, ok := strings.Cut(entry, "=")
		id, value = strings.TrimSpace(id), strings.TrimSpace(value)
		if !ok || id == "" || value == "" {
			return nil, fmt.Errorf("invalid %sEVENT_HMAC_KEYS entry", config.EnvPrefix)
		}
		keys[id] = []byte(value)
	}
	return NewKeyring(keys, keyID)
}
