// Package hmackey generates secrets for the ledger's event signing keyring.
package hmackey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/kilnline/ledger/internal/platform/config"
	"github.com/kilnline/ledger/internal/services/ledger/storage/integrity"
)

// MinBytes is the shortest secret the generator hands out.
const MinBytes = 16

// Config holds configuration for HMAC key generation.
type Config struct {
	Bytes int
	// KeyID, when set, emits a keyring entry for rotation instead of a
	// single key.
	KeyID string
	// Existing is the current EVENT_HMAC_KEYS list the new entry joins.
	Existing string
}

// ParseConfig parses flags into a Config. lookup supplies the current
// keyring list so a rotation keeps older keys verifiable.
func ParseConfig(fs *flag.FlagSet, args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Config{Bytes: 32}
	if lookup != nil {
		cfg.Existing, _ = lookup(config.EnvPrefix + "EVENT_HMAC_KEYS")
	}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random bytes")
	fs.StringVar(&cfg.KeyID, "key-id", "", "emit a rotation entry under this key id")
	fs.StringVar(&cfg.Existing, "existing", cfg.Existing, "current id=secret list the rotation entry joins")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates a secret and writes it to out as environment assignments.
// A nil reader uses crypto/rand.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes < MinBytes {
		return fmt.Errorf("bytes must be at least %d", MinBytes)
	}
	if out == nil {
		return errors.New("output is required")
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	if strings.ContainsAny(keyID, ",=") {
		return errors.New("key id must not contain ',' or '='")
	}
	if reader == nil {
		reader = rand.Reader
	}

	raw := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	secret := hex.EncodeToString(raw)

	if keyID == "" {
		_, err := fmt.Fprintf(out, "%sEVENT_HMAC_KEY=%s\n", config.EnvPrefix, secret)
		return err
	}

	keys := keyID + "=" + secret
	if existing := strings.TrimSpace(cfg.Existing); existing != "" {
		keys = existing + "," + keys
	}
	// The ledger must accept the result before anyone pastes it.
	if _, err := integrity.KeyringFromConfig(integrity.Config{Keys: keys, KeyID: keyID}); err != nil {
		return fmt.Errorf("rotated keyring: %w", err)
	}
	for _, existingID := range entryIDs(cfg.Existing) {
		if existingID == keyID {
			return fmt.Errorf("key id %q is already in the keyring", keyID)
		}
	}
	_, err := fmt.Fprintf(out, "%sEVENT_HMAC_KEYS=%s\n%sEVENT_HMAC_KEY_ID=%s\n",
		config.EnvPrefix, keys, config.EnvPrefix, keyID)
	return err
}

func entryIDs(list string) []string {
	var ids []string
	for _, entry := range strings.Split(list, ",") {
		if id, _, ok := strings.Cut(strings.TrimSpace(entry), "="); ok {
			ids = append(ids, strings.TrimSpace(id))
		}
	}
	return ids
}
