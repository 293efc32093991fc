package integrity

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
)

// ErrChainBroken indicates a history whose hashes or signatures do not verify.
var ErrChainBroken = errors.New("event chain broken")

// Seal assigns the hash, chain hash and signature of evt, the successor of
// an event whose chain hash is prevChainHash. Timestamps are truncated to
// milliseconds, the precision stores keep. A nil keyring leaves the event
// unsigned.
func Seal(keyring *Keyring, evt event.Event, prevChainHash string) (event.Event, error) {
	evt.Timestamp = evt.Timestamp.UTC().Truncate(time.Millisecond)
	hash, err := event.EventHash(evt)
	if err != nil {
		return event.Event{}, fmt.Errorf("compute event hash: %w", err)
	}
	evt.Hash = hash
	evt.PrevHash = prevChainHash
	evt.ChainHash = event.ChainHash(prevChainHash, hash)
	evt.Signature, evt.SignatureKeyID = "", ""
	if keyring != nil {
		sig, keyID, err := keyring.SignChainHash(Scope(evt.TenantID, evt.AggregateID), evt.ChainHash)
		if err != nil {
			return event.Event{}, fmt.Errorf("sign chain hash: %w", err)
		}
		evt.Signature, evt.SignatureKeyID = sig, keyID
	}
	return evt, nil
}

// Verify checks an aggregate's ordered history from seq 1: contiguous
// sequence numbers, event hashes, the hash chain and, when keyring is set,
// every signature.
func Verify(keyring *Keyring, events []event.Event) error {
	prev := ""
	for i, evt := range events {
		if want := uint64(i + 1); evt.Seq != want {
			return fmt.Errorf("%w: %s expected seq %d got %d", ErrChainBroken, evt.AggregateID, want, evt.Seq)
		}
		if evt.PrevHash != prev {
			return fmt.Errorf("%w: %s seq %d prev hash mismatch", ErrChainBroken, evt.AggregateID, evt.Seq)
		}
		hash, err := event.EventHash(evt)
		if err != nil {
			return fmt.Errorf("compute event hash: %w", err)
		}
		if hash != evt.Hash {
			return fmt.Errorf("%w: %s seq %d event hash mismatch", ErrChainBroken, evt.AggregateID, evt.Seq)
		}
		if chain := event.ChainHash(prev, hash); chain != evt.ChainHash {
			return fmt.Errorf("%w: %s seq %d chain hash mismatch", ErrChainBroken, evt.AggregateID, evt.Seq)
		}
		if keyring != nil {
			if err := keyring.VerifyChainHash(Scope(evt.TenantID, evt.AggregateID), evt.ChainHash, evt.Signature, evt.SignatureKeyID); err != nil {
				return fmt.Errorf("%w: %s seq %d: %v", ErrChainBroken, evt.AggregateID, evt.Seq, err)
			}
		}
		prev = evt.ChainHash
	}
	return nil
}
