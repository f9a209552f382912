package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// nonceReservationBlock is how many counter values are reserved per state
// file write. A crash loses at most one block of unused values; it can
// never reissue a value.
const nonceReservationBlock = 1024

// nonceStateFile holds the persisted counter high-water mark.
const nonceStateFile = "nonce_state.json"

type nonceState struct {
	Reserved uint64 `json:"reserved"`
}

// NonceFactory issues 24-byte nonces that are unique across the lifetime of
// the device identity, including across process restarts. Each nonce is a
// 16-byte per-boot random prefix followed by an 8-byte big-endian counter
// whose high-water mark is persisted ahead of use.
type NonceFactory struct {
	mu       sync.Mutex
	prefix   [16]byte
	next     uint64
	reserved uint64
	path     string
}

// NewNonceFactory creates a nonce factory persisting its counter state under
// dataDir. Resumes from the previously reserved mark if state exists.
func NewNonceFactory(dataDir string) (*NonceFactory, error) {
	nf := &NonceFactory{path: filepath.Join(dataDir, nonceStateFile)}

	if _, err := rand.Read(nf.prefix[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce prefix: %w", err)
	}

	if data, err := os.ReadFile(nf.path); err == nil {
		var state nonceState
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("corrupt nonce state: %w", err)
		}
		nf.next = state.Reserved
		nf.reserved = state.Reserved
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read nonce state: %w", err)
	}

	if err := nf.reserve(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewNonceFactory",
		"next":     nf.next,
		"reserved": nf.reserved,
	}).Debug("Nonce factory initialized")

	return nf, nil
}

// Next returns a fresh nonce. Never returns the same value twice for the
// lifetime of the state directory.
func (nf *NonceFactory) Next() (Nonce, error) {
	nf.mu.Lock()
	defer nf.mu.Unlock()

	if nf.next >= nf.reserved {
		if err := nf.reserve(); err != nil {
			return Nonce{}, err
		}
	}

	var nonce Nonce
	copy(nonce[:16], nf.prefix[:])
	binary.BigEndian.PutUint64(nonce[16:], nf.next)
	nf.next++
	return nonce, nil
}

// reserve persists a new high-water mark before any value below it is
// issued. Caller must hold nf.mu (or be the constructor).
func (nf *NonceFactory) reserve() error {
	mark := nf.next + nonceReservationBlock
	data, err := json.Marshal(nonceState{Reserved: mark})
	if err != nil {
		return err
	}

	tmp := nf.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to persist nonce state: %w", err)
	}
	if err := os.Rename(tmp, nf.path); err != nil {
		return fmt.Errorf("failed to persist nonce state: %w", err)
	}

	nf.reserved = mark
	return nil
}
