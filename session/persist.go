package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// sessionsFileName holds the sealed session state under the data directory.
const sessionsFileName = "sessions.bin"

// stateFile persists sessions as AES-GCM-sealed JSON keyed by the identity
// private key, so ratchet state at rest is as protected as the identity.
type stateFile struct {
	path string
	key  [32]byte
}

func newStateFile(dataDir string, keyMaterial []byte) *stateFile {
	return &stateFile{
		path: filepath.Join(dataDir, sessionsFileName),
		key:  sha256.Sum256(keyMaterial),
	}
}

func (sf *stateFile) save(sessions map[string]*Session) error {
	plaintext, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}

	sealed, err := sf.seal(plaintext)
	if err != nil {
		return err
	}

	tmp := sf.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := os.Rename(tmp, sf.path); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	return nil
}

func (sf *stateFile) load() (map[string]*Session, error) {
	sealed, err := os.ReadFile(sf.path)
	if os.IsNotExist(err) {
		return make(map[string]*Session), nil
	}
	if err != nil {
		return nil, err
	}

	plaintext, err := sf.open(sealed)
	if err != nil {
		return nil, err
	}

	sessions := make(map[string]*Session)
	if err := json.Unmarshal(plaintext, &sessions); err != nil {
		return nil, fmt.Errorf("corrupt session state: %w", err)
	}
	return sessions, nil
}

func (sf *stateFile) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(sf.key[:])
	if err != nil {
		return nil, err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return aesGCM.Seal(nonce, nonce, plaintext, nil), nil
}

func (sf *stateFile) open(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(sf.key[:])
	if err != nil {
		return nil, err
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aesGCM.NonceSize() {
		return nil, errors.New("sealed session state too short")
	}
	nonce := sealed[:aesGCM.NonceSize()]
	ciphertext := sealed[aesGCM.NonceSize():]

	return aesGCM.Open(nil, nonce, ciphertext, nil)
}
