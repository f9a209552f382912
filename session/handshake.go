package session

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/courier/crypto"
)

var (
	// ErrHandshakeNotComplete indicates the handshake is still in progress.
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates the handshake already finished.
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// Role defines whether we initiate or respond to a session handshake.
type Role uint8

const (
	// Initiator starts the handshake and knows the peer's static key.
	Initiator Role = iota
	// Responder answers a handshake initiation.
	Responder
)

// Handshake runs the Noise IK pattern to negotiate a fresh ephemeral-backed
// session with a live peer. IK provides mutual authentication and forward
// secrecy when the initiator knows the responder's long-term public key.
type Handshake struct {
	role     Role
	state    *noise.HandshakeState
	complete bool
	binding  []byte
}

// NewHandshake creates an IK handshake using our identity key pair.
// peerPK is required for the initiator and ignored for the responder.
func NewHandshake(keyPair *crypto.KeyPair, peerPK []byte, role Role) (*Handshake, error) {
	if role == Initiator && len(peerPK) != 32 {
		return nil, fmt.Errorf("initiator requires peer public key (32 bytes), got %d", len(peerPK))
	}

	staticKey := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(staticKey.Private, keyPair.Private[:])
	copy(staticKey.Public, keyPair.Public[:])

	config := noise.Config{
		CipherSuite:   noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256),
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}
	if role == Initiator {
		config.PeerStatic = make([]byte, 32)
		copy(config.PeerStatic, peerPK)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &Handshake{role: role, state: state}, nil
}

// WriteMessage produces the next handshake message to send to the peer.
func (h *Handshake) WriteMessage(payload []byte) ([]byte, error) {
	if h.complete {
		return nil, ErrHandshakeComplete
	}

	msg, cs1, cs2, err := h.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("handshake write failed: %w", err)
	}
	if cs1 != nil && cs2 != nil {
		h.finish()
	}
	return msg, nil
}

// ReadMessage consumes a handshake message received from the peer and
// returns its embedded payload.
func (h *Handshake) ReadMessage(received []byte) ([]byte, error) {
	if h.complete {
		return nil, ErrHandshakeComplete
	}

	payload, cs1, cs2, err := h.state.ReadMessage(nil, received)
	if err != nil {
		return nil, fmt.Errorf("handshake read failed: %w", err)
	}
	if cs1 != nil && cs2 != nil {
		h.finish()
	}
	return payload, nil
}

// Complete reports whether the handshake has finished.
func (h *Handshake) Complete() bool {
	return h.complete
}

func (h *Handshake) finish() {
	h.complete = true
	h.binding = append([]byte(nil), h.state.ChannelBinding()...)
}

// ChainSeeds derives the directional ratchet chain seeds from the handshake
// transcript. Both sides derive the same pair, swapped by role.
func (h *Handshake) ChainSeeds() (send, recv [32]byte, err error) {
	if !h.complete {
		return send, recv, ErrHandshakeNotComplete
	}

	var i2r, r2i [32]byte
	r := hkdf.New(sha256.New, h.binding, nil, []byte(protocolInfo+":handshake"))
	if _, err = io.ReadFull(r, i2r[:]); err != nil {
		return
	}
	if _, err = io.ReadFull(r, r2i[:]); err != nil {
		return
	}

	if h.role == Initiator {
		return i2r, r2i, nil
	}
	return r2i, i2r, nil
}
