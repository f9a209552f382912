package session

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/opd-ai/courier/crypto"
)

// protocolInfo namespaces all key derivations of this session version.
const protocolInfo = "courier-fs-v1"

// Session holds the ratchet state shared with exactly one peer identity.
// All access goes through the Store, which serializes per-peer use.
type Session struct {
	PeerIdentity string   `json:"peer_identity"`
	PeerPK       [32]byte `json:"peer_pk"`

	SendChain [32]byte `json:"send_chain"`
	RecvChain [32]byte `json:"recv_chain"`

	// SendCounter is the chain position of the next outgoing message.
	SendCounter uint64 `json:"send_counter"`
	// RecvCounter is the chain position of the next expected incoming
	// message.
	RecvCounter uint64 `json:"recv_counter"`
}

// newFromStaticDH seeds a session from a static Diffie-Hellman exchange
// between our identity key and the peer's long-term public key. Both sides
// derive the same directional chains regardless of who initiates.
func newFromStaticDH(keyPair *crypto.KeyPair, peerIdentity string, peerPK [32]byte) (*Session, error) {
	shared, err := curve25519.X25519(keyPair.Private[:], peerPK[:])
	if err != nil {
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}
	defer crypto.ZeroBytes(shared)

	send, err := deriveChain(shared, keyPair.Public, peerPK)
	if err != nil {
		return nil, err
	}
	recv, err := deriveChain(shared, peerPK, keyPair.Public)
	if err != nil {
		return nil, err
	}

	return &Session{
		PeerIdentity: peerIdentity,
		PeerPK:       peerPK,
		SendChain:    send,
		RecvChain:    recv,
	}, nil
}

// deriveChain derives the directional chain seed for messages flowing from
// fromPK to toPK.
func deriveChain(secret []byte, fromPK, toPK [32]byte) ([32]byte, error) {
	info := make([]byte, 0, len(protocolInfo)+64)
	info = append(info, protocolInfo...)
	info = append(info, fromPK[:]...)
	info = append(info, toPK[:]...)

	var chain [32]byte
	r := hkdf.New(sha256.New, secret, nil, info)
	if _, err := io.ReadFull(r, chain[:]); err != nil {
		return [32]byte{}, fmt.Errorf("failed to derive chain key: %w", err)
	}
	return chain, nil
}

// step derives the message key at the current chain position and the next
// chain key, without mutating the stored chain.
func step(chain [32]byte) (messageKey, nextChain [32]byte, err error) {
	r := hkdf.New(sha256.New, chain[:], nil, []byte(protocolInfo+":ratchet"))
	if _, err = io.ReadFull(r, messageKey[:]); err != nil {
		return
	}
	_, err = io.ReadFull(r, nextChain[:])
	return
}
