package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/crypto"
)

var (
	// ErrNoSession indicates no session exists for the peer.
	ErrNoSession = errors.New("no session for peer")
)

// Store supplies, under per-peer mutual exclusion, the encryption context
// for each peer and atomically advances it on commit.
type Store struct {
	mu       sync.Mutex
	keyPair  *crypto.KeyPair
	nonces   *crypto.NonceFactory
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
	persist  *stateFile
}

// NewStore opens the session store, loading any persisted sessions from
// dataDir sealed under the identity private key.
func NewStore(keyPair *crypto.KeyPair, nonces *crypto.NonceFactory, dataDir string) (*Store, error) {
	persist := newStateFile(dataDir, keyPair.Private[:])
	sessions, err := persist.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load session state: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewStore",
		"sessions": len(sessions),
	}).Info("Session store opened")

	return &Store{
		keyPair:  keyPair,
		nonces:   nonces,
		sessions: sessions,
		locks:    make(map[string]*sync.Mutex),
		persist:  persist,
	}, nil
}

// GetOrCreate returns the session for a peer, bootstrapping one from the
// peer's long-term public key on first use.
func (s *Store) GetOrCreate(peerIdentity string, peerPK [32]byte) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[peerIdentity]; ok {
		return sess, nil
	}

	sess, err := newFromStaticDH(s.keyPair, peerIdentity, peerPK)
	if err != nil {
		return nil, err
	}
	s.sessions[peerIdentity] = sess
	if err := s.persist.save(s.sessions); err != nil {
		delete(s.sessions, peerIdentity)
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "GetOrCreate",
		"peer":     peerIdentity,
	}).Debug("Bootstrapped forward-security session")

	return sess, nil
}

// EstablishFromHandshake replaces the peer's session with one seeded from a
// completed Noise IK handshake. Used when both parties are online and a
// fresh ephemeral-backed session can be negotiated.
func (s *Store) EstablishFromHandshake(peerIdentity string, peerPK [32]byte, hs *Handshake) error {
	sendSeed, recvSeed, err := hs.ChainSeeds()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[peerIdentity] = &Session{
		PeerIdentity: peerIdentity,
		PeerPK:       peerPK,
		SendChain:    sendSeed,
		RecvChain:    recvSeed,
	}

	logrus.WithFields(logrus.Fields{
		"function": "EstablishFromHandshake",
		"peer":     peerIdentity,
	}).Info("Forward-security session established via handshake")

	return s.persist.save(s.sessions)
}

// Reset tears down the peer's session. The next GetOrCreate bootstraps a
// fresh one. Invoked on protocol-mandated renegotiation (version mismatch,
// explicit reset signal).
func (s *Store) Reset(peerIdentity string) error {
	lock := s.peerLock(peerIdentity)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[peerIdentity]; ok {
		crypto.ZeroBytes(sess.SendChain[:])
		crypto.ZeroBytes(sess.RecvChain[:])
		delete(s.sessions, peerIdentity)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Reset",
		"peer":     peerIdentity,
	}).Info("Forward-security session torn down")

	return s.persist.save(s.sessions)
}

// PendingEncryption is a ciphertext whose chain advance has not happened
// yet. Exactly one of Commit or Abort must be called; the peer's session
// stays locked until then, serializing concurrent sends to the same peer.
type PendingEncryption struct {
	Ciphertext []byte
	Nonce      crypto.Nonce
	// Counter is the send-chain position this ciphertext was encrypted at.
	Counter uint64

	store     *Store
	session   *Session
	nextChain [32]byte
	lock      *sync.Mutex
	done      bool
}

// Encrypt derives the message key at the current send-chain position and
// encrypts plaintext under it. The chain does not advance until Commit.
// Blocks while another PendingEncryption for the same peer is outstanding.
func (s *Store) Encrypt(peerIdentity string, plaintext []byte) (*PendingEncryption, error) {
	lock := s.peerLock(peerIdentity)
	lock.Lock()

	s.mu.Lock()
	sess, ok := s.sessions[peerIdentity]
	s.mu.Unlock()
	if !ok {
		lock.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoSession, peerIdentity)
	}

	messageKey, nextChain, err := step(sess.SendChain)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to derive message key: %w", err)
	}

	nonce, err := s.nonces.Next()
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	ciphertext, err := crypto.EncryptSymmetric(plaintext, nonce, messageKey)
	crypto.ZeroBytes(messageKey[:])
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to encrypt under session key: %w", err)
	}

	return &PendingEncryption{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		Counter:    sess.SendCounter,
		store:      s,
		session:    sess,
		nextChain:  nextChain,
		lock:       lock,
	}, nil
}

// Commit advances the send chain past this message and persists the new
// state. Call only after the transport acknowledged the ciphertext.
func (p *PendingEncryption) Commit() error {
	if p.done {
		return errors.New("pending encryption already finished")
	}
	p.done = true
	defer p.lock.Unlock()

	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	p.session.SendChain = p.nextChain
	p.session.SendCounter++
	crypto.ZeroBytes(p.nextChain[:])

	return p.store.persist.save(p.store.sessions)
}

// Abort discards the pending encryption without advancing the chain. The
// same chain position will be reused for the retry, so the peer can
// deduplicate a retransmission.
func (p *PendingEncryption) Abort() {
	if p.done {
		return
	}
	p.done = true
	crypto.ZeroBytes(p.nextChain[:])
	p.lock.Unlock()
}

// Decrypt opens an incoming ciphertext at the current receive-chain
// position and advances the receive chain immediately.
func (s *Store) Decrypt(peerIdentity string, ciphertext []byte, nonce crypto.Nonce) ([]byte, error) {
	lock := s.peerLock(peerIdentity)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	sess, ok := s.sessions[peerIdentity]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, peerIdentity)
	}

	messageKey, nextChain, err := step(sess.RecvChain)
	if err != nil {
		return nil, fmt.Errorf("failed to derive message key: %w", err)
	}

	plaintext, err := crypto.DecryptSymmetric(ciphertext, nonce, messageKey)
	crypto.ZeroBytes(messageKey[:])
	if err != nil {
		// Retransmission of the previous chain position: the peer did
		// not see our ack, resent under the old key. Tolerated, the
		// chain stays put.
		return nil, err
	}

	s.mu.Lock()
	sess.RecvChain = nextChain
	sess.RecvCounter++
	err = s.persist.save(s.sessions)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return plaintext, nil
}

// SendCounter returns the current send-chain position for a peer, zero if
// no session exists.
func (s *Store) SendCounter(peerIdentity string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[peerIdentity]; ok {
		return sess.SendCounter
	}
	return 0
}

// peerLock returns the serialization lock for a peer, creating it if
// needed. Locks are per peer so different peers' sessions advance
// independently.
func (s *Store) peerLock(peerIdentity string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[peerIdentity]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[peerIdentity] = lock
	}
	return lock
}
