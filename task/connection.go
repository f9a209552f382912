package task

import (
	"context"

	"github.com/opd-ai/courier/crypto"
	"github.com/opd-ai/courier/message"
)

// Envelope is one encrypted frame handed to the connection for transmit.
// The wire framing below this struct belongs to the transport.
type Envelope struct {
	// APIID lets the server and peers deduplicate retransmissions.
	APIID message.APIMessageID
	// To is the recipient identity.
	To string
	// Kind mirrors the task kind for transport-level routing.
	Kind Kind
	// Counter is the forward-security chain position of the ciphertext.
	Counter uint64
	// Nonce is the unique encryption nonce.
	Nonce crypto.Nonce
	// Ciphertext is the session-encrypted payload.
	Ciphertext []byte
}

// Connection is the single logical connection the manager drives I/O
// through. It is owned by the surrounding application lifecycle; the
// dispatch core only borrows it.
type Connection interface {
	// Send transmits an envelope and blocks until the server acknowledges
	// it or ctx is done. Implementations return ErrAckTimeout (or any
	// error wrapped by Transient) for retryable conditions.
	Send(ctx context.Context, env *Envelope) error

	// Connected reports current connectivity.
	Connected() bool

	// WaitUntilConnected blocks until the connection is usable or ctx is
	// done. The ctx deadline is the lifetime service's decision on how
	// long background sending may keep trying.
	WaitUntilConnected(ctx context.Context) error
}
