// Package session maintains the per-peer forward-security sessions the
// dispatch pipeline encrypts under.
//
// A session is a pair of symmetric ratchet chains (send and receive) seeded
// either from a static Diffie-Hellman exchange with the peer's long-term key
// or from a completed Noise IK handshake. Each outgoing message consumes one
// position on the send chain.
//
// The send chain only advances after the transport has acknowledged the
// message: Encrypt derives the message key and returns a PendingEncryption,
// and the chain state is persisted by Commit once the ack arrives. A crash
// between transmit and Commit therefore retransmits under the same chain
// position, preferring a duplicate the peer can discard over a desynchronized
// ratchet the peer cannot decrypt.
//
// Encryptions for the same peer are strictly serialized: a second Encrypt
// call for a peer blocks until the first PendingEncryption is committed or
// aborted.
package session
