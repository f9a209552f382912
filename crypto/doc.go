// Package crypto implements the cryptographic substrate for the dispatch
// pipeline: the per-device identity key pair, NaCl box encryption, and a
// monotonically-unique nonce factory.
//
// Nonces issued by the factory are guaranteed never to repeat on the wire,
// including across process restarts: each nonce combines a per-boot random
// prefix with a persisted, strictly increasing counter.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto
