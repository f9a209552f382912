// Package limits provides centralized payload size limits for the dispatch
// pipeline. This ensures consistent validation across receivers and tasks.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxTextBytes is the protocol limit for a text message body.
	MaxTextBytes = 7000

	// MaxCaptionBytes limits the caption attached to a file message.
	MaxCaptionBytes = 1000

	// MaxBallotBytes limits the serialized ballot setup payload, including
	// the description and all choices.
	MaxBallotBytes = 8192

	// MaxSignalingBytes limits a voip signaling payload (offer/answer SDP
	// plus candidates).
	MaxSignalingBytes = 16384

	// MaxEnvelopeBytes is the absolute maximum for any encrypted envelope.
	// This prevents memory exhaustion on the codec path.
	MaxEnvelopeBytes = 1024 * 1024

	// EncryptionOverhead is the overhead added by NaCl box encryption.
	// This is the Poly1305 MAC tag added by box.Seal(); the nonce is
	// carried separately in the envelope header.
	EncryptionOverhead = 16
)

var (
	// ErrPayloadEmpty indicates an empty payload was provided.
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates a payload exceeds its maximum size.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ValidateSize validates a payload against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(payload []byte, maxSize int) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), maxSize)
	}
	return nil
}

// ValidateText validates a text message body against MaxTextBytes.
func ValidateText(body string) error {
	return ValidateSize([]byte(body), MaxTextBytes)
}

// ValidateEnvelope validates an encrypted envelope against MaxEnvelopeBytes.
func ValidateEnvelope(envelope []byte) error {
	return ValidateSize(envelope, MaxEnvelopeBytes)
}
