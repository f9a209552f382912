package message

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidBlobID indicates a malformed or empty blob reference.
	ErrInvalidBlobID = errors.New("invalid blob id")
	// ErrInvalidBallotID indicates a malformed ballot identifier.
	ErrInvalidBallotID = errors.New("invalid ballot id")
)

// BlobIDLength is the length in bytes of a blob store identifier.
const BlobIDLength = 16

// BlobID references a separately uploaded binary payload. The dispatch
// core never touches blob bytes, only ids handed over by the upload
// collaborator.
type BlobID string

// ValidateBlobID checks that a blob id is well formed.
func ValidateBlobID(id BlobID) error {
	raw, err := hex.DecodeString(string(id))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBlobID, err)
	}
	if len(raw) != BlobIDLength {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidBlobID, len(raw), BlobIDLength)
	}
	return nil
}

// TextPayload is the body of a text message.
type TextPayload struct {
	Text string `json:"text"`
}

// LocationPayload carries geographic coordinates and an optional label.
type LocationPayload struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// FilePayload references an uploaded blob plus its rendering metadata.
type FilePayload struct {
	BlobID          BlobID `json:"blob_id"`
	ThumbnailBlobID BlobID `json:"thumbnail_blob_id,omitempty"`
	EncryptionKey   []byte `json:"encryption_key"`
	MimeType        string `json:"mime_type"`
	FileName        string `json:"file_name"`
	Size            int64  `json:"size"`
	Caption         string `json:"caption,omitempty"`
}

// BallotSetupPayload creates or closes a poll.
type BallotSetupPayload struct {
	BallotID    string   `json:"ballot_id"`
	Description string   `json:"description"`
	Choices     []string `json:"choices"`
	Closing     bool     `json:"closing"`
}

// Validate checks the ballot id is 8 hex-encoded bytes.
func (p *BallotSetupPayload) Validate() error {
	raw, err := hex.DecodeString(p.BallotID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBallotID, err)
	}
	if len(raw) != 8 {
		return fmt.Errorf("%w: got %d bytes, want 8", ErrInvalidBallotID, len(raw))
	}
	if len(p.Choices) == 0 && !p.Closing {
		return errors.New("ballot setup requires at least one choice")
	}
	return nil
}

// BallotVotePayload casts votes on an open poll.
type BallotVotePayload struct {
	BallotID      string `json:"ballot_id"`
	BallotCreator string `json:"ballot_creator"`
	Votes         []int  `json:"votes"`
}

// Validate checks the ballot reference of a vote.
func (p *BallotVotePayload) Validate() error {
	raw, err := hex.DecodeString(p.BallotID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBallotID, err)
	}
	if len(raw) != 8 {
		return fmt.Errorf("%w: got %d bytes, want 8", ErrInvalidBallotID, len(raw))
	}
	return nil
}

// ReceiptType distinguishes delivery receipt semantics.
type ReceiptType uint8

const (
	ReceiptReceived ReceiptType = iota + 1
	ReceiptRead
	ReceiptUserAck
	ReceiptUserDecline
)

// DeliveryReceiptPayload acknowledges one or more messages to the peer.
type DeliveryReceiptPayload struct {
	Receipt    ReceiptType    `json:"receipt"`
	MessageIDs []APIMessageID `json:"message_ids"`
}

// TypingPayload is the ephemeral typing indicator.
type TypingPayload struct {
	IsTyping bool `json:"is_typing"`
}

// VoipSignalKind discriminates voip signaling payloads.
type VoipSignalKind uint8

const (
	VoipOffer VoipSignalKind = iota + 1
	VoipAnswer
	VoipRinging
	VoipICECandidates
	VoipHangup
)

// VoipSignalPayload is an ephemeral call-signaling message. The SDP and
// candidate bodies are opaque to this core.
type VoipSignalPayload struct {
	Kind       VoipSignalKind `json:"kind"`
	CallID     uint64         `json:"call_id"`
	Data       []byte         `json:"data,omitempty"`
	Candidates []string       `json:"candidates,omitempty"`
}

// EditPayload replaces the body of an already delivered message.
type EditPayload struct {
	TargetID APIMessageID `json:"target_id"`
	Text     string       `json:"text"`
	EditedAt time.Time    `json:"edited_at"`
}

// DeletePayload retracts an already delivered message.
type DeletePayload struct {
	TargetID  APIMessageID `json:"target_id"`
	DeletedAt time.Time    `json:"deleted_at"`
}

// EncodeBody serializes a payload struct into a message body.
func EncodeBody(payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return body, nil
}

// DecodeBody deserializes a message body into the given payload struct.
func DecodeBody(body []byte, payload any) error {
	if err := json.Unmarshal(body, payload); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
