package directory

import "errors"

var (
	// ErrUnknownIdentity indicates the identity is not in the directory.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrUnknownGroup indicates the group id is not in the directory.
	ErrUnknownGroup = errors.New("unknown group")
	// ErrUnknownDistributionList indicates the list id is not known.
	ErrUnknownDistributionList = errors.New("unknown distribution list")
)

// ContactState describes whether a contact can currently receive messages.
type ContactState uint8

const (
	// StateActive means the contact is valid and reachable.
	StateActive ContactState = iota
	// StateInactive means the contact revoked or abandoned its identity;
	// sends are permitted but may never be delivered.
	StateInactive
	// StateInvalid means the identity no longer exists; sending is
	// disallowed.
	StateInvalid
)

// Directory is the contact/group/distribution-list lookup boundary.
type Directory interface {
	// IsBlocked reports whether the identity is on the local block list.
	IsBlocked(identity string) bool

	// ContactState returns the send-eligibility state of a contact.
	ContactState(identity string) (ContactState, error)

	// ContactPublicKey returns the long-term public key of a contact,
	// used to bootstrap forward-security sessions.
	ContactPublicKey(identity string) ([32]byte, error)

	// GroupMembers returns the current member identities of a group,
	// excluding the local identity.
	GroupMembers(groupID string) ([]string, error)

	// DistributionListMembers returns the member identities of a
	// distribution list.
	DistributionListMembers(listID string) ([]string, error)

	// SetHidden marks or unmarks a conversation as hidden.
	SetHidden(conversationID string, hidden bool) error

	// SetArchived marks or unmarks a conversation as archived.
	SetArchived(conversationID string, archived bool) error

	// BumpLastUpdate moves a conversation to the top of the recency
	// ordering.
	BumpLastUpdate(conversationID string) error

	// LastUpdate returns the conversation recency timestamp in unix
	// nanoseconds, zero if never bumped.
	LastUpdate(conversationID string) int64
}
