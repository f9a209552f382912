package directory

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type contactEntry struct {
	state     ContactState
	publicKey [32]byte
	blocked   bool
}

type conversationFlags struct {
	hidden     bool
	archived   bool
	lastUpdate int64
}

// MemoryDirectory is an in-process Directory implementation.
type MemoryDirectory struct {
	mu            sync.RWMutex
	contacts      map[string]*contactEntry
	groups        map[string][]string
	lists         map[string][]string
	conversations map[string]*conversationFlags
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		contacts:      make(map[string]*contactEntry),
		groups:        make(map[string][]string),
		lists:         make(map[string][]string),
		conversations: make(map[string]*conversationFlags),
	}
}

// AddContact registers a contact with its public key.
func (d *MemoryDirectory) AddContact(identity string, publicKey [32]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.contacts[identity] = &contactEntry{state: StateActive, publicKey: publicKey}

	logrus.WithFields(logrus.Fields{
		"function": "AddContact",
		"identity": identity,
	}).Debug("Contact added to directory")
}

// SetContactState updates a contact's send-eligibility state.
func (d *MemoryDirectory) SetContactState(identity string, state ContactState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.contacts[identity]; ok {
		c.state = state
	}
}

// SetBlocked adds or removes an identity from the block list.
func (d *MemoryDirectory) SetBlocked(identity string, blocked bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.contacts[identity]; ok {
		c.blocked = blocked
	}
}

// SetGroup registers a group with its member identities.
func (d *MemoryDirectory) SetGroup(groupID string, members []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[groupID] = append([]string(nil), members...)
}

// SetDistributionList registers a distribution list with its members.
func (d *MemoryDirectory) SetDistributionList(listID string, members []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lists[listID] = append([]string(nil), members...)
}

// IsBlocked reports whether the identity is on the local block list.
func (d *MemoryDirectory) IsBlocked(identity string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[identity]
	return ok && c.blocked
}

// ContactState returns the send-eligibility state of a contact.
func (d *MemoryDirectory) ContactState(identity string) (ContactState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[identity]
	if !ok {
		return StateInvalid, ErrUnknownIdentity
	}
	return c.state, nil
}

// ContactPublicKey returns the long-term public key of a contact.
func (d *MemoryDirectory) ContactPublicKey(identity string) ([32]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[identity]
	if !ok {
		return [32]byte{}, ErrUnknownIdentity
	}
	return c.publicKey, nil
}

// GroupMembers returns a copy of the current group membership.
func (d *MemoryDirectory) GroupMembers(groupID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members, ok := d.groups[groupID]
	if !ok {
		return nil, ErrUnknownGroup
	}
	return append([]string(nil), members...), nil
}

// DistributionListMembers returns a copy of the list membership.
func (d *MemoryDirectory) DistributionListMembers(listID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members, ok := d.lists[listID]
	if !ok {
		return nil, ErrUnknownDistributionList
	}
	return append([]string(nil), members...), nil
}

// SetHidden marks or unmarks a conversation as hidden.
func (d *MemoryDirectory) SetHidden(conversationID string, hidden bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flags(conversationID).hidden = hidden
	return nil
}

// SetArchived marks or unmarks a conversation as archived.
func (d *MemoryDirectory) SetArchived(conversationID string, archived bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flags(conversationID).archived = archived
	return nil
}

// IsHidden reports the hidden flag of a conversation.
func (d *MemoryDirectory) IsHidden(conversationID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.conversations[conversationID]
	return ok && f.hidden
}

// IsArchived reports the archived flag of a conversation.
func (d *MemoryDirectory) IsArchived(conversationID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.conversations[conversationID]
	return ok && f.archived
}

// BumpLastUpdate moves a conversation to the top of the recency ordering.
func (d *MemoryDirectory) BumpLastUpdate(conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flags(conversationID).lastUpdate = time.Now().UnixNano()
	return nil
}

// LastUpdate returns the conversation recency timestamp.
func (d *MemoryDirectory) LastUpdate(conversationID string) int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.conversations[conversationID]
	if !ok {
		return 0
	}
	return f.lastUpdate
}

// flags returns the flag entry for a conversation, creating it if needed.
// Caller must hold d.mu.
func (d *MemoryDirectory) flags(conversationID string) *conversationFlags {
	f, ok := d.conversations[conversationID]
	if !ok {
		f = &conversationFlags{}
		d.conversations[conversationID] = f
	}
	return f
}
