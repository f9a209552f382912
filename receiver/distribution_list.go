package receiver

// DistributionListReceiver fans a message out to the list's member
// contacts individually, with no group protocol semantics: each member
// sees a plain contact message.
type DistributionListReceiver struct {
	base
	listID string
}

// NewDistributionListReceiver creates a receiver for a distribution list.
func NewDistributionListReceiver(deps Deps, listID string) *DistributionListReceiver {
	r := &DistributionListReceiver{listID: listID}
	r.base = base{
		deps:           deps,
		conversationID: listID,
		identities: func() ([]string, error) {
			return deps.Directory.DistributionListMembers(listID)
		},
	}
	return r
}

// ListID returns the distribution list id this receiver targets.
func (r *DistributionListReceiver) ListID() string {
	return r.listID
}

// ValidateSendingPermission reports whether sending is allowed: denied when
// the list is unknown or empty.
func (r *DistributionListReceiver) ValidateSendingPermission() (bool, DenialReason) {
	members, err := r.deps.Directory.DistributionListMembers(r.listID)
	if err != nil || len(members) == 0 {
		return false, DenialInvalid
	}
	return true, DenialNone
}
