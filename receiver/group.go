package receiver

// GroupReceiver targets a group: the identity set is the group's current
// membership, snapshotted at enqueue time so late membership changes never
// alter who receives an already-queued task.
type GroupReceiver struct {
	base
	groupID string
}

// NewGroupReceiver creates a receiver for a group id.
func NewGroupReceiver(deps Deps, groupID string) *GroupReceiver {
	r := &GroupReceiver{groupID: groupID}
	r.base = base{
		deps:           deps,
		conversationID: groupID,
		identities: func() ([]string, error) {
			return deps.Directory.GroupMembers(groupID)
		},
	}
	return r
}

// GroupID returns the group id this receiver targets.
func (r *GroupReceiver) GroupID() string {
	return r.groupID
}

// ValidateSendingPermission reports whether sending is allowed: denied when
// the group is unknown or has no members to send to.
func (r *GroupReceiver) ValidateSendingPermission() (bool, DenialReason) {
	members, err := r.deps.Directory.GroupMembers(r.groupID)
	if err != nil || len(members) == 0 {
		return false, DenialInvalid
	}
	return true, DenialNone
}
