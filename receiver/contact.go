package receiver

import (
	"github.com/opd-ai/courier/directory"
	"github.com/opd-ai/courier/limits"
	"github.com/opd-ai/courier/message"
	"github.com/opd-ai/courier/task"
)

// ContactReceiver targets a single contact identity. It additionally
// carries the contact-only operations: typing indicators and voip call
// signaling.
type ContactReceiver struct {
	base
	identity string
}

// NewContactReceiver creates a receiver for one contact identity.
func NewContactReceiver(deps Deps, identity string) *ContactReceiver {
	r := &ContactReceiver{identity: identity}
	r.base = base{
		deps:           deps,
		conversationID: identity,
		identities: func() ([]string, error) {
			return []string{identity}, nil
		},
	}
	return r
}

// Identity returns the contact identity this receiver targets.
func (r *ContactReceiver) Identity() string {
	return r.identity
}

// ValidateSendingPermission reports whether sending is allowed: denied for
// blocked contacts and for identities whose state disallows sending.
func (r *ContactReceiver) ValidateSendingPermission() (bool, DenialReason) {
	if r.deps.Directory.IsBlocked(r.identity) {
		return false, DenialBlocked
	}
	state, err := r.deps.Directory.ContactState(r.identity)
	if err != nil || state == directory.StateInvalid {
		return false, DenialInvalid
	}
	return true, DenialNone
}

// SendTypingIndicator signals typing state to the contact. Fire-and-forget:
// no local row, dropped on connectivity loss.
func (r *ContactReceiver) SendTypingIndicator(isTyping bool) error {
	body, err := message.EncodeBody(&message.TypingPayload{IsTyping: isTyping})
	if err != nil {
		return err
	}
	return r.sendEphemeral(task.KindTyping, body)
}

// SendVoipCallOfferMessage dispatches a call offer.
func (r *ContactReceiver) SendVoipCallOfferMessage(callID uint64, sdp []byte) error {
	return r.sendVoip(task.KindVoipOffer, &message.VoipSignalPayload{Kind: message.VoipOffer, CallID: callID, Data: sdp})
}

// SendVoipCallAnswerMessage dispatches a call answer.
func (r *ContactReceiver) SendVoipCallAnswerMessage(callID uint64, sdp []byte) error {
	return r.sendVoip(task.KindVoipAnswer, &message.VoipSignalPayload{Kind: message.VoipAnswer, CallID: callID, Data: sdp})
}

// SendVoipCallRingingMessage signals ringing to the caller.
func (r *ContactReceiver) SendVoipCallRingingMessage(callID uint64) error {
	return r.sendVoip(task.KindVoipRinging, &message.VoipSignalPayload{Kind: message.VoipRinging, CallID: callID})
}

// SendVoipICECandidatesMessage dispatches ICE candidates.
func (r *ContactReceiver) SendVoipICECandidatesMessage(callID uint64, candidates []string) error {
	return r.sendVoip(task.KindVoipICECandidates, &message.VoipSignalPayload{Kind: message.VoipICECandidates, CallID: callID, Candidates: candidates})
}

// SendVoipCallHangupMessage dispatches a hangup.
func (r *ContactReceiver) SendVoipCallHangupMessage(callID uint64) error {
	return r.sendVoip(task.KindVoipHangup, &message.VoipSignalPayload{Kind: message.VoipHangup, CallID: callID})
}

func (r *ContactReceiver) sendVoip(kind task.Kind, payload *message.VoipSignalPayload) error {
	body, err := message.EncodeBody(payload)
	if err != nil {
		return err
	}
	if err := limits.ValidateSize(body, limits.MaxSignalingBytes); err != nil {
		return err
	}
	return r.sendEphemeral(kind, body)
}
