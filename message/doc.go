// Package message defines the local message model shared by the receiver
// and task layers: message kinds, delivery states, the wire-stable
// APIMessageID, and the typed payload bodies for location, file, ballot and
// voip signaling messages.
package message
