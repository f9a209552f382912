// Package receiver is the entry point application code uses to turn "user
// wants to send X" into durable, dispatchable state.
//
// A Receiver represents the addressable target of a message: a single
// contact, a group (fan-out to current members) or a distribution list
// (fan-out without group protocol semantics). Its CreateAndSend operations
// mint the wire-stable message id, persist the local row, surface the
// conversation and enqueue the matching task on the dispatch manager.
//
// Callers are expected to check ValidateSendingPermission before sending;
// the pipeline does not re-check it internally.
package receiver
