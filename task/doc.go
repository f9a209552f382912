// Package task implements the durable, ordered, single-flight execution
// engine for outgoing protocol operations.
//
// Receivers enqueue tasks; the Manager archives them, executes them one at
// a time against the shared connection, retries transient failures with
// backoff, and removes them once they succeed or fail terminally. Tasks
// survive process restarts through the Archiver and resume without minting
// new message ids or repeating already-delivered fan-out targets.
package task
