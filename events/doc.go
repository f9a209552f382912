// Package events provides the in-process event bus the dispatch core
// publishes state changes on. Subscriptions are scoped by a handle whose
// Close unsubscribes, so observer lifetime is tied to an owned value rather
// than a manual remove-on-teardown convention.
package events
