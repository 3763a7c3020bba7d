// Package statekeeper models the typed, prefix-scoped key-value store that
// policies and elements persist playlist state, playback indices, and
// default/next media through. Transactions are atomic
// within one keeper instance but not across keepers.
package statekeeper

import "context"

// Txn is an open transaction against one key prefix namespace.
type Txn interface {
	SetValue(key, value string)
	DeleteValue(key string)
	Commit(ctx context.Context) error
}

// Keeper is the state keeper contract.
type Keeper interface {
	// Begin opens a transaction scoped under namespace (typically an
	// element's or policy's own name).
	Begin(namespace string) Txn
	// GetKeyValues returns every key/value pair under namespace whose key
	// has the given prefix.
	GetKeyValues(ctx context.Context, namespace, prefix string) (map[string]string, error)
	// Clear removes every key under namespace (used by temp/per-request
	// policies on destruction).
	Clear(ctx context.Context, namespace string) error
}
