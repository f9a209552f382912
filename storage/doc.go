// Package storage persists the local message model. The Store interface is
// the boundary the dispatch core depends on; SQLiteStore is the default
// implementation backed by mattn/go-sqlite3.
package storage
