// Package store persists normalized conversations and their intelligence
// analyses in SQLite. Each record upsert is atomic per conversation id;
// there are no cross-record transactions.
package store
