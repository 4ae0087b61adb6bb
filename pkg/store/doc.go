// Package store persists device state behind a small key-value contract.
//
// The agent keeps four records across process restarts: the device identity,
// the serialized private key, the public key PEM and the current token.
// Backends are interchangeable; the record names are the contract that gives
// cross-session continuity.
//
// # Backends
//
//   - [FileStore]: one owner-only file per record under the state directory
//   - [SQLiteStore]: a single SQLite database (state.db) in WAL mode
//   - [MemoryStore]: process-local, for tests
//
// [SealedStore] wraps any backend and encrypts selected records with
// AES-256-GCM.
//
// # Usage
//
//	st, err := store.Open("sqlite", stateDir)
//	if err != nil {
//	    return err
//	}
//	st.Set(store.KeyAccessToken, []byte(token))
//
// # Thread Safety
//
// Every backend is safe for concurrent use. SQLite WAL mode lets the
// rotation daemon and one-shot commands share the database file.
package store
