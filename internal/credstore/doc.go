// Package credstore persists the client's credentials: the session token,
// username, email, and chat API key.
//
// # Architecture
//
// A Store wraps a Backend and keeps an in-memory snapshot of all keys, so
// reads never touch disk. Two backends exist:
//
//   - SQLiteBackend: a small WAL-mode database shared by every client
//     instance on the machine
//   - MemoryBackend: map-backed, for tests
//
// All writes go through the Store, which updates the snapshot first and
// then notifies subscribers with one Change per mutated key. Setting a key
// to the empty string deletes it.
//
// # Cross-instance changes
//
// Store.Watch observes the database file with fsnotify and diffs the
// backend against the snapshot on every write event, so a login or logout
// in one instance is visible to the others. Local writes never re-notify
// their own process.
package credstore
