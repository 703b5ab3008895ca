// Package storage defines the document-store contract consumed by page
// generation and routing, and provides the SQLite implementation used by
// boardd.
//
// # Overview
//
// The generation core only reads boards, threads and posts. The single write it
// performs is page assignment: after a board page is generated, every thread
// shown on it is stamped with that page number (SetThreadsPage). All other
// writes (CreateThread, AddPost, PutBoard, PutLanguage) exist for the posting
// and moderation collaborators and for tests.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│   generator / router / negotiate    │
//	└─────────────────────────────────────┘
//	                 │ Store
//	                 ▼
//	┌─────────────────────────────────────┐
//	│            SQLiteStore              │
//	│  boards · threads · posts · langs   │
//	└─────────────────────────────────────┘
//
// # Cursors
//
// Boards and Threads return a Cursor instead of a slice. Cursors read in
// keyset batches (board URI, thread id) so no query or connection stays open
// while the caller regenerates artifacts between Next calls, and at most one
// batch query is in flight per cursor.
//
// # Ordering
//
//   - ListBoards, Boards: board URI ascending
//   - ThreadsByBump: lastBump descending, thread id descending on ties
//   - Threads: thread id ascending
//   - ThreadPosts, PostsByIDs: creation ascending, post id ascending on ties
//   - CatalogThreads: pinned first, then lastBump descending
//
// # Error Handling
//
// ErrNotFound is returned (wrapped) when a board or thread lookup misses. Every
// other failure is a wrapped driver error.
package storage
