// Package store provides durable storage for persistent anchors and saved
// input recordings.
//
// Two anchor backends satisfy session.AnchorStore:
//   - Store: SQLite (anchors and recordings tables)
//   - FileStore: a single JSON object of id to 16-element column-major
//     matrix, rewritten in full on every save
//
// Both read the anchor set in full at session start and replace it in full
// on every create or delete. Anchor ids are NFC-normalized before they are
// written so that visually identical ids map to one row.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Listing queries are ordered by key with COLLATE BINARY so results are
// stable across runs.
package store
