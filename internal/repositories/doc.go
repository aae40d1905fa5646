// Package repositories implements SQLite persistence for the catalog.
//
// Key Implementations:
//   - [LibraryRepository] : canonical media items, stored as JSON with indexed name and library columns
//   - [PlaylogRepository] : seconds streamed per item, written from the playback stopped report
//   - [SyncRunRepository] : history of provider library syncs with status tracking
//
// Sync runs carry sequence numbers from [NextSequence], which atomically increments a per-table counter
// in a dedicated sequence table.
package repositories
