// Package tasks runs long catalog jobs across providers with real-time progress reporting.
//
// # Core Operations
//
// The [SyncEngine] interface defines four operations:
//
//  1. [SyncEngine.Sync] : Library sync of every provider
//     - Enumerates each supported media type concurrently per provider
//     - Interns items in the identity cache and stores them in batches
//     - Clears the library flag of stored items the provider no longer returns
//     - Records a [models.SyncRun] per provider when a run store is configured
//
//  2. [SyncEngine.Diff] : Compare playlists across providers
//     - Exports both source and destination playlists
//     - Matches tracks via ISRC (preferred) or normalized title/artist
//     - Reports matched count, missing tracks, and extra tracks
//
//  3. [SyncEngine.Transfer] : Copy a playlist's tracks to another provider
//     - Skips tracks already in the destination playlist
//     - Searches the rest and appends the matches in one call
//
//  4. [SyncEngine.BulkExport] : Write playlists to disk in any [formatter.Format]
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
package tasks
