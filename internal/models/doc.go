// Package models defines the canonical media graph shared by every provider, the catalog and the player engine.
//
// # Media Items
//
// Every backend record is normalized into one of five [MediaItem] variants:
//   - [Artist]
//   - [Album] : references its [Artist]
//   - [Track] : references its [Album] and performing artists
//   - [Playlist]
//   - [Radio]
//
// Back-references are shared pointers used for display only. The identity cache guarantees that two
// tracks of the same album point at the same [Album] value.
//
// Each item carries an ordered set of [ProviderID] entries describing where it can be played from,
// at which [MediaQuality] and whether it is currently available.
//
// # Backfill
//
// [Backfill] merges a freshly fetched copy into a cached one. Fields already known are never replaced,
// so re-processing a sparse record cannot erase data.
//
// # Streams
//
// [StreamDetails] is a short-lived descriptor for one playback. It must not be used after [StreamDetails.Expired]
// and its completion callback runs at most once.
//
// # Queues and Players
//
// [QueueItem], [QueueSettings] and [PlayerStatus] are the serializable records owned by the player engine.
package models
