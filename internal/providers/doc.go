// Package providers adapts music backends to one [Provider] contract.
//
// # Adapters
//
//   - [Plex]: a Plex Media Server music section (token auth, JSON API)
//   - [Filesystem]: a local directory of audio files and .m3u playlists
//   - [Radio]: internet radio stations listed in the config
//   - [YouTubeMusic]: YouTube Music through the ytmusicapi proxy
//   - [Spotify]: the Spotify Web API over OAuth2
//
// # Conventions
//
// Every network call acquires the adapter's [throttle.Throttler] first. Authentication failures wrap
// [shared.ErrLoginFailed]; unknown items and unplayable streams wrap [shared.ErrMediaNotFound]; calls an
// adapter cannot serve wrap [shared.ErrUnsupportedFeature].
//
// Library enumeration is exposed as lazy [iter.Seq] values. Backend pagination is hidden behind
// [Paginate]; a page that fails to load is logged and ends the sequence instead of aborting the caller.
//
// Raw backend records are mapped to [models.MediaItem] values by pure functions kept apart from I/O.
// Adapters never cache items themselves: canonicalization belongs to the catalog's identity cache.
package providers
