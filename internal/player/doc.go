// Package player sequences queues of catalog items onto players.
//
// The [Engine] keeps one queue per registered [Player] and drives it through the idle, playing and paused
// states. Streams are resolved lazily through a [Resolver]; when crossfading is enabled the next item is
// resolved ahead of the end of the current one and overlapped through [Crossfader]. Every playback attempt
// carries its own cancellation token so a skip or stop discards late resolutions and pending timers.
package player
