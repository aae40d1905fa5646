// Package catalog aggregates every registered provider into one canonical catalog.
//
// The [Aggregator] owns the identity cache: search results, item fetches and library sync all pass through
// it, so each (provider, native id) pair resolves to a single live [models.MediaItem].
//
// # Providers
//
// Providers are added with [Aggregator.Register], which runs the provider's Setup. A provider whose setup
// fails stays registered but disabled and is skipped by every operation; [Aggregator.Providers] reports why.
//
// # Reads
//
// [Aggregator.Count] and [Aggregator.Items] read the persistent [Store] when one is configured and fall back to
// the identity cache otherwise.
package catalog
