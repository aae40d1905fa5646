// package identity canonicalizes media items so that each (provider, native id) pair maps to one live object.
package identity

import (
	"cmp"
	"slices"
	"sync"

	"github.com/desertthunder/jukebox/internal/models"
)

// Cache maps (provider instance, native id) keys to canonical media items.
//
// A Cache is owned by one aggregator and passed explicitly; adapters never hold one.
// The first item interned for a key wins; later interns only backfill fields the cached item lacks.
type Cache struct {
	mu    sync.Mutex
	items map[models.Key]models.MediaItem
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{items: make(map[models.Key]models.MediaItem)}
}

// Intern returns the canonical instance for item.
//
// Nested references (a track's album and artists, an album's artist) are interned first so that
// every item referencing the same key shares one pointer.
func (c *Cache) Intern(item models.MediaItem) models.MediaItem {
	if item == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intern(item)
}

// InternAll interns every item in items, returning the canonical instances in the same order.
func (c *Cache) InternAll(items []models.MediaItem) []models.MediaItem {
	out := make([]models.MediaItem, 0, len(items))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, item := range items {
		if item != nil {
			out = append(out, c.intern(item))
		}
	}
	return out
}

func (c *Cache) intern(item models.MediaItem) models.MediaItem {
	switch v := item.(type) {
	case *models.Album:
		if v.Artist != nil {
			v.Artist = c.intern(v.Artist).(*models.Artist)
		}
	case *models.Track:
		if v.Album != nil {
			v.Album = c.intern(v.Album).(*models.Album)
		}
		for i, a := range v.Artists {
			if a != nil {
				v.Artists[i] = c.intern(a).(*models.Artist)
			}
		}
	}

	key := models.KeyOf(item)
	if cached, ok := c.items[key]; ok {
		// a native id reused for another media type stays uncached
		if cached.MediaType() != item.MediaType() {
			return item
		}
		if cached != item {
			models.Backfill(cached, item)
		}
		return cached
	}

	base := item.Base()
	if len(base.ProviderIDs) == 0 {
		base.AddProviderID(models.ProviderID{ItemID: base.ItemID, Provider: base.Provider, Available: true})
	}
	c.items[key] = item
	return item
}

// SetInLibrary interns item and sets the library flag of the canonical instance.
//
// The flag is only written when it changes.
func (c *Cache) SetInLibrary(item models.MediaItem, inLibrary bool) models.MediaItem {
	if item == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	canonical := c.intern(item)
	if b := canonical.Base(); b.InLibrary != inLibrary {
		b.InLibrary = inLibrary
	}
	return canonical
}

// Lookup returns the cached item for provider and native id.
func (c *Cache) Lookup(provider, itemID string) (models.MediaItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[models.Key{Provider: provider, ItemID: itemID}]
	return item, ok
}

// Len returns the number of cached items.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Forget drops every entry of provider, returning how many were removed.
func (c *Cache) Forget(provider string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.items {
		if key.Provider == provider {
			delete(c.items, key)
			n++
		}
	}
	return n
}

// Items returns cached items filtered by provider and media type, sorted by sort name.
//
// An empty provider or media type matches everything.
func (c *Cache) Items(provider string, mt models.MediaType) []models.MediaItem {
	c.mu.Lock()
	out := make([]models.MediaItem, 0, len(c.items))
	for key, item := range c.items {
		if provider != "" && key.Provider != provider {
			continue
		}
		if mt != "" && item.MediaType() != mt {
			continue
		}
		out = append(out, item)
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b models.MediaItem) int {
		ab, bb := a.Base(), b.Base()
		return cmp.Or(
			cmp.Compare(ab.SortName, bb.SortName),
			cmp.Compare(ab.Provider, bb.Provider),
			cmp.Compare(ab.ItemID, bb.ItemID),
		)
	})
	return out
}
