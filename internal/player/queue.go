package player

import (
	"math/rand/v2"
	"slices"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

// queue stores items in insertion order and walks them through a traversal order.
//
// Shuffle permutes only the traversal order, so turning it off restores the stored sequence.
type queue struct {
	items    []*models.QueueItem
	order    []int // indices into items, in play order
	pos      int   // position in order of the current item, -1 when none
	shuffled bool
	shuffle  func(n int, swap func(i, j int))
}

func newQueue(shuffle func(n int, swap func(i, j int))) *queue {
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	return &queue{pos: -1, shuffle: shuffle}
}

func wrap(items []models.MediaItem, option models.QueueOption) []*models.QueueItem {
	out := make([]*models.QueueItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, &models.QueueItem{QueueItemID: shared.GenerateID(), Item: item, Option: option})
	}
	return out
}

func (q *queue) Len() int { return len(q.items) }

// At returns the item at traversal position pos.
func (q *queue) At(pos int) *models.QueueItem {
	if pos < 0 || pos >= len(q.order) {
		return nil
	}
	return q.items[q.order[pos]]
}

func (q *queue) Current() *models.QueueItem { return q.At(q.pos) }

// CurrentIndex returns the stored index of the current item, or -1.
func (q *queue) CurrentIndex() int {
	if q.pos < 0 || q.pos >= len(q.order) {
		return -1
	}
	return q.order[q.pos]
}

func (q *queue) SetPos(pos int) { q.pos = pos }

// Items returns the items in play order.
func (q *queue) Items() []*models.QueueItem {
	out := make([]*models.QueueItem, len(q.order))
	for i, idx := range q.order {
		out[i] = q.items[idx]
	}
	return out
}

// Replace swaps the whole queue and resets the position.
func (q *queue) Replace(items []*models.QueueItem) {
	q.items = slices.Clone(items)
	q.order = identity(len(items))
	q.pos = -1
	if q.shuffled {
		q.shuffle(len(q.order), func(i, j int) { q.order[i], q.order[j] = q.order[j], q.order[i] })
	}
}

// InsertNext places items right after the current item, both stored and in play order.
func (q *queue) InsertNext(items []*models.QueueItem) {
	n := len(items)
	if n == 0 {
		return
	}
	at := q.CurrentIndex() + 1
	q.items = slices.Insert(q.items, at, items...)

	for i, idx := range q.order {
		if idx >= at {
			q.order[i] = idx + n
		}
	}
	q.order = slices.Insert(q.order, q.pos+1, rangeFrom(at, n)...)
}

// Append adds items to the end, both stored and in play order.
func (q *queue) Append(items []*models.QueueItem) {
	at := len(q.items)
	q.items = append(q.items, items...)
	q.order = append(q.order, rangeFrom(at, len(items))...)
}

// SetShuffle permutes the items after the current one, or restores the stored order.
func (q *queue) SetShuffle(on bool) {
	if on == q.shuffled {
		return
	}
	q.shuffled = on
	if on {
		rest := q.order[q.pos+1:]
		q.shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
		return
	}
	cur := q.CurrentIndex()
	q.order = identity(len(q.items))
	q.pos = cur
}

// Next returns the position following the current one. On a natural end, repeat one stays on the current item;
// a skip always moves on. Past the end, repeat all wraps to the first position.
func (q *queue) Next(repeat models.RepeatMode, natural bool) (int, bool) {
	if len(q.order) == 0 {
		return -1, false
	}
	if natural && repeat == models.RepeatOne && q.pos >= 0 {
		return q.pos, true
	}
	if p := q.pos + 1; p < len(q.order) {
		return p, true
	}
	if repeat == models.RepeatAll {
		return 0, true
	}
	return -1, false
}

// Previous returns the position before the current one, wrapping under repeat all and staying on the first
// position otherwise.
func (q *queue) Previous(repeat models.RepeatMode) (int, bool) {
	if len(q.order) == 0 {
		return -1, false
	}
	if p := q.pos - 1; p >= 0 {
		return p, true
	}
	if repeat == models.RepeatAll {
		return len(q.order) - 1, true
	}
	return 0, true
}

func identity(n int) []int {
	return rangeFrom(0, n)
}

func rangeFrom(start, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = start + i
	}
	return out
}
