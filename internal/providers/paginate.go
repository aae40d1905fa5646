package providers

import (
	"context"
	"iter"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/jukebox/internal/models"
)

// PageFunc fetches one page of raw records starting at offset.
type PageFunc[T any] func(ctx context.Context, offset, limit int) ([]T, error)

// Paginate loops over pages of pageSize records until a short or empty page.
//
// Each record is yielded with its 1-based position across all pages. A failing page is logged and
// ends the sequence. The sequence is finite and not restartable mid-iteration.
func Paginate[T any](ctx context.Context, logger *log.Logger, pageSize int, fetch PageFunc[T]) iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		position := 0
		for offset := 0; ; offset += pageSize {
			if ctx.Err() != nil {
				return
			}

			page, err := fetch(ctx, offset, pageSize)
			if err != nil {
				if logger != nil {
					logger.Warn("page failed, ending enumeration", "offset", offset, "error", err)
				}
				return
			}

			for _, raw := range page {
				position++
				if !yield(position, raw) {
					return
				}
			}

			if len(page) < pageSize {
				return
			}
		}
	}
}

// Items maps positioned raw records to media items, dropping records the mapper rejects.
func Items[T any](seq iter.Seq2[int, T], mapper func(T) models.MediaItem) iter.Seq[models.MediaItem] {
	return func(yield func(models.MediaItem) bool) {
		for pos, raw := range seq {
			item := mapper(raw)
			if item == nil {
				continue
			}
			item.Base().Position = pos
			if !yield(item) {
				return
			}
		}
	}
}

// Slice yields every element of items, numbering positions from 1.
func Slice[T any](items []T) iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, raw := range items {
			if !yield(i+1, raw) {
				return
			}
		}
	}
}

// asItem returns v as a MediaItem, or a nil interface when v is a nil pointer.
func asItem[T interface {
	*models.Artist | *models.Album | *models.Track | *models.Playlist | *models.Radio
	models.MediaItem
}](v T) models.MediaItem {
	if v == nil {
		return nil
	}
	return v
}

func asItems[T models.MediaItem](items []T) []models.MediaItem {
	out := make([]models.MediaItem, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
