package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

// PlaylogRepository records how long items were streamed.
type PlaylogRepository struct {
	db *sql.DB
}

// NewPlaylogRepository creates a new PlaylogRepository with the given database connection
func NewPlaylogRepository(db *sql.DB) *PlaylogRepository {
	return &PlaylogRepository{db: db}
}

// Record inserts entry, assigning its id and, when unset, its play time.
func (r *PlaylogRepository) Record(entry *models.PlaylogEntry) error {
	if entry.Provider == "" || entry.ItemID == "" {
		return fmt.Errorf("%w: playlog entry without provider or item", shared.ErrInvalidInput)
	}
	if entry.Seconds < 0 {
		return fmt.Errorf("%w: negative seconds", shared.ErrInvalidInput)
	}

	entry.ID = shared.GenerateID()
	if entry.PlayedAt.IsZero() {
		entry.PlayedAt = time.Now()
	}

	query := `
		INSERT INTO playlog (id, provider, item_id, player_id, seconds, played_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query, entry.ID, entry.Provider, entry.ItemID, entry.PlayerID, entry.Seconds, entry.PlayedAt)
	if err != nil {
		return fmt.Errorf("failed to insert playlog entry: %w", err)
	}

	return nil
}

// Total returns the number of seconds provider/itemID has been streamed across all players.
func (r *PlaylogRepository) Total(provider, itemID string) (int, error) {
	var total int
	err := r.db.QueryRow(
		`SELECT COALESCE(SUM(seconds), 0) FROM playlog WHERE provider = ? AND item_id = ?`,
		provider, itemID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum playlog: %w", err)
	}
	return total, nil
}

// Recent returns the latest entries, newest first. A non-positive limit returns every entry.
func (r *PlaylogRepository) Recent(limit int) ([]*models.PlaylogEntry, error) {
	query := `
		SELECT id, provider, item_id, player_id, seconds, played_at
		FROM playlog
		ORDER BY played_at DESC, rowid DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlog: %w", err)
	}
	defer rows.Close()

	var entries []*models.PlaylogEntry
	for rows.Next() {
		var e models.PlaylogEntry
		if err := rows.Scan(&e.ID, &e.Provider, &e.ItemID, &e.PlayerID, &e.Seconds, &e.PlayedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playlog entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return entries, nil
}
