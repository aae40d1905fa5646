package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/jukebox/internal/models"
	"github.com/desertthunder/jukebox/internal/shared"
)

const libraryColumns = `provider, item_id, media_type, in_library, position, data`

// LibraryRepository persists canonical media items keyed by (provider, item_id, media_type).
//
// The full item is stored as JSON in the data column; name, sort_name, in_library and position
// are copied into columns for filtering and ordering.
type LibraryRepository struct {
	db *sql.DB
}

// NewLibraryRepository creates a new LibraryRepository with the given database connection
func NewLibraryRepository(db *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

const upsertItemQuery = `
	INSERT INTO library_items (id, provider, item_id, media_type, name, sort_name, in_library, position, data, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (provider, item_id, media_type) DO UPDATE SET
		name = excluded.name,
		sort_name = excluded.sort_name,
		in_library = MAX(library_items.in_library, excluded.in_library),
		position = CASE WHEN excluded.position > 0 THEN excluded.position ELSE library_items.position END,
		data = excluded.data,
		updated_at = excluded.updated_at
`

// execer is satisfied by both [sql.DB] and [sql.Tx].
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Upsert inserts item or refreshes the stored copy.
//
// The in_library flag is sticky: an upsert never clears it, use [LibraryRepository.SetInLibrary] for that.
func (r *LibraryRepository) Upsert(item models.MediaItem) error {
	return upsertItem(r.db, item)
}

// UpsertAll stores items in a single transaction.
func (r *LibraryRepository) UpsertAll(items []models.MediaItem) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, item := range items {
		if err := upsertItem(tx, item); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit items: %w", err)
	}
	return nil
}

func upsertItem(ex execer, item models.MediaItem) error {
	if item == nil {
		return fmt.Errorf("%w: nil item", shared.ErrInvalidInput)
	}

	base := item.Base()
	if base.Provider == "" || base.ItemID == "" {
		return fmt.Errorf("%w: item without provider or id", shared.ErrInvalidInput)
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode item: %w", err)
	}

	now := time.Now()
	_, err = ex.Exec(upsertItemQuery,
		shared.GenerateID(),
		base.Provider,
		base.ItemID,
		item.MediaType(),
		base.Name,
		base.SortName,
		base.InLibrary,
		base.Position,
		string(data),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", models.URIOf(item), err)
	}

	return nil
}

// Get retrieves one stored item.
func (r *LibraryRepository) Get(provider, itemID string, mt models.MediaType) (models.MediaItem, error) {
	query := `SELECT ` + libraryColumns + `
		FROM library_items
		WHERE provider = ? AND item_id = ? AND media_type = ?
	`

	item, err := r.scanOne(r.db.QueryRow(query, provider, itemID, mt))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, models.ItemURI(provider, mt, itemID))
	}
	return item, nil
}

// SetInLibrary sets or clears the in_library flag of a stored item.
func (r *LibraryRepository) SetInLibrary(provider, itemID string, mt models.MediaType, inLibrary bool) error {
	query := `
		UPDATE library_items
		SET in_library = ?, updated_at = ?
		WHERE provider = ? AND item_id = ? AND media_type = ?
	`

	result, err := r.db.Exec(query, inLibrary, time.Now(), provider, itemID, mt)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrMediaNotFound, models.ItemURI(provider, mt, itemID))
	}

	return nil
}

// Delete removes one stored item.
func (r *LibraryRepository) Delete(provider, itemID string, mt models.MediaType) error {
	result, err := r.db.Exec(
		`DELETE FROM library_items WHERE provider = ? AND item_id = ? AND media_type = ?`,
		provider, itemID, mt,
	)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrMediaNotFound, models.ItemURI(provider, mt, itemID))
	}

	return nil
}

// DeleteProvider removes every item of provider, returning how many rows were deleted.
func (r *LibraryRepository) DeleteProvider(provider string) (int, error) {
	result, err := r.db.Exec(`DELETE FROM library_items WHERE provider = ?`, provider)
	if err != nil {
		return 0, fmt.Errorf("failed to delete provider items: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(rows), nil
}

// List retrieves stored items matching criteria, ordered by sort name.
//
// Supported criteria: provider (string), media_type ([models.MediaType]), in_library (bool),
// search (string, matched against the sort name), limit and offset (int).
func (r *LibraryRepository) List(criteria map[string]any) ([]models.MediaItem, error) {
	where, args := libraryFilter(criteria)
	query := `SELECT ` + libraryColumns + ` FROM library_items` + where +
		` ORDER BY sort_name, provider, item_id`

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset, ok := criteria["offset"].(int); ok && offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []models.MediaItem
	for rows.Next() {
		item, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return items, nil
}

// Count returns the number of stored items matching criteria (same keys as [LibraryRepository.List]).
func (r *LibraryRepository) Count(criteria map[string]any) (int, error) {
	where, args := libraryFilter(criteria)

	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM library_items`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return count, nil
}

// CountByType returns stored item counts per media type.
func (r *LibraryRepository) CountByType(inLibraryOnly bool) (map[models.MediaType]int, error) {
	query := `SELECT media_type, COUNT(*) FROM library_items`
	if inLibraryOnly {
		query += ` WHERE in_library = 1`
	}
	query += ` GROUP BY media_type`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.MediaType]int, len(models.MediaTypes))
	for _, mt := range models.MediaTypes {
		counts[mt] = 0
	}
	for rows.Next() {
		var (
			mt    string
			count int
		)
		if err := rows.Scan(&mt, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.MediaType(mt)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return counts, nil
}

func libraryFilter(criteria map[string]any) (string, []any) {
	where := " WHERE 1 = 1"
	args := []any{}

	if provider, ok := criteria["provider"].(string); ok && provider != "" {
		where += " AND provider = ?"
		args = append(args, provider)
	}

	if mt, ok := criteria["media_type"].(models.MediaType); ok && mt != "" {
		where += " AND media_type = ?"
		args = append(args, mt)
	}

	if inLibrary, ok := criteria["in_library"].(bool); ok {
		where += " AND in_library = ?"
		args = append(args, inLibrary)
	}

	if search, ok := criteria["search"].(string); ok && search != "" {
		where += " AND sort_name LIKE ?"
		args = append(args, "%"+shared.SortName(search)+"%")
	}

	return where, args
}

// scanOne scans a single [sql.Row] into a [models.MediaItem]
func (r *LibraryRepository) scanOne(row *sql.Row) (models.MediaItem, error) {
	var (
		provider  string
		itemID    string
		mediaType string
		inLibrary bool
		position  int
		data      string
	)

	err := row.Scan(&provider, &itemID, &mediaType, &inLibrary, &position, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrMediaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	return decodeItem(mediaType, inLibrary, position, data)
}

// scanRow scans a row from [sql.Rows] into a [models.MediaItem]
func (r *LibraryRepository) scanRow(rows *sql.Rows) (models.MediaItem, error) {
	var (
		provider  string
		itemID    string
		mediaType string
		inLibrary bool
		position  int
		data      string
	)

	if err := rows.Scan(&provider, &itemID, &mediaType, &inLibrary, &position, &data); err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	return decodeItem(mediaType, inLibrary, position, data)
}

// decodeItem rebuilds the item from its JSON copy; column values win over the encoded flags.
func decodeItem(mediaType string, inLibrary bool, position int, data string) (models.MediaItem, error) {
	item, err := models.DecodeItem(models.MediaType(mediaType), []byte(data))
	if err != nil {
		return nil, err
	}

	base := item.Base()
	base.InLibrary = inLibrary
	base.Position = position
	return item, nil
}
