package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JustinTDCT/VideoJockey/internal/db"
)

var ErrNotFound = errors.New("video not found")

const videoColumns = `id, title, artist, album, year, director, label, genre, description,
	provider, provider_id, imvdb_id, source_url, thumbnail_url, file_path, file_size,
	duration_seconds, width, height, video_codec, audio_codec, format, created_at, updated_at`

type Repository struct {
	db  *db.DB
	now func() time.Time
}

func NewRepository(database *db.DB) *Repository {
	return &Repository{db: database, now: func() time.Time { return time.Now().UTC() }}
}

// Upsert creates or updates the entry for v and returns the stored row and
// whether it was created. An existing entry is found by (provider,
// provider_id) first, then by exact title and artist among entries that have
// no conflicting provider id. Non-empty fields of v overwrite stored ones.
func (r *Repository) Upsert(ctx context.Context, v *Video) (*Video, bool, error) {
	if strings.TrimSpace(v.Title) == "" {
		return nil, false, errors.New("upsert video: title is required")
	}
	for attempt := 0; ; attempt++ {
		stored, created, err := r.upsertOnce(ctx, v)
		// A concurrent insert of the same key lost the race against ours;
		// the second pass finds and updates it.
		if err != nil && attempt == 0 && db.IsUniqueViolation(err) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("upsert video %q: %w", v.Title, err)
		}
		return stored, created, nil
	}
}

func (r *Repository) upsertOnce(ctx context.Context, v *Video) (*Video, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	existing, err := r.findExisting(ctx, tx, v)
	if err != nil {
		return nil, false, err
	}
	now := r.now()

	if existing == nil {
		row := *v
		row.ID = uuid.New().String()
		row.CreatedAt = now
		row.UpdatedAt = now
		_, err := tx.ExecContext(ctx, r.db.Rebind(`
			INSERT INTO videos (`+videoColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
			row.ID, row.Title, row.Artist, row.Album, row.Year, row.Director, row.Label,
			row.Genre, row.Description, row.Provider, row.ProviderID, row.IMVDbID,
			row.SourceURL, row.ThumbnailURL, row.FilePath, row.FileSize, row.DurationSeconds,
			row.Width, row.Height, row.VideoCodec, row.AudioCodec, row.Format,
			row.CreatedAt, row.UpdatedAt)
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return &row, true, nil
	}

	existing.merge(v)
	existing.UpdatedAt = now
	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE videos SET title=?, artist=?, album=?, year=?, director=?, label=?, genre=?,
		       description=?, provider=?, provider_id=?, imvdb_id=?, source_url=?,
		       thumbnail_url=?, file_path=?, file_size=?, duration_seconds=?, width=?,
		       height=?, video_codec=?, audio_codec=?, format=?, updated_at=?
		WHERE id=?`),
		existing.Title, existing.Artist, existing.Album, existing.Year, existing.Director,
		existing.Label, existing.Genre, existing.Description, existing.Provider,
		existing.ProviderID, existing.IMVDbID, existing.SourceURL, existing.ThumbnailURL,
		existing.FilePath, existing.FileSize, existing.DurationSeconds, existing.Width,
		existing.Height, existing.VideoCodec, existing.AudioCodec, existing.Format,
		existing.UpdatedAt, existing.ID)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *Repository) findExisting(ctx context.Context, tx *sql.Tx, v *Video) (*Video, error) {
	if v.ProviderID != "" {
		row := tx.QueryRowContext(ctx, r.db.Rebind(`
			SELECT `+videoColumns+` FROM videos WHERE provider = ? AND provider_id = ?`),
			v.Provider, v.ProviderID)
		found, err := scanVideo(row)
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	q := `SELECT ` + videoColumns + ` FROM videos WHERE title = ? AND artist = ?`
	if v.ProviderID != "" {
		q += ` AND provider_id = ''`
	}
	q += ` ORDER BY created_at ASC, id ASC LIMIT 1`
	found, err := scanVideo(tx.QueryRowContext(ctx, r.db.Rebind(q), v.Title, v.Artist))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return found, err
}

func (r *Repository) Get(ctx context.Context, id string) (*Video, error) {
	v, err := scanVideo(r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+videoColumns+` FROM videos WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video %s: %w", id, err)
	}
	return v, nil
}

// List returns entries ordered by artist then title. Query matches title or
// artist as a case-insensitive substring.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Video, error) {
	var where []string
	var args []interface{}
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(artist) LIKE ?)")
		args = append(args, like, like)
	}
	if f.Artist != "" {
		where = append(where, "artist = ?")
		args = append(args, f.Artist)
	}
	q := `SELECT ` + videoColumns + ` FROM videos`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY artist ASC, title ASC, id ASC"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Video{}
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanVideo(s scanner) (*Video, error) {
	var v Video
	err := s.Scan(&v.ID, &v.Title, &v.Artist, &v.Album, &v.Year, &v.Director, &v.Label,
		&v.Genre, &v.Description, &v.Provider, &v.ProviderID, &v.IMVDbID, &v.SourceURL,
		&v.ThumbnailURL, &v.FilePath, &v.FileSize, &v.DurationSeconds, &v.Width, &v.Height,
		&v.VideoCodec, &v.AudioCodec, &v.Format, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
