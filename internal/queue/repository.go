package queue

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

var ErrNotFound = errors.New("download request not found")

const requestColumns = `id, url, title, status, priority, progress_percent, error_message,
	retry_count, max_retries, video_id, output_path, file_path, format,
	download_speed, eta, added_at, started_at, completed_at, deleted_at, is_deleted`

// Repository persists download requests. It enforces the deleted and status
// filters of the queue and nothing else; scheduling policy lives in the
// downloads package.
type Repository struct {
	db         *db.DB
	maxRetries int
	now        func() time.Time
}

func NewRepository(database *db.DB, maxRetries int) *Repository {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Repository{
		db:         database,
		maxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) Enqueue(ctx context.Context, p EnqueueParams) (*Request, error) {
	url := strings.TrimSpace(p.URL)
	if url == "" {
		return nil, errors.New("url is required")
	}

	req := &Request{
		ID:         uuid.New().String(),
		URL:        url,
		Title:      strings.TrimSpace(p.Title),
		Status:     StatusQueued,
		Priority:   p.Priority,
		MaxRetries: r.maxRetries,
		OutputPath: p.OutputPath,
		Format:     p.Format,
		AddedAt:    r.now(),
	}
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO download_queue (id, url, title, status, priority, max_retries,
		       output_path, format, added_at)
		VALUES (?,?,?,?,?,?,?,?,?)`),
		req.ID, req.URL, req.Title, req.Status, req.Priority, req.MaxRetries,
		req.OutputPath, req.Format, req.AddedAt)
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	return req, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Request, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT `+requestColumns+` FROM download_queue WHERE id = ?`), id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return req, nil
}

// ListPending returns queued requests, plus failed ones when includeFailed is
// set, highest priority first and FIFO within a priority.
func (r *Repository) ListPending(ctx context.Context, includeFailed bool) ([]Request, error) {
	statuses := "'queued'"
	if includeFailed {
		statuses = "'queued', 'failed'"
	}
	return r.query(ctx, `
		SELECT `+requestColumns+` FROM download_queue
		WHERE is_deleted = FALSE AND status IN (`+statuses+`)
		ORDER BY priority DESC, added_at ASC, id ASC`)
}

func (r *Repository) ListActive(ctx context.Context) ([]Request, error) {
	return r.query(ctx, `
		SELECT `+requestColumns+` FROM download_queue
		WHERE is_deleted = FALSE AND status = ?
		ORDER BY started_at ASC`, StatusDownloading)
}

func (r *Repository) List(ctx context.Context, f ListFilter) ([]Request, error) {
	var where []string
	var args []interface{}
	if !f.IncludeDeleted {
		where = append(where, "is_deleted = FALSE")
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	q := `SELECT ` + requestColumns + ` FROM download_queue`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY added_at DESC, id ASC"
	if f.Limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	return r.query(ctx, q, args...)
}

// Counts returns the number of non-deleted requests per status.
func (r *Repository) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM download_queue
		WHERE is_deleted = FALSE GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Status]int{}
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}

// Update writes every mutable column of req.
func (r *Repository) Update(ctx context.Context, req *Request) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE download_queue SET
		       url=?, title=?, status=?, priority=?, progress_percent=?, error_message=?,
		       retry_count=?, max_retries=?, video_id=?, output_path=?, file_path=?, format=?,
		       download_speed=?, eta=?, started_at=?, completed_at=?, deleted_at=?, is_deleted=?
		WHERE id=?`),
		req.URL, req.Title, req.Status, req.Priority, req.ProgressPercent, req.ErrorMessage,
		req.RetryCount, req.MaxRetries, nullString(req.VideoID), req.OutputPath, req.FilePath, req.Format,
		req.DownloadSpeed, req.ETA, nullTime(req.StartedAt), nullTime(req.CompletedAt),
		nullTime(req.DeletedAt), req.IsDeleted,
		req.ID)
	if err != nil {
		return fmt.Errorf("update request %s: %w", req.ID, err)
	}
	return expectOne(res, ErrNotFound)
}

// ClaimForDownload moves a queued, non-deleted request to downloading. It
// returns false when the row was claimed, cancelled or removed by someone
// else since it was listed.
func (r *Repository) ClaimForDownload(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	return r.transition(ctx, `
		UPDATE download_queue SET status='downloading', started_at=?, completed_at=NULL,
		       progress_percent=0, download_speed='', eta=''
		WHERE id=? AND status='queued' AND is_deleted=FALSE`, startedAt, id)
}

// UpdateProgress records the last observed progress of a running download.
func (r *Repository) UpdateProgress(ctx context.Context, id string, percent float64, speed, eta string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE download_queue SET progress_percent=?, download_speed=?, eta=?
		WHERE id=? AND status='downloading'`), percent, speed, eta, id)
	return err
}

// SoftDelete hides a request. Running and already deleted requests are left
// untouched and false is returned.
func (r *Repository) SoftDelete(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, `
		UPDATE download_queue SET is_deleted=TRUE, deleted_at=?
		WHERE id=? AND is_deleted=FALSE AND status <> 'downloading'`, r.now(), id)
}

func (r *Repository) Cancel(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, `
		UPDATE download_queue SET status='cancelled', download_speed='', eta=''
		WHERE id=? AND status='queued' AND is_deleted=FALSE`, id)
}

// RetryFailed re-queues a failed request that still has retry budget.
func (r *Repository) RetryFailed(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, `
		UPDATE download_queue SET status='queued', started_at=NULL, completed_at=NULL,
		       progress_percent=0, download_speed='', eta=''
		WHERE id=? AND status='failed' AND retry_count < max_retries AND is_deleted=FALSE`, id)
}

// ResetToQueued is the manual override for failed or cancelled requests: the
// retry budget starts over.
func (r *Repository) ResetToQueued(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, `
		UPDATE download_queue SET status='queued', retry_count=0, error_message='',
		       started_at=NULL, completed_at=NULL, progress_percent=0, download_speed='', eta=''
		WHERE id=? AND status IN ('failed', 'cancelled') AND is_deleted=FALSE`, id)
}

// RequeueInterrupted puts a downloading request back to queued without
// spending a retry.
func (r *Repository) RequeueInterrupted(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, `
		UPDATE download_queue SET status='queued', started_at=NULL, completed_at=NULL,
		       progress_percent=0, download_speed='', eta=''
		WHERE id=? AND status='downloading'`, id)
}

func (r *Repository) transition(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Repository) query(ctx context.Context, q string, args ...interface{}) ([]Request, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(s scanner) (*Request, error) {
	var req Request
	var videoID sql.NullString
	var started, completed, deleted sql.NullTime
	err := s.Scan(&req.ID, &req.URL, &req.Title, &req.Status, &req.Priority, &req.ProgressPercent,
		&req.ErrorMessage, &req.RetryCount, &req.MaxRetries, &videoID, &req.OutputPath,
		&req.FilePath, &req.Format, &req.DownloadSpeed, &req.ETA, &req.AddedAt,
		&started, &completed, &deleted, &req.IsDeleted)
	if err != nil {
		return nil, err
	}
	if videoID.Valid {
		req.VideoID = &videoID.String
	}
	req.StartedAt = timePtr(started)
	req.CompletedAt = timePtr(completed)
	req.DeletedAt = timePtr(deleted)
	return &req, nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
