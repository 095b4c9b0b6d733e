package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TaskRepo implements repository.TaskRepository against Postgres.
type TaskRepo struct {
	db *DB
}

// NewTaskRepo creates a new crawl task repository.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

func (r *TaskRepo) Create(ctx context.Context, t *domain.CrawlTask) error {
	policyJSON, err := json.Marshal(t.Policy)
	if err != nil {
		return fmt.Errorf("failed to marshal fetch policy: %w", err)
	}
	errsJSON, err := json.Marshal(t.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}
	keysJSON, err := json.Marshal(t.DownloadedKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal downloaded keys: %w", err)
	}

	query := `
		INSERT INTO crawl_tasks (
			task_id, user_id, created_at, url, max_documents, max_pages, max_workers,
			request_timeout_ms, total_timeout_ms, page_timeout_ms, delay_ms,
			policy, status, started_at, completed_at,
			pages_crawled, documents_downloaded, errors, downloaded_keys
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		t.TaskID, t.UserID, t.CreatedAt, t.URL, t.MaxDocs, t.MaxPages, t.MaxWorkers,
		t.RequestTimeout.Milliseconds(), t.TotalTimeout.Milliseconds(), t.PageTimeout.Milliseconds(), t.Delay.Milliseconds(),
		policyJSON, t.Status, t.StartedAt, t.CompletedAt,
		t.PagesCrawled, t.DocumentsDownloaded, errsJSON, keysJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to create crawl task: %w", err)
	}
	return nil
}

func scanTask(row pgx.Row) (*domain.CrawlTask, error) {
	var t domain.CrawlTask
	var policyJSON, errsJSON, keysJSON []byte
	var reqMS, totMS, pageMS, delayMS int64

	err := row.Scan(
		&t.TaskID, &t.UserID, &t.CreatedAt, &t.URL, &t.MaxDocs, &t.MaxPages, &t.MaxWorkers,
		&reqMS, &totMS, &pageMS, &delayMS,
		&policyJSON, &t.Status, &t.StartedAt, &t.CompletedAt,
		&t.PagesCrawled, &t.DocumentsDownloaded, &errsJSON, &keysJSON,
	)
	if err != nil {
		return nil, err
	}
	t.RequestTimeout = time.Duration(reqMS) * time.Millisecond
	t.TotalTimeout = time.Duration(totMS) * time.Millisecond
	t.PageTimeout = time.Duration(pageMS) * time.Millisecond
	t.Delay = time.Duration(delayMS) * time.Millisecond

	if err := json.Unmarshal(policyJSON, &t.Policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &t.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
		}
	}
	if len(keysJSON) > 0 {
		if err := json.Unmarshal(keysJSON, &t.DownloadedKeys); err != nil {
			return nil, fmt.Errorf("failed to unmarshal downloaded keys: %w", err)
		}
	}
	return &t, nil
}

const taskColumns = `
	task_id, user_id, created_at, url, max_documents, max_pages, max_workers,
	request_timeout_ms, total_timeout_ms, page_timeout_ms, delay_ms,
	policy, status, started_at, completed_at,
	pages_crawled, documents_downloaded, errors, downloaded_keys
`

func (r *TaskRepo) GetByID(ctx context.Context, taskID uuid.UUID) (*domain.CrawlTask, error) {
	query := `SELECT ` + taskColumns + ` FROM crawl_tasks WHERE task_id = $1`
	t, err := scanTask(r.db.Pool.QueryRow(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get crawl task: %w", err)
	}
	return t, nil
}

func (r *TaskRepo) List(ctx context.Context, userID string, limit, offset int) ([]*domain.CrawlTask, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM crawl_tasks WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count crawl tasks: %w", err)
	}

	query := `SELECT ` + taskColumns + ` FROM crawl_tasks WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list crawl tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.CrawlTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan crawl task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

// CASStatus performs the compare-and-set status transition: only rows
// currently at `expected` move to `next`. A zero rows-affected result means
// another worker already acted and the caller must abort silently.
func (r *TaskRepo) CASStatus(ctx context.Context, taskID uuid.UUID, expected, next domain.TaskStatus, touch repository.TaskTouch) error {
	now := time.Now().UTC()

	setClauses := "status = $3"
	args := []any{taskID, expected, next}
	idx := 4

	if touch.StartedAt {
		setClauses += fmt.Sprintf(", started_at = $%d", idx)
		args = append(args, now)
		idx++
	}
	if touch.CompletedAt {
		setClauses += fmt.Sprintf(", completed_at = $%d", idx)
		args = append(args, now)
		idx++
	}
	if touch.LastError != "" {
		setClauses += fmt.Sprintf(", errors = errors || $%d::jsonb", idx)
		errJSON, _ := json.Marshal([]string{touch.LastError})
		args = append(args, errJSON)
		idx++
	}

	query := fmt.Sprintf(`UPDATE crawl_tasks SET %s WHERE task_id = $1 AND status = $2`, setClauses)
	result, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to CAS crawl task status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrCASFailed
	}
	return nil
}

// UpdateProgress increments the monotonic counters and appends errors without
// touching status, so it never races a concurrent CAS transition onto a stale value.
func (r *TaskRepo) UpdateProgress(ctx context.Context, taskID uuid.UUID, deltaPages, deltaDocs int, newErrors []string, downloadedKeys []string) error {
	errJSON, err := json.Marshal(newErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal new errors: %w", err)
	}
	keysJSON, err := json.Marshal(downloadedKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal downloaded keys: %w", err)
	}

	query := `
		UPDATE crawl_tasks
		SET pages_crawled = pages_crawled + $2,
		    documents_downloaded = documents_downloaded + $3,
		    errors = errors || $4::jsonb,
		    downloaded_keys = downloaded_keys || $5::jsonb
		WHERE task_id = $1
	`
	_, err = r.db.Pool.Exec(ctx, query, taskID, deltaPages, deltaDocs, errJSON, keysJSON)
	if err != nil {
		return fmt.Errorf("failed to update crawl task progress: %w", err)
	}
	return nil
}

func (r *TaskRepo) Delete(ctx context.Context, taskID uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM crawl_tasks WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete crawl task: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.TaskRepository = (*TaskRepo)(nil)
