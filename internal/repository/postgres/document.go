package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DocumentRepo implements repository.DocumentRepository against Postgres.
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document repository.
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

const documentColumns = `
	document_id, user_id, task_id, session_id, filename, object_key, file_size,
	doc_type, content_hash, content, page_count, extraction_method, status,
	vector_store_id, vector_file_id, last_error, created_at, updated_at
`

func (r *DocumentRepo) Create(ctx context.Context, d *domain.Document) error {
	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		d.DocumentID, d.UserID, d.TaskID, d.SessionID, d.Filename, d.ObjectKey, d.FileSize,
		d.DocType, d.ContentHash, d.Content, d.PageCount, d.ExtractionMethod, d.Status,
		d.VectorStoreID, d.VectorFileID, d.LastError, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	err := row.Scan(
		&d.DocumentID, &d.UserID, &d.TaskID, &d.SessionID, &d.Filename, &d.ObjectKey, &d.FileSize,
		&d.DocType, &d.ContentHash, &d.Content, &d.PageCount, &d.ExtractionMethod, &d.Status,
		&d.VectorStoreID, &d.VectorFileID, &d.LastError, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE document_id = $1`
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return d, nil
}

// GetByHash implements the per-user content-hash dedup lookup: re-ingesting
// identical bytes under the same owner must be idempotent.
func (r *DocumentRepo) GetByHash(ctx context.Context, userID, contentHash string) (*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 AND content_hash = $2`
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, query, userID, contentHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document by hash: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE task_id = $1 ORDER BY created_at`
	rows, err := r.db.Pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents by task: %w", err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Document, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, total, rows.Err()
}

func (r *DocumentRepo) Update(ctx context.Context, d *domain.Document) error {
	query := `
		UPDATE documents
		SET content = $2, page_count = $3, extraction_method = $4, status = $5,
		    vector_store_id = $6, vector_file_id = $7, last_error = $8, updated_at = NOW()
		WHERE document_id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query,
		d.DocumentID, d.Content, d.PageCount, d.ExtractionMethod, d.Status,
		d.VectorStoreID, d.VectorFileID, d.LastError)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *DocumentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE document_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByTask cascades a task delete to its owned documents (§3 CrawlTask lifecycle).
func (r *DocumentRepo) DeleteByTask(ctx context.Context, taskID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE task_id = $1`, taskID)
	if err != nil {
		return fmt.Errorf("failed to cascade-delete documents: %w", err)
	}
	return nil
}

var _ repository.DocumentRepository = (*DocumentRepo)(nil)
