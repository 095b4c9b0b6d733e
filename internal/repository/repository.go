// Package repository defines data-access interfaces for crawl tasks and documents.
package repository

import (
	"context"
	"errors"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrCASFailed is returned when a compare-and-set update did not match any row,
// meaning another writer already transitioned the record.
var ErrCASFailed = errors.New("compare-and-set failed")

// TaskRepository defines persistence operations for crawl tasks (C2 + C8).
type TaskRepository interface {
	Create(ctx context.Context, task *domain.CrawlTask) error
	GetByID(ctx context.Context, taskID uuid.UUID) (*domain.CrawlTask, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*domain.CrawlTask, int, error)

	// CASStatus performs `UPDATE ... WHERE task_id=$1 AND status=$2 SET status=$3, ...`.
	// Returns ErrCASFailed if no row matched the expected status.
	CASStatus(ctx context.Context, taskID uuid.UUID, expected, next domain.TaskStatus, touch TaskTouch) error

	// UpdateProgress applies a partial SET of the monotonically increasing counters
	// and appends to errors[], preserving any concurrently written status.
	UpdateProgress(ctx context.Context, taskID uuid.UUID, deltaPages, deltaDocs int, newErrors []string, downloadedKeys []string) error

	Delete(ctx context.Context, taskID uuid.UUID) error
}

// TaskTouch carries the timestamp fields a CAS transition may set.
type TaskTouch struct {
	StartedAt   bool
	CompletedAt bool
	LastError   string
}

// DocumentRepository defines persistence operations for documents (C2).
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	GetByHash(ctx context.Context, userID, contentHash string) (*domain.Document, error)
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Document, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Document, int, error)
	Update(ctx context.Context, doc *domain.Document) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByTask(ctx context.Context, taskID uuid.UUID) error
}
