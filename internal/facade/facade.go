// Package facade implements the ingestion API surface (C11): the 8
// operations a transport layer calls into, independent of HTTP or any other
// wire format.
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/pipeline"
	"github.com/HariharanV1992/crawlweave/internal/repository"
	"github.com/google/uuid"
)

// enqueuer is the narrow slice of *queue.Queue the facade needs, sized for
// substitution with a fake in tests without depending on a NATS connection.
type enqueuer interface {
	Enqueue(ctx context.Context, taskID uuid.UUID, userID string) error
}

const (
	defaultRequestTimeout = 30 * time.Second
	defaultTotalTimeout   = 10 * time.Minute
	defaultPageTimeout    = 15 * time.Second
)

// Facade wires the metadata store, queue, and document pipeline behind the
// 8 operations of §6.
type Facade struct {
	tasks     repository.TaskRepository
	documents repository.DocumentRepository
	queue     enqueuer
	pipeline  *pipeline.Pipeline
}

// New builds a Facade from its collaborators.
func New(tasks repository.TaskRepository, documents repository.DocumentRepository, q enqueuer, p *pipeline.Pipeline) *Facade {
	return &Facade{tasks: tasks, documents: documents, queue: q, pipeline: p}
}

// CreateCrawlTaskRequest is the user-supplied shape of create_crawl_task.
type CreateCrawlTaskRequest struct {
	URL            string
	MaxDocuments   int
	MaxPages       int
	MaxWorkers     int
	RequestTimeout time.Duration
	TotalTimeout   time.Duration
	PageTimeout    time.Duration
	Delay          time.Duration
	Policy         domain.FetchPolicy
}

// CreateCrawlTask validates the request, applies defaults for unset limits,
// and writes a PENDING task record (§6 create_crawl_task).
func (f *Facade) CreateCrawlTask(ctx context.Context, userID string, req CreateCrawlTaskRequest) (*domain.CrawlTask, error) {
	task := &domain.CrawlTask{
		TaskID:         uuid.New(),
		UserID:         userID,
		CreatedAt:      time.Now().UTC(),
		URL:            req.URL,
		MaxDocs:        req.MaxDocuments,
		MaxPages:       req.MaxPages,
		MaxWorkers:     req.MaxWorkers,
		RequestTimeout: orDefault(req.RequestTimeout, defaultRequestTimeout),
		TotalTimeout:   orDefault(req.TotalTimeout, defaultTotalTimeout),
		PageTimeout:    orDefault(req.PageTimeout, defaultPageTimeout),
		Delay:          req.Delay,
		Policy:         req.Policy,
		Status:         domain.TaskPending,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := f.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create crawl task: %w", err)
	}
	return task, nil
}

// StartCrawlTask CASes a task from PENDING to PENDING — a no-op status-wise,
// but it guards against two concurrent start calls both enqueueing the same
// task — then enqueues it for worker pickup (§6 start_crawl_task). The
// worker itself CASes PENDING -> RUNNING when it picks the message up.
func (f *Facade) StartCrawlTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := f.tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskPending {
		return domain.NewIllegalStateError("task is not in PENDING state")
	}
	if err := f.tasks.CASStatus(ctx, taskID, domain.TaskPending, domain.TaskPending, repository.TaskTouch{}); err != nil {
		if err == repository.ErrCASFailed {
			return domain.NewIllegalStateError("task is not in PENDING state")
		}
		return err
	}
	if err := f.queue.Enqueue(ctx, task.TaskID, task.UserID); err != nil {
		return fmt.Errorf("failed to enqueue crawl task: %w", err)
	}
	return nil
}

// CancelCrawlTask CASes a caller-owned task to CANCELLED from either PENDING
// or RUNNING (§6 cancel_crawl_task).
func (f *Facade) CancelCrawlTask(ctx context.Context, taskID uuid.UUID, userID string) error {
	task, err := f.ownedTask(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if !task.CanTransition(domain.TaskCancelled) {
		return domain.NewIllegalStateError(fmt.Sprintf("cannot cancel a task in %s state", task.Status))
	}
	return f.tasks.CASStatus(ctx, taskID, task.Status, domain.TaskCancelled, repository.TaskTouch{CompletedAt: true})
}

// GetTaskStatus returns a caller-owned task (§6 get_task_status).
func (f *Facade) GetTaskStatus(ctx context.Context, taskID uuid.UUID, userID string) (*domain.CrawlTask, error) {
	return f.ownedTask(ctx, taskID, userID)
}

// ListUserTasks lists a caller's tasks (§6 list_user_tasks).
func (f *Facade) ListUserTasks(ctx context.Context, userID string, limit, skip int) ([]*domain.CrawlTask, int, error) {
	return f.tasks.List(ctx, userID, limit, skip)
}

// DeleteCrawlTask deletes a caller-owned task and cascades to its documents
// (§6 delete_crawl_task).
func (f *Facade) DeleteCrawlTask(ctx context.Context, taskID uuid.UUID, userID string) error {
	if _, err := f.ownedTask(ctx, taskID, userID); err != nil {
		return err
	}
	if err := f.documents.DeleteByTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to delete task documents: %w", err)
	}
	if err := f.tasks.Delete(ctx, taskID); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// IngestUploadedDocument runs the Document Pipeline synchronously from the
// caller's perspective and returns the final document record (§6
// ingest_uploaded_document).
func (f *Facade) IngestUploadedDocument(ctx context.Context, userID string, sessionID *string, filename string, content []byte) (*domain.Document, error) {
	return f.pipeline.Run(ctx, pipeline.Input{
		UserID:    userID,
		SessionID: sessionID,
		Filename:  filename,
		Content:   content,
	})
}

// IngestCrawledContent skips extraction and indexes already-extracted crawl
// text directly (§6 ingest_crawled_content). metadata is accepted for
// forward compatibility but not yet attached to the resulting chunks.
func (f *Facade) IngestCrawledContent(ctx context.Context, userID string, taskID uuid.UUID, filename, text string, metadata map[string]string) (*domain.Document, error) {
	return f.pipeline.RunExtractedText(ctx, pipeline.Input{
		UserID:   userID,
		TaskID:   &taskID,
		Filename: filename,
	}, text)
}

// ownedTask loads a task and maps a cross-user mismatch to the same
// not-found surfaced for a genuinely missing task, preventing resource
// enumeration. An AuthorizationError and repository.ErrNotFound are
// deliberately indistinguishable to callers (§7).
func (f *Facade) ownedTask(ctx context.Context, taskID uuid.UUID, userID string) (*domain.CrawlTask, error) {
	task, err := f.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return task, nil
}

// IsNotFound reports whether err should be surfaced to a caller as a 404:
// either the entity genuinely does not exist, or it exists but is owned by
// someone else (§7 AuthorizationError, surfaced as not-found).
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if err == repository.ErrNotFound {
		return true
	}
	_, ok := err.(*domain.AuthorizationError)
	return ok
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
