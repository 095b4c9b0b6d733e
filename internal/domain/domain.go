// Package domain defines the core entities, enums, and error kinds shared across
// the ingestion pipeline: crawl tasks, documents, and the typed errors every
// adapter and the facade surface to callers.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the crawl task lifecycle state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// IsTerminal reports whether the status ends the task's lifecycle.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// DocumentType is the detected content family of an ingested artifact.
type DocumentType string

const (
	DocPDF    DocumentType = "PDF"
	DocImage  DocumentType = "IMAGE"
	DocText   DocumentType = "TEXT"
	DocOffice DocumentType = "OFFICE"
	DocHTML   DocumentType = "HTML"
	DocOther  DocumentType = "OTHER"
)

// DocumentStatus is the document processing lifecycle state.
type DocumentStatus string

const (
	DocUploaded            DocumentStatus = "UPLOADED"
	DocProcessing          DocumentStatus = "PROCESSING"
	DocProcessed           DocumentStatus = "PROCESSED"
	DocProcessedNoText     DocumentStatus = "PROCESSED_NO_TEXT"
	DocProcessedVectorPend DocumentStatus = "PROCESSED_VECTOR_PENDING"
	DocProcessedVectorFail DocumentStatus = "PROCESSED_VECTOR_FAILED"
	DocFailed              DocumentStatus = "FAILED"
)

// FetchPolicy controls how the Fetcher retrieves a crawl task's target URL.
type FetchPolicy struct {
	RenderJS        bool
	BlockResources  bool
	BlockAds        bool
	PremiumProxy    bool
	StealthProxy    bool
	ForwardHeaders  bool
	CountryCode     string
	OwnProxyURL     string
	ScrapingProfile string
}

// CrawlTask is the primary unit of crawl work (§3 CrawlTask).
type CrawlTask struct {
	TaskID     uuid.UUID  `json:"task_id"`
	UserID     string     `json:"user_id"`
	CreatedAt  time.Time  `json:"created_at"`
	URL        string     `json:"url"`
	MaxDocs    int        `json:"max_documents"`
	MaxPages   int        `json:"max_pages"`
	MaxWorkers int        `json:"max_workers"`

	RequestTimeout time.Duration `json:"request_timeout"`
	TotalTimeout   time.Duration `json:"total_timeout"`
	PageTimeout    time.Duration `json:"page_timeout"`
	Delay          time.Duration `json:"delay"`

	Policy FetchPolicy `json:"policy"`

	Status      TaskStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	PagesCrawled        int      `json:"pages_crawled"`
	DocumentsDownloaded int      `json:"documents_downloaded"`
	Errors              []string `json:"errors,omitempty"`

	DownloadedKeys []string `json:"downloaded_keys,omitempty"`
}

// Validate checks the structural invariants §3 places on a new task request.
func (t *CrawlTask) Validate() error {
	if t.URL == "" {
		return NewValidationError("url is required")
	}
	if t.MaxDocs < 1 || t.MaxDocs > 100 {
		return NewValidationError("max_documents must be between 1 and 100")
	}
	if t.MaxPages < 1 || t.MaxPages > 1000 {
		return NewValidationError("max_pages must be between 1 and 1000")
	}
	if t.MaxWorkers < 1 || t.MaxWorkers > 50 {
		return NewValidationError("max_workers must be between 1 and 50")
	}
	return nil
}

// CanTransition reports whether moving from the task's current status to next is legal (§4.3).
func (t *CrawlTask) CanTransition(next TaskStatus) bool {
	switch t.Status {
	case TaskPending:
		return next == TaskRunning || next == TaskCancelled
	case TaskRunning:
		return next == TaskCompleted || next == TaskFailed || next == TaskCancelled
	default:
		return false
	}
}

// Document is an extracted artifact (§3 Document).
type Document struct {
	DocumentID uuid.UUID  `json:"document_id"`
	UserID     string     `json:"user_id"`
	TaskID     *uuid.UUID `json:"task_id,omitempty"`
	SessionID  *string    `json:"session_id,omitempty"`

	Filename    string       `json:"filename"`
	ObjectKey   string       `json:"object_key"`
	FileSize    int64        `json:"file_size"`
	DocType     DocumentType `json:"doc_type"`
	ContentHash string       `json:"content_hash,omitempty"` // md5(extracted text), used for per-user dedup

	Content          string `json:"content,omitempty"`
	PageCount        int    `json:"page_count,omitempty"`
	ExtractionMethod string `json:"extraction_method"`

	Status DocumentStatus `json:"status"`

	VectorStoreID string `json:"vector_store_id,omitempty"`
	VectorFileID  string `json:"vector_file_id,omitempty"`

	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsProcessedFamily reports whether status is one of the PROCESSED* states (§3 invariant).
func (d *Document) IsProcessedFamily() bool {
	switch d.Status {
	case DocProcessed, DocProcessedNoText, DocProcessedVectorPend, DocProcessedVectorFail:
		return true
	default:
		return false
	}
}

// SessionVectorStoreName derives the session-scoped store name (§3 ChatSession).
func SessionVectorStoreName(sessionID string) string {
	n := sessionID
	if len(n) > 8 {
		n = n[:8]
	}
	return "session_" + n
}

// --- Error kinds (§7) ---

// ValidationError reports invalid user-supplied input. Not logged as an error.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(msg string) error { return &ValidationError{Msg: msg} }

// AuthorizationError reports a resource that exists but is not owned by the caller.
// Callers surface this as a not-found to avoid enumeration.
type AuthorizationError struct{ Msg string }

func (e *AuthorizationError) Error() string { return e.Msg }

func NewAuthorizationError(msg string) error { return &AuthorizationError{Msg: msg} }

// IllegalStateError reports an operation invalid for the entity's current state.
type IllegalStateError struct{ Msg string }

func (e *IllegalStateError) Error() string { return e.Msg }

func NewIllegalStateError(msg string) error { return &IllegalStateError{Msg: msg} }

// IntegrityError reports an object-store read-back verification mismatch.
type IntegrityError struct {
	Key       string
	WantLen   int
	GotLen    int
	WantMD5   string
	GotMD5    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: len %d!=%d or md5 %s!=%s", e.Key, e.WantLen, e.GotLen, e.WantMD5, e.GotMD5)
}

// TransientBackendError wraps a retryable failure from an external collaborator.
type TransientBackendError struct {
	Op  string
	Err error
}

func (e *TransientBackendError) Error() string { return fmt.Sprintf("%s: transient error: %v", e.Op, e.Err) }
func (e *TransientBackendError) Unwrap() error  { return e.Err }

func NewTransientBackendError(op string, err error) error {
	return &TransientBackendError{Op: op, Err: err}
}

// UnrecoverableExtractionError reports that every registered strategy failed to
// produce text for a document. Msg is a user-facing string free of library/vendor names.
type UnrecoverableExtractionError struct{ Msg string }

func (e *UnrecoverableExtractionError) Error() string { return e.Msg }

func NewUnrecoverableExtractionError(msg string) error {
	return &UnrecoverableExtractionError{Msg: msg}
}

// CancelledError reports that an operation stopped because of an explicit cancel
// or a deadline expiry.
type CancelledError struct{ Reason string }

func (e *CancelledError) Error() string { return "cancelled: " + e.Reason }

func NewCancelledError(reason string) error { return &CancelledError{Reason: reason} }
