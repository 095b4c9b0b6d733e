package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/embedder"
	"github.com/HariharanV1992/crawlweave/internal/ingestion"
	"github.com/HariharanV1992/crawlweave/internal/retry"
	"github.com/google/uuid"
)

// searchReadinessAttempts/Backoff bound the "search readiness" tolerance
// (§4.7): a just-uploaded file's chunks may not be visible to the store's
// query path the instant upload_text returns, so an empty result set is
// retried a bounded number of times rather than trusted immediately.
const (
	searchReadinessAttempts = 3
	searchReadinessBackoff  = time.Second
)

// FileState is the lifecycle state of an uploaded file's processing (§4.7).
type FileState string

const (
	FileUploaded   FileState = "uploaded"
	FileProcessing FileState = "processing"
	FileCompleted  FileState = "completed"
	FileFailed     FileState = "failed"
)

// FileInfo describes one uploaded file's status, returned by FileStatus and ListFiles.
type FileInfo struct {
	FileID   string
	Filename string
	State    FileState
	Error    string
}

// Manager implements get_or_create_store / upload_text / file_status / search /
// delete_file / list_files (C4) on top of a VectorStore, running chunking and
// embedding in-process via the ingestion pipeline and the embedder.
type Manager struct {
	store    VectorStore
	pipeline *ingestion.Pipeline
	embedder embedder.Embedder
	dim      int

	mu    sync.Mutex
	files map[string]map[string]*FileInfo // storeName -> fileID -> info
}

// NewManager constructs a Manager. dim is the embedding dimension used when
// creating new stores.
func NewManager(store VectorStore, pipeline *ingestion.Pipeline, emb embedder.Embedder, dim int) *Manager {
	return &Manager{
		store:    store,
		pipeline: pipeline,
		embedder: emb,
		dim:      dim,
		files:    make(map[string]map[string]*FileInfo),
	}
}

// GetOrCreateStore resolves storeName to an existing store or creates a new
// hybrid (dense+sparse-capable) one, idempotent by name.
func (m *Manager) GetOrCreateStore(ctx context.Context, storeName string) (string, error) {
	exists, err := m.store.CollectionExists(ctx, storeName)
	if err != nil {
		return "", fmt.Errorf("failed to check store existence: %w", err)
	}
	if !exists {
		if err := m.store.CreateHybridCollection(ctx, storeName, m.dim); err != nil {
			return "", fmt.Errorf("failed to create store: %w", err)
		}
	}
	return storeName, nil
}

// UploadText chunks and embeds text in the background and returns a file_id
// immediately; its processing state is queryable via FileStatus.
func (m *Manager) UploadText(ctx context.Context, storeName, filename, text string) (string, error) {
	fileID := uuid.New().String()

	m.setStatus(storeName, &FileInfo{FileID: fileID, Filename: filename, State: FileProcessing})

	go m.processUpload(context.WithoutCancel(ctx), storeName, fileID, filename, text)

	return fileID, nil
}

func (m *Manager) processUpload(ctx context.Context, storeName, fileID, filename, text string) {
	result, err := m.pipeline.Process(ctx, text)
	if err != nil {
		m.setStatus(storeName, &FileInfo{FileID: fileID, Filename: filename, State: FileFailed, Error: err.Error()})
		return
	}

	texts := make([]string, len(result.Chunks))
	for i, c := range result.Chunks {
		texts[i] = c.Content
	}

	var vectors [][]float32
	err = retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		v, embedErr := m.embedder.EmbedBatch(ctx, texts)
		if embedErr != nil {
			return domain.NewTransientBackendError("vectorstore.embed", embedErr)
		}
		vectors = v
		return nil
	})
	if err != nil {
		m.setStatus(storeName, &FileInfo{FileID: fileID, Filename: filename, State: FileFailed, Error: err.Error()})
		return
	}

	chunks := make([]Chunk, len(result.Chunks))
	for i, c := range result.Chunks {
		meta := make(map[string]string, len(c.Metadata)+1)
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta["filename"] = filename
		chunks[i] = Chunk{
			ID:         uuid.New().String(),
			DocumentID: fileID,
			Content:    c.Content,
			Vector:     vectors[i],
			Metadata:   meta,
		}
	}

	err = retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		if upsertErr := m.store.Upsert(ctx, storeName, chunks); upsertErr != nil {
			return domain.NewTransientBackendError("vectorstore.upsert", upsertErr)
		}
		return nil
	})
	if err != nil {
		m.setStatus(storeName, &FileInfo{FileID: fileID, Filename: filename, State: FileFailed, Error: err.Error()})
		return
	}

	m.setStatus(storeName, &FileInfo{FileID: fileID, Filename: filename, State: FileCompleted})
}

// Search embeds query (rewriting it first if requested) and runs a hybrid
// similarity search against storeName, returning up to k results above
// scoreThreshold. An empty result is retried per the search-readiness
// tolerance when storeName has files tracked but none yet completed,
// rather than returned as a confident "no matches".
func (m *Manager) Search(ctx context.Context, storeName, query string, k int, scoreThreshold float32, rewriteQuery bool) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}

	q := query
	if rewriteQuery {
		q = ingestion.RewriteQuery(query)
	}

	var vector []float32
	err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context) error {
		v, embedErr := m.embedder.EmbedQuery(ctx, q)
		if embedErr != nil {
			return domain.NewTransientBackendError("vectorstore.search.embed", embedErr)
		}
		vector = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed search query: %w", err)
	}

	var results []SearchResult
	for attempt := 0; attempt < searchReadinessAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, domain.NewCancelledError("context done while waiting for search readiness")
			case <-time.After(searchReadinessBackoff):
			}
		}

		var searchErr error
		results, searchErr = m.store.HybridSearch(ctx, storeName, vector, nil, k, scoreThreshold)
		if searchErr != nil {
			return nil, fmt.Errorf("failed to search store: %w", searchErr)
		}
		if len(results) > 0 || !m.hasPendingFiles(storeName) {
			return results, nil
		}
	}
	return results, nil
}

// hasPendingFiles reports whether storeName has files tracked but none yet
// completed — the condition under which an empty search result is treated
// as not-yet-searchable rather than a genuine zero matches (§4.7).
func (m *Manager) hasPendingFiles(storeName string) bool {
	files := m.ListFiles(storeName)
	if len(files) == 0 {
		return false
	}
	for _, f := range files {
		if f.State == FileCompleted {
			return false
		}
	}
	return true
}

func (m *Manager) setStatus(storeName string, info *FileInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[storeName] == nil {
		m.files[storeName] = make(map[string]*FileInfo)
	}
	m.files[storeName][info.FileID] = info
}

// FileStatus reports an uploaded file's current processing state.
func (m *Manager) FileStatus(storeName, fileID string) (*FileInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.files[storeName][fileID]
	return info, ok
}

// ListFiles lists every file ever uploaded to storeName in this process.
func (m *Manager) ListFiles(storeName string) []*FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*FileInfo, 0, len(m.files[storeName]))
	for _, info := range m.files[storeName] {
		out = append(out, info)
	}
	return out
}

// DeleteFile removes a file's chunks from the store and forgets its status.
func (m *Manager) DeleteFile(ctx context.Context, storeName, fileID string) error {
	if err := m.store.Delete(ctx, storeName, fileID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.files[storeName], fileID)
	m.mu.Unlock()
	return nil
}
