package vectorstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/ingestion"
)

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dim), nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}
func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dim), nil
}
func (f *fakeEmbedder) Dimension() int    { return f.dim }
func (f *fakeEmbedder) ModelName() string { return "fake" }

// searchStore wraps fakeStore but returns a canned, call-counted result from
// HybridSearch so tests can exercise Search's readiness retry loop.
type searchStore struct {
	fakeStore
	callCount     int
	resultsAfter  int // HybridSearch returns nonEmptyResults starting on this call (1-indexed)
	nonEmptyFails bool
}

func (s *searchStore) HybridSearch(ctx context.Context, storeName string, denseVector []float32, sparseVector *SparseVector, topK int, minScore float32) ([]SearchResult, error) {
	s.callCount++
	if s.nonEmptyFails {
		return nil, fmt.Errorf("backend unavailable")
	}
	if s.resultsAfter > 0 && s.callCount >= s.resultsAfter {
		return []SearchResult{{ID: "chunk-1", DocumentID: "file-1", Content: "a matching passage", Score: 0.9}}, nil
	}
	return nil, nil
}

func TestManager_UploadText_CompletesAsynchronously(t *testing.T) {
	store := &fakeStore{}
	pipeline := ingestion.NewPipelineWithDefaults()
	mgr := NewManager(store, pipeline, &fakeEmbedder{dim: 8}, 8)

	fileID, err := mgr.UploadText(context.Background(), "store_test", "notes.txt", "hello world, this is a short document about nothing in particular.")
	if err != nil {
		t.Fatalf("UploadText: %v", err)
	}

	info, ok := mgr.FileStatus("store_test", fileID)
	if !ok {
		t.Fatal("expected status to be tracked immediately")
	}
	if info.State != FileProcessing && info.State != FileCompleted {
		t.Errorf("unexpected initial state: %s", info.State)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info, _ = mgr.FileStatus("store_test", fileID)
		if info.State == FileCompleted || info.State == FileFailed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if info.State != FileCompleted {
		t.Errorf("expected upload to complete, got state=%s err=%s", info.State, info.Error)
	}

	files := mgr.ListFiles("store_test")
	if len(files) != 1 {
		t.Errorf("expected 1 tracked file, got %d", len(files))
	}
}

func TestManager_Search_ReturnsResultsImmediatelyWhenAvailable(t *testing.T) {
	store := &searchStore{resultsAfter: 1}
	mgr := NewManager(store, ingestion.NewPipelineWithDefaults(), &fakeEmbedder{dim: 8}, 8)

	results, err := mgr.Search(context.Background(), "store_test", "what does the report say?", 5, 0.5, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if store.callCount != 1 {
		t.Errorf("expected a single search call when results are immediately available, got %d", store.callCount)
	}
}

func TestManager_Search_RetriesWhileFileNotYetCompleted(t *testing.T) {
	store := &searchStore{resultsAfter: 2}
	mgr := NewManager(store, ingestion.NewPipelineWithDefaults(), &fakeEmbedder{dim: 8}, 8)
	mgr.setStatus("store_test", &FileInfo{FileID: "file-1", Filename: "a.txt", State: FileProcessing})

	results, err := mgr.Search(context.Background(), "store_test", "query text", 5, 0.5, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the retry to surface a result, got %d", len(results))
	}
	if store.callCount != 2 {
		t.Errorf("expected exactly 2 search attempts, got %d", store.callCount)
	}
}

func TestManager_Search_GivesUpAfterReadinessWindowWhenStillPending(t *testing.T) {
	store := &searchStore{resultsAfter: 0}
	mgr := NewManager(store, ingestion.NewPipelineWithDefaults(), &fakeEmbedder{dim: 8}, 8)
	mgr.setStatus("store_test", &FileInfo{FileID: "file-1", Filename: "a.txt", State: FileProcessing})

	results, err := mgr.Search(context.Background(), "store_test", "query text", 5, 0.5, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results once the readiness window is exhausted, got %d", len(results))
	}
	if store.callCount != searchReadinessAttempts {
		t.Errorf("expected all %d readiness attempts to be used, got %d", searchReadinessAttempts, store.callCount)
	}
}

func TestManager_Search_DoesNotRetryWhenNoFilesArePending(t *testing.T) {
	store := &searchStore{resultsAfter: 0}
	mgr := NewManager(store, ingestion.NewPipelineWithDefaults(), &fakeEmbedder{dim: 8}, 8)
	mgr.setStatus("store_test", &FileInfo{FileID: "file-1", Filename: "a.txt", State: FileCompleted})

	results, err := mgr.Search(context.Background(), "store_test", "query text", 5, 0.5, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected genuinely empty results, got %d", len(results))
	}
	if store.callCount != 1 {
		t.Errorf("expected no retries once every tracked file has completed, got %d", store.callCount)
	}
}

func TestManager_Search_RewritesQueryWhenRequested(t *testing.T) {
	store := &searchStore{resultsAfter: 1}
	mgr := NewManager(store, ingestion.NewPipelineWithDefaults(), &fakeEmbedder{dim: 8}, 8)

	_, err := mgr.Search(context.Background(), "store_test", "Hi there. So, what does the onboarding guide say about vacation policy?", 5, 0.5, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
}

func TestManager_Search_PropagatesSearchBackendError(t *testing.T) {
	store := &searchStore{nonEmptyFails: true}
	mgr := NewManager(store, ingestion.NewPipelineWithDefaults(), &fakeEmbedder{dim: 8}, 8)

	if _, err := mgr.Search(context.Background(), "store_test", "query", 5, 0.5, false); err == nil {
		t.Fatal("expected an error when the underlying store fails")
	}
}
