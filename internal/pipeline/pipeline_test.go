package pipeline

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/embedder"
	"github.com/HariharanV1992/crawlweave/internal/extractor"
	"github.com/HariharanV1992/crawlweave/internal/ingestion"
	"github.com/HariharanV1992/crawlweave/internal/objectstore"
	"github.com/HariharanV1992/crawlweave/internal/repository"
	"github.com/HariharanV1992/crawlweave/internal/vectorstore"
	"github.com/google/uuid"
)

var (
	_ repository.DocumentRepository = (*fakeDocRepo)(nil)
	_ objectstore.Store             = (*fakeObjectStore)(nil)
	_ vectorstore.VectorStore       = (*fakeVectorStore)(nil)
)

// --- fakes ---

type fakeObjectStore struct{ puts int }

func (f *fakeObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	f.puts++
	return "fakehash", nil
}
func (f *fakeObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}
func (f *fakeObjectStore) Delete(ctx context.Context, key string) error { return nil }

type fakeDocRepo struct {
	created []*domain.Document
}

func (f *fakeDocRepo) Create(ctx context.Context, d *domain.Document) error {
	f.created = append(f.created, d)
	return nil
}
func (f *fakeDocRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	return nil, domainNotFound()
}
func (f *fakeDocRepo) GetByHash(ctx context.Context, userID, contentHash string) (*domain.Document, error) {
	return nil, domainNotFound()
}
func (f *fakeDocRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Document, error) {
	return nil, nil
}
func (f *fakeDocRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Document, int, error) {
	return nil, 0, nil
}
func (f *fakeDocRepo) Update(ctx context.Context, d *domain.Document) error { return nil }
func (f *fakeDocRepo) Delete(ctx context.Context, id uuid.UUID) error      { return nil }
func (f *fakeDocRepo) DeleteByTask(ctx context.Context, taskID uuid.UUID) error { return nil }

func domainNotFound() error { return &notFoundErr{} }

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

type fakeVectorStore struct{ collections map[string]bool }

func (f *fakeVectorStore) CreateCollection(ctx context.Context, storeName string, dimension int) error {
	return nil
}
func (f *fakeVectorStore) CreateHybridCollection(ctx context.Context, storeName string, dimension int) error {
	if f.collections == nil {
		f.collections = map[string]bool{}
	}
	f.collections[storeName] = true
	return nil
}
func (f *fakeVectorStore) DeleteCollection(ctx context.Context, storeName string) error { return nil }
func (f *fakeVectorStore) CollectionExists(ctx context.Context, storeName string) (bool, error) {
	return f.collections[storeName], nil
}
func (f *fakeVectorStore) Upsert(ctx context.Context, storeName string, chunks []vectorstore.Chunk) error {
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, storeName string, vector []float32, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	return nil, nil
}
func (f *fakeVectorStore) HybridSearch(ctx context.Context, storeName string, denseVector []float32, sparseVector *vectorstore.SparseVector, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	return nil, nil
}
func (f *fakeVectorStore) Delete(ctx context.Context, storeName string, documentID string) error {
	return nil
}
func (f *fakeVectorStore) DeleteByIDs(ctx context.Context, storeName string, ids []string) error {
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 4), nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, 4)
	}
	return out, nil
}
func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, 4), nil
}
func (fakeEmbedder) Dimension() int    { return 4 }
func (fakeEmbedder) ModelName() string { return "fake" }

var _ embedder.Embedder = fakeEmbedder{}

func newTestPipeline(objects *fakeObjectStore, docs *fakeDocRepo) *Pipeline {
	vs := &fakeVectorStore{}
	mgr := vectorstore.NewManager(vs, ingestion.NewPipelineWithDefaults(), fakeEmbedder{}, 4)
	sessions := vectorstore.NewSessionCache(mgr, 16)
	reg := extractor.NewRegistry(nil, nil, "")
	return New(reg, objects, docs, mgr, sessions, "default-store")
}

func TestPipeline_Run_EmptyTextMarksProcessedNoText(t *testing.T) {
	objects := &fakeObjectStore{}
	docs := &fakeDocRepo{}
	p := newTestPipeline(objects, docs)

	doc, err := p.Run(context.Background(), Input{
		UserID:   "user-1",
		Filename: "blank.txt",
		Content:  []byte("   \n\t  "),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if doc.Status != domain.DocProcessedNoText {
		t.Errorf("expected PROCESSED_NO_TEXT, got %s", doc.Status)
	}
	if objects.puts != 1 {
		t.Errorf("expected the object to still be written, got %d puts", objects.puts)
	}
}

func TestPipeline_Run_TextContentUploadsToVectorStore(t *testing.T) {
	objects := &fakeObjectStore{}
	docs := &fakeDocRepo{}
	p := newTestPipeline(objects, docs)

	doc, err := p.Run(context.Background(), Input{
		UserID:   "user-1",
		Filename: "notes.txt",
		Content:  []byte("some real textual content worth indexing"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if doc.Status != domain.DocProcessedVectorPend {
		t.Errorf("expected PROCESSED_VECTOR_PENDING, got %s", doc.Status)
	}
	if doc.VectorStoreID != "default-store" {
		t.Errorf("expected default store name, got %s", doc.VectorStoreID)
	}
	if len(docs.created) != 1 {
		t.Errorf("expected one document record to be created, got %d", len(docs.created))
	}
}

func TestPipeline_RunExtractedText_SkipsExtractionAndIndexesDirectly(t *testing.T) {
	objects := &fakeObjectStore{}
	docs := &fakeDocRepo{}
	p := newTestPipeline(objects, docs)

	taskID := uuid.New()
	doc, err := p.RunExtractedText(context.Background(), Input{
		UserID:   "user-1",
		TaskID:   &taskID,
		Filename: "page.txt",
	}, "  already extracted   crawl text  ")
	if err != nil {
		t.Fatalf("RunExtractedText: %v", err)
	}
	if doc.ExtractionMethod != "provided_text" {
		t.Errorf("expected provided_text extraction method, got %s", doc.ExtractionMethod)
	}
	if doc.Content != "already extracted crawl text" {
		t.Errorf("expected cleaned content, got %q", doc.Content)
	}
	if doc.Status != domain.DocProcessedVectorPend {
		t.Errorf("expected PROCESSED_VECTOR_PENDING, got %s", doc.Status)
	}
	if objects.puts != 1 {
		t.Errorf("expected the object to be written, got %d puts", objects.puts)
	}
}

// dedupDocRepo simulates a document already persisted for a given
// (user_id, content_hash) pair, as repository.DocumentRepository would after
// a first successful ingest.
type dedupDocRepo struct {
	fakeDocRepo
	existing *domain.Document
}

func (f *dedupDocRepo) GetByHash(ctx context.Context, userID, contentHash string) (*domain.Document, error) {
	if f.existing != nil && f.existing.UserID == userID && f.existing.ContentHash == contentHash {
		return f.existing, nil
	}
	return nil, domainNotFound()
}

func TestPipeline_Run_DuplicateContentReturnsExistingDocument(t *testing.T) {
	objects := &fakeObjectStore{}
	existing := &domain.Document{
		DocumentID:    uuid.New(),
		UserID:        "user-1",
		ContentHash:   contentHash("some real textual content worth indexing"),
		VectorStoreID: "default-store",
		VectorFileID:  "file-123",
		Status:        domain.DocProcessed,
	}
	docs := &dedupDocRepo{existing: existing}
	vs := &fakeVectorStore{}
	mgr := vectorstore.NewManager(vs, ingestion.NewPipelineWithDefaults(), fakeEmbedder{}, 4)
	sessions := vectorstore.NewSessionCache(mgr, 16)
	reg := extractor.NewRegistry(nil, nil, "")
	p := New(reg, objects, docs, mgr, sessions, "default-store")

	doc, err := p.Run(context.Background(), Input{
		UserID:   "user-1",
		Filename: "notes-again.txt",
		Content:  []byte("some real textual content worth indexing"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if doc.DocumentID != existing.DocumentID {
		t.Errorf("expected re-ingest to return the existing document_id %s, got %s", existing.DocumentID, doc.DocumentID)
	}
	if len(docs.created) != 0 {
		t.Errorf("expected no new document record created on duplicate ingest, got %d", len(docs.created))
	}
	if objects.puts != 0 {
		t.Errorf("expected no object written for duplicate content, got %d puts", objects.puts)
	}
}

func TestPipeline_Run_SessionScopedUploadUsesSessionStore(t *testing.T) {
	objects := &fakeObjectStore{}
	docs := &fakeDocRepo{}
	p := newTestPipeline(objects, docs)

	sessionID := "11111111-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	doc, err := p.Run(context.Background(), Input{
		UserID:    "user-1",
		SessionID: &sessionID,
		Filename:  "chat-upload.txt",
		Content:   []byte("content uploaded during a chat session"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := domain.SessionVectorStoreName(sessionID)
	if doc.VectorStoreID != want {
		t.Errorf("expected session-scoped store %s, got %s", want, doc.VectorStoreID)
	}
}
