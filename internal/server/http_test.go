package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HariharanV1992/crawlweave/internal/auth"
	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/embedder"
	"github.com/HariharanV1992/crawlweave/internal/extractor"
	"github.com/HariharanV1992/crawlweave/internal/facade"
	"github.com/HariharanV1992/crawlweave/internal/ingestion"
	"github.com/HariharanV1992/crawlweave/internal/objectstore"
	"github.com/HariharanV1992/crawlweave/internal/pipeline"
	"github.com/HariharanV1992/crawlweave/internal/repository"
	"github.com/HariharanV1992/crawlweave/internal/vectorstore"
	"github.com/google/uuid"
)

// --- fakes: a minimal in-memory stack wired the same way production main.go will ---

type fakeTaskRepo struct{ tasks map[uuid.UUID]*domain.CrawlTask }

func newFakeTaskRepo() *fakeTaskRepo { return &fakeTaskRepo{tasks: map[uuid.UUID]*domain.CrawlTask{}} }

func (r *fakeTaskRepo) Create(ctx context.Context, t *domain.CrawlTask) error {
	r.tasks[t.TaskID] = t
	return nil
}
func (r *fakeTaskRepo) GetByID(ctx context.Context, taskID uuid.UUID) (*domain.CrawlTask, error) {
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}
func (r *fakeTaskRepo) List(ctx context.Context, userID string, limit, offset int) ([]*domain.CrawlTask, int, error) {
	var out []*domain.CrawlTask
	for _, t := range r.tasks {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}
func (r *fakeTaskRepo) CASStatus(ctx context.Context, taskID uuid.UUID, expected, next domain.TaskStatus, touch repository.TaskTouch) error {
	t, ok := r.tasks[taskID]
	if !ok {
		return repository.ErrNotFound
	}
	if t.Status != expected {
		return repository.ErrCASFailed
	}
	t.Status = next
	return nil
}
func (r *fakeTaskRepo) UpdateProgress(ctx context.Context, taskID uuid.UUID, deltaPages, deltaDocs int, newErrors, downloadedKeys []string) error {
	return nil
}
func (r *fakeTaskRepo) Delete(ctx context.Context, taskID uuid.UUID) error {
	delete(r.tasks, taskID)
	return nil
}

var _ repository.TaskRepository = (*fakeTaskRepo)(nil)

type fakeDocRepo struct{}

func (f *fakeDocRepo) Create(ctx context.Context, d *domain.Document) error { return nil }
func (f *fakeDocRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeDocRepo) GetByHash(ctx context.Context, userID, contentHash string) (*domain.Document, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeDocRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Document, error) {
	return nil, nil
}
func (f *fakeDocRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Document, int, error) {
	return nil, 0, nil
}
func (f *fakeDocRepo) Update(ctx context.Context, d *domain.Document) error     { return nil }
func (f *fakeDocRepo) Delete(ctx context.Context, id uuid.UUID) error          { return nil }
func (f *fakeDocRepo) DeleteByTask(ctx context.Context, taskID uuid.UUID) error { return nil }

var _ repository.DocumentRepository = (*fakeDocRepo)(nil)

type fakeEnqueuer struct{ enqueued []uuid.UUID }

func (f *fakeEnqueuer) Enqueue(ctx context.Context, taskID uuid.UUID, userID string) error {
	f.enqueued = append(f.enqueued, taskID)
	return nil
}

type fakeObjectStore struct{}

func (fakeObjectStore) Put(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	return "fakehash", nil
}
func (fakeObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}
func (fakeObjectStore) Delete(ctx context.Context, key string) error { return nil }

var _ objectstore.Store = fakeObjectStore{}

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

type testServer struct {
	srv    *HTTPServer
	jwt    *auth.JWTManager
	tasks  *fakeTaskRepo
	queue  *fakeEnqueuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithUploadLimit(t, 0)
}

func newTestServerWithUploadLimit(t *testing.T, maxUploadBytes int64) *testServer {
	t.Helper()
	tasks := newFakeTaskRepo()
	docs := &fakeDocRepo{}
	q := &fakeEnqueuer{}

	vs := &fakeVectorStore{}
	mgr := vectorstore.NewManager(vs, ingestion.NewPipelineWithDefaults(), fakeEmbedder{}, 4)
	sessions := vectorstore.NewSessionCache(mgr, 16)
	reg := extractor.NewRegistry(nil, nil, "")
	p := pipeline.New(reg, fakeObjectStore{}, docs, mgr, sessions, "default-store")

	f := facade.New(tasks, docs, q, p)

	jwtMgr := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))

	srv, err := NewHTTPServer(HTTPServerConfig{
		Port:           0,
		Facade:         f,
		JWTManager:     jwtMgr,
		MaxUploadBytes: maxUploadBytes,
	})
	if err != nil {
		t.Fatalf("NewHTTPServer: %v", err)
	}
	return &testServer{srv: srv, jwt: jwtMgr, tasks: tasks, queue: q}
}

func (ts *testServer) authedRequest(t *testing.T, method, path, userID string, body []byte) *http.Response {
	t.Helper()
	token, err := ts.jwt.GenerateToken(userID)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.GetRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func TestCreateStartGetCancelTaskLifecycle(t *testing.T) {
	ts := newTestServer(t)

	createBody, _ := json.Marshal(map[string]any{
		"url":           "https://example.com",
		"max_documents": 5,
		"max_pages":     5,
		"max_workers":   2,
	})
	resp := ts.authedRequest(t, http.MethodPost, "/v1/tasks/", "user-1", createBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created domain.CrawlTask
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != domain.TaskPending {
		t.Errorf("expected PENDING, got %s", created.Status)
	}

	startResp := ts.authedRequest(t, http.MethodPost, "/v1/tasks/"+created.TaskID.String()+"/start", "user-1", nil)
	if startResp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", startResp.StatusCode)
	}
	if len(ts.queue.enqueued) != 1 {
		t.Errorf("expected task to be enqueued, got %d", len(ts.queue.enqueued))
	}

	getResp := ts.authedRequest(t, http.MethodGet, "/v1/tasks/"+created.TaskID.String()+"/", "user-1", nil)
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}

	getOtherUser := ts.authedRequest(t, http.MethodGet, "/v1/tasks/"+created.TaskID.String()+"/", "user-2", nil)
	if getOtherUser.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for a non-owning caller, got %d", getOtherUser.StatusCode)
	}

	cancelResp := ts.authedRequest(t, http.MethodPost, "/v1/tasks/"+created.TaskID.String()+"/cancel", "user-1", nil)
	if cancelResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", cancelResp.StatusCode)
	}
}

func TestCreateTask_RejectsInvalidPayload(t *testing.T) {
	ts := newTestServer(t)
	body, _ := json.Marshal(map[string]any{"url": "https://example.com", "max_documents": 0})
	resp := ts.authedRequest(t, http.MethodPost, "/v1/tasks/", "user-1", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid limits, got %d", resp.StatusCode)
	}
}

func TestUnauthenticatedRequest_Returns401(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/", nil)
	rec := httptest.NewRecorder()
	ts.srv.GetRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with no bearer token, got %d", rec.Code)
	}
}

func TestIngestCrawledContent(t *testing.T) {
	ts := newTestServer(t)
	body, _ := json.Marshal(map[string]any{
		"task_id":  uuid.New().String(),
		"filename": "page.txt",
		"text":     "already extracted crawl text",
	})
	resp := ts.authedRequest(t, http.MethodPost, "/v1/documents/crawled", "user-1", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
}

func TestIngestUploadedDocument(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte("some real textual content worth indexing"))
	mw.Close()

	token, _ := ts.jwt.GenerateToken("user-1")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.srv.GetRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestUploadedDocument_RejectsUploadOverTheConfiguredLimit(t *testing.T) {
	const limit = 16
	ts := newTestServerWithUploadLimit(t, limit)

	postUpload := func(content []byte) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "notes.txt")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		fw.Write(content)
		mw.Close()

		token, _ := ts.jwt.GenerateToken("user-1")
		req := httptest.NewRequest(http.MethodPost, "/v1/documents/", &buf)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		ts.srv.GetRouter().ServeHTTP(rec, req)
		return rec.Result()
	}

	atLimit := bytes.Repeat([]byte("a"), limit)
	resp := postUpload(atLimit)
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected an upload of exactly %d bytes to be accepted, got %d: %s", limit, resp.StatusCode, body)
	}

	overLimit := bytes.Repeat([]byte("a"), limit+1)
	resp = postUpload(overLimit)
	if resp.StatusCode != http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected an upload of %d bytes to be rejected with 400, got %d: %s", limit+1, resp.StatusCode, body)
	}
	var apiErr map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if !strings.Contains(apiErr["error"], "size limit") {
		t.Errorf("expected a size-limit validation error, got %v", apiErr)
	}
}

func TestHealthAndReadyEndpointsDoNotRequireAuth(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		ts.srv.GetRouter().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
