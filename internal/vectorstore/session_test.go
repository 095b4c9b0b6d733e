package vectorstore

import (
	"context"
	"testing"
)

type fakeStore struct {
	existing map[string]bool
}

func (f *fakeStore) CreateCollection(ctx context.Context, storeName string, dimension int) error {
	return nil
}
func (f *fakeStore) CreateHybridCollection(ctx context.Context, storeName string, dimension int) error {
	if f.existing == nil {
		f.existing = map[string]bool{}
	}
	f.existing[storeName] = true
	return nil
}
func (f *fakeStore) DeleteCollection(ctx context.Context, storeName string) error { return nil }
func (f *fakeStore) CollectionExists(ctx context.Context, storeName string) (bool, error) {
	return f.existing[storeName], nil
}
func (f *fakeStore) Upsert(ctx context.Context, storeName string, chunks []Chunk) error { return nil }
func (f *fakeStore) Search(ctx context.Context, storeName string, vector []float32, topK int, minScore float32) ([]SearchResult, error) {
	return nil, nil
}
func (f *fakeStore) HybridSearch(ctx context.Context, storeName string, denseVector []float32, sparseVector *SparseVector, topK int, minScore float32) ([]SearchResult, error) {
	return nil, nil
}
func (f *fakeStore) Delete(ctx context.Context, storeName string, documentID string) error {
	return nil
}
func (f *fakeStore) DeleteByIDs(ctx context.Context, storeName string, ids []string) error {
	return nil
}

var _ VectorStore = (*fakeStore)(nil)

func TestSessionCache_EvictsLeastRecentlyUsed(t *testing.T) {
	mgr := NewManager(&fakeStore{}, nil, nil, 768)
	cache := NewSessionCache(mgr, 2)
	ctx := context.Background()

	const sessionOne = "11111111-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	const sessionTwo = "22222222-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	const sessionThree = "33333333-cccc-cccc-cccc-cccccccccccc"

	s1, err := cache.StoreForSession(ctx, sessionOne)
	if err != nil {
		t.Fatalf("session-one: %v", err)
	}
	if _, err := cache.StoreForSession(ctx, sessionTwo); err != nil {
		t.Fatalf("session-two: %v", err)
	}
	// touch session-one again so session-two becomes the LRU entry
	if _, err := cache.StoreForSession(ctx, sessionOne); err != nil {
		t.Fatalf("session-one again: %v", err)
	}
	if _, err := cache.StoreForSession(ctx, sessionThree); err != nil {
		t.Fatalf("session-three: %v", err)
	}

	if _, ok := cache.entries[sessionTwo]; ok {
		t.Error("expected session-two to be evicted as least recently used")
	}
	if _, ok := cache.entries[sessionOne]; !ok {
		t.Error("expected session-one to survive eviction")
	}

	// re-resolving an evicted session must still work (rebuilds from backend)
	s1Again, err := cache.StoreForSession(ctx, sessionOne)
	if err != nil {
		t.Fatalf("session-one re-resolve: %v", err)
	}
	if s1Again != s1 {
		t.Errorf("expected stable store name across eviction, got %s vs %s", s1Again, s1)
	}
}
