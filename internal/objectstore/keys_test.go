package objectstore

import (
	"strings"
	"testing"
)

func TestUploadedDocumentKey(t *testing.T) {
	key := UploadedDocumentKey("user-1", ".pdf")
	if !strings.HasPrefix(key, "uploaded_documents/user-1/") {
		t.Errorf("unexpected key prefix: %s", key)
	}
	if !strings.HasSuffix(key, ".pdf") {
		t.Errorf("expected .pdf suffix, got %s", key)
	}
}

func TestCrawledArtifactKey_SanitizesTraversal(t *testing.T) {
	key := CrawledArtifactKey("task-1", "../../etc/passwd")
	if strings.Contains(key, "..") {
		t.Errorf("expected traversal to be sanitized, got %s", key)
	}
	if !strings.HasPrefix(key, "crawled/task-1/") {
		t.Errorf("unexpected key prefix: %s", key)
	}
}

func TestRuntimeProfile_ShouldSpool_PDF(t *testing.T) {
	p := RuntimeProfile{Constrained: false}
	if !p.ShouldSpool([]byte("%PDF-1.7")) {
		t.Error("expected PDF content to force spooled upload")
	}
	if p.ShouldSpool([]byte("plain text")) {
		t.Error("expected non-PDF content on unconstrained runtime to not spool")
	}
}

func TestRuntimeProfile_ShouldSpool_Constrained(t *testing.T) {
	p := RuntimeProfile{Constrained: true}
	if !p.ShouldSpool([]byte("anything")) {
		t.Error("expected constrained runtime to always spool")
	}
}
