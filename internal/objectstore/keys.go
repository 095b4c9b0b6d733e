package objectstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// UploadedDocumentKey builds the object key for a user-uploaded document (§4.1).
func UploadedDocumentKey(userID, ext string) string {
	return fmt.Sprintf("uploaded_documents/%s/%d_%s%s", userID, time.Now().Unix(), randSuffix(), ext)
}

// CrawledArtifactKey builds the object key for an artifact downloaded by a crawl task.
func CrawledArtifactKey(taskID, relativePath string) string {
	return fmt.Sprintf("crawled/%s/%s", taskID, sanitizeRelativePath(relativePath))
}

// TempArtifactKey builds the object key for a short-lived intermediate artifact.
func TempArtifactKey(purpose, userID, ext string) string {
	return fmt.Sprintf("temp/%s/%s/%d_%s%s", purpose, userID, time.Now().Unix(), randSuffix(), ext)
}

func randSuffix() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func sanitizeRelativePath(p string) string {
	p = filepath.ToSlash(p)
	p = strings.TrimPrefix(p, "/")
	return strings.ReplaceAll(p, "..", "_")
}

// RuntimeProfile captures whether the process is executing in a constrained
// runtime (ephemeral disk, non-persistent identity), computed once at startup
// per the "Runtime-environment sniffing ... becomes a single RuntimeProfile
// value" re-architecture decision.
type RuntimeProfile struct {
	Constrained bool
}

// DetectRuntimeProfile inspects process environment signals for known
// constrained-runtime markers.
func DetectRuntimeProfile() RuntimeProfile {
	signals := []string{
		"AWS_LAMBDA_FUNCTION_NAME",
		"AWS_EXECUTION_ENV",
		"LAMBDA_TASK_ROOT",
		"AWS_LAMBDA_RUNTIME_API",
	}
	for _, name := range signals {
		if os.Getenv(name) != "" {
			return RuntimeProfile{Constrained: true}
		}
	}

	if wd, err := os.Getwd(); err == nil {
		if wd == "/var/task" || strings.HasPrefix(wd, "/tmp") {
			return RuntimeProfile{Constrained: true}
		}
	}

	return RuntimeProfile{Constrained: false}
}

// ShouldSpool decides the upload path per §4.1: constrained runtimes and PDF
// payloads always spool; everything else may use the direct path.
func (p RuntimeProfile) ShouldSpool(contentHead []byte) bool {
	if p.Constrained {
		return true
	}
	return len(contentHead) >= 5 && string(contentHead[:5]) == "%PDF-"
}
