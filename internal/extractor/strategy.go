package extractor

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/objectstore"
)

// Result is the outcome of a successful extraction.
type Result struct {
	Text   string
	Method string
}

// TempStager stages bytes under a temporary object-store key for the OCR
// backend, which operates on object references rather than inline bytes.
type TempStager interface {
	Stage(ctx context.Context, userID, ext string, content []byte) (key string, cleanup func(context.Context), err error)
}

// stager implements TempStager against an objectstore.Store.
type stager struct{ store objectstore.Store }

// NewTempStager wraps an object store for OCR staging.
func NewTempStager(store objectstore.Store) TempStager { return &stager{store: store} }

func (s *stager) Stage(ctx context.Context, userID, ext string, content []byte) (string, func(context.Context), error) {
	key := objectstore.TempArtifactKey("ocr", userID, ext)
	if _, err := s.store.Put(ctx, key, bytes.NewReader(content), int64(len(content))); err != nil {
		return "", nil, err
	}
	cleanup := func(cctx context.Context) { _ = s.store.Delete(cctx, key) }
	return key, cleanup, nil
}

// Registry extracts text from a document, trying an ordered strategy chain
// per detected type until one yields non-empty text (§4.6).
type Registry struct {
	ocr    OCRClient
	stager TempStager
	bucket string
}

// NewRegistry builds the extraction strategy registry.
func NewRegistry(ocr OCRClient, stager TempStager, bucket string) *Registry {
	return &Registry{ocr: ocr, stager: stager, bucket: bucket}
}

// Extract detects filename/content's type and runs its strategy chain,
// returning the first non-empty result.
func (r *Registry) Extract(ctx context.Context, userID, filename string, content []byte) (*Result, error) {
	docType := DetectType(filename, content)

	switch docType {
	case domain.DocPDF:
		return r.extractPDF(ctx, userID, filename, content)
	case domain.DocImage:
		return r.extractImage(ctx, userID, filename, content)
	case domain.DocHTML:
		return &Result{Text: decodeAndClean(content, true), Method: "utf8_decode_html"}, nil
	default:
		return &Result{Text: decodeAndClean(content, false), Method: "utf8_decode_text"}, nil
	}
}

func (r *Registry) extractPDF(ctx context.Context, userID, filename string, content []byte) (*Result, error) {
	if r.ocr != nil && r.stager != nil {
		if text, err := r.runOCR(ctx, userID, ".pdf", content); err == nil && text != "" {
			return &Result{Text: cleanText(text), Method: "remote_ocr"}, nil
		}
	}

	if text := extractEmbeddedPDFText(content); text != "" {
		return &Result{Text: cleanText(text), Method: "embedded"}, nil
	}

	if text := aggressiveTextSalvage(content); text != "" {
		return &Result{Text: cleanText(text), Method: "aggressive_text_extraction"}, nil
	}

	return &Result{Text: "", Method: "all_methods_failed"}, nil
}

func (r *Registry) extractImage(ctx context.Context, userID, filename string, content []byte) (*Result, error) {
	if r.ocr != nil && r.stager != nil {
		ext := imageExt(content)
		if text, err := r.runOCR(ctx, userID, ext, content); err == nil && text != "" {
			return &Result{Text: cleanText(text), Method: "remote_ocr"}, nil
		}
	}

	if text := decodeAndClean(content, false); isLikelyUTF8Text(content) {
		return &Result{Text: text, Method: "raw_encoding_salvage"}, nil
	}

	return &Result{Text: "", Method: "all_methods_failed"}, nil
}

func (r *Registry) runOCR(ctx context.Context, userID, ext string, content []byte) (string, error) {
	key, cleanup, err := r.stager.Stage(ctx, userID, ext, content)
	if err != nil {
		return "", fmt.Errorf("failed to stage content for ocr: %w", err)
	}
	defer cleanup(ctx)

	return r.ocr.DetectDocumentText(ctx, r.bucket, key)
}

func imageExt(content []byte) string {
	switch {
	case len(content) >= 4 && content[0] == 0x89 && content[1] == 'P':
		return ".png"
	case len(content) >= 3 && content[0] == 0xFF && content[1] == 0xD8:
		return ".jpg"
	case len(content) >= 3 && content[0] == 'G' && content[1] == 'I' && content[2] == 'F':
		return ".gif"
	default:
		return ".bin"
	}
}

func isLikelyUTF8Text(content []byte) bool {
	return utf8.Valid(content) && len(content) > 0
}
