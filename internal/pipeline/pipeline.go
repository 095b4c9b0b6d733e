// Package pipeline orchestrates the detect -> extract -> clean -> store ->
// index stages that turn raw bytes into a searchable Document (C7).
package pipeline

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/extractor"
	"github.com/HariharanV1992/crawlweave/internal/objectstore"
	"github.com/HariharanV1992/crawlweave/internal/repository"
	"github.com/HariharanV1992/crawlweave/internal/vectorstore"
	"github.com/google/uuid"
)

// unreadableDocumentMessage is the user-facing error stored when every
// extraction strategy yields no text. It deliberately names no library or
// vendor (§4.6).
const unreadableDocumentMessage = "could not recover readable text from this file. " +
	"It may be a scanned image, password-protected, or corrupted — try re-exporting or re-uploading it."

// Pipeline runs the detect/extract/clean/store/index stages for one artifact.
type Pipeline struct {
	extractor        *extractor.Registry
	objects          objectstore.Store
	documents        repository.DocumentRepository
	vectors          *vectorstore.Manager
	sessions         *vectorstore.SessionCache
	defaultStoreName string
}

// New builds a Pipeline from its collaborators. defaultStoreName names the
// shared vector store used for crawl-sourced content (content with no
// session_id).
func New(
	extractorRegistry *extractor.Registry,
	objects objectstore.Store,
	documents repository.DocumentRepository,
	vectors *vectorstore.Manager,
	sessions *vectorstore.SessionCache,
	defaultStoreName string,
) *Pipeline {
	return &Pipeline{
		extractor:        extractorRegistry,
		objects:          objects,
		documents:        documents,
		vectors:          vectors,
		sessions:         sessions,
		defaultStoreName: defaultStoreName,
	}
}

// Input describes one artifact to run through the pipeline.
type Input struct {
	UserID    string
	TaskID    *uuid.UUID
	SessionID *string
	Filename  string
	Content   []byte
}

// Run executes the full pipeline ordering from §4.6: detect type, extract
// text, clean it, write the object, upsert the document record, and (when
// text was recovered) upload it to the resolved vector store. All steps
// after successful extraction are attempted even if a later step fails;
// vector-upload failure never rolls back the document record or object
// write.
func (p *Pipeline) Run(ctx context.Context, in Input) (*domain.Document, error) {
	docType := extractor.DetectType(in.Filename, in.Content)

	result, err := p.extractor.Extract(ctx, in.UserID, in.Filename, in.Content)
	if err != nil {
		return nil, fmt.Errorf("extraction failed for %s: %w", in.Filename, err)
	}

	if existing, dup := p.checkDuplicate(ctx, in.UserID, result.Text); dup {
		return existing, nil
	}

	objectKey, err := p.writeObject(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to write object for %s: %w", in.Filename, err)
	}

	doc := &domain.Document{
		DocumentID:       uuid.New(),
		UserID:           in.UserID,
		TaskID:           in.TaskID,
		SessionID:        in.SessionID,
		Filename:         in.Filename,
		ObjectKey:        objectKey,
		FileSize:         int64(len(in.Content)),
		DocType:          docType,
		ExtractionMethod: result.Method,
		Status:           domain.DocProcessing,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	return p.indexAndPersist(ctx, doc, in, result.Text)
}

// RunExtractedText runs the clean -> store -> index stages directly over
// text the caller already extracted (ingest_crawled_content, §6), skipping
// type detection and extraction entirely.
func (p *Pipeline) RunExtractedText(ctx context.Context, in Input, text string) (*domain.Document, error) {
	cleaned := extractor.CleanText(text)

	if existing, dup := p.checkDuplicate(ctx, in.UserID, cleaned); dup {
		return existing, nil
	}

	objectKey, err := p.writeObject(ctx, Input{TaskID: in.TaskID, UserID: in.UserID, Filename: in.Filename, Content: []byte(cleaned)})
	if err != nil {
		return nil, fmt.Errorf("failed to write object for %s: %w", in.Filename, err)
	}

	doc := &domain.Document{
		DocumentID:       uuid.New(),
		UserID:           in.UserID,
		TaskID:           in.TaskID,
		SessionID:        in.SessionID,
		Filename:         in.Filename,
		ObjectKey:        objectKey,
		FileSize:         int64(len(cleaned)),
		DocType:          domain.DocText,
		ExtractionMethod: "provided_text",
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	return p.indexAndPersist(ctx, doc, in, cleaned)
}

// indexAndPersist runs the vector-upload -> persist tail shared by Run and
// RunExtractedText once a Document skeleton and its (possibly empty)
// extracted text are in hand. The caller has already checked for a
// duplicate via checkDuplicate before writing the object, so by this point
// text is known to represent new content. All steps here are attempted even
// if a later one fails; vector-upload failure never rolls back the document
// record or the object write already performed by the caller.
func (p *Pipeline) indexAndPersist(ctx context.Context, doc *domain.Document, in Input, text string) (*domain.Document, error) {
	if strings.TrimSpace(text) == "" {
		doc.Status = domain.DocProcessedNoText
		doc.LastError = unreadableDocumentMessage
		if err := p.documents.Create(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to persist document record: %w", err)
		}
		return doc, nil
	}

	doc.Content = text
	doc.ContentHash = contentHash(text)

	storeName, err := p.resolveStore(ctx, in)
	if err != nil {
		doc.Status = domain.DocProcessedVectorFail
		doc.LastError = err.Error()
		if cerr := p.documents.Create(ctx, doc); cerr != nil {
			return nil, fmt.Errorf("failed to persist document record: %w", cerr)
		}
		return doc, nil
	}

	fileID, err := p.vectors.UploadText(ctx, storeName, in.Filename, text)
	if err != nil {
		doc.Status = domain.DocProcessedVectorFail
		doc.LastError = err.Error()
	} else {
		doc.VectorStoreID = storeName
		doc.VectorFileID = fileID
		doc.Status = domain.DocProcessedVectorPend
	}

	if err := p.documents.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to persist document record: %w", err)
	}
	return doc, nil
}

// checkDuplicate reports whether identical content has already been
// ingested for this user, so the caller can skip writing a new object and
// return the existing record verbatim instead (§3 invariant 3, §8 Scenario
// S2 — re-ingesting identical bytes returns the same document_id, not a new
// one, and never leaves behind an orphaned object for content that turns
// out to be a duplicate). Content that extracted to nothing is never a
// dedup candidate; it is persisted as-is by indexAndPersist.
func (p *Pipeline) checkDuplicate(ctx context.Context, userID, text string) (*domain.Document, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	existing, err := p.documents.GetByHash(ctx, userID, contentHash(text))
	if err != nil {
		return nil, false
	}
	return existing, true
}

func (p *Pipeline) writeObject(ctx context.Context, in Input) (string, error) {
	var key string
	if in.TaskID != nil {
		key = objectstore.CrawledArtifactKey(in.TaskID.String(), in.Filename)
	} else {
		key = objectstore.UploadedDocumentKey(in.UserID, extOf(in.Filename))
	}

	if _, err := p.objects.Put(ctx, key, bytes.NewReader(in.Content), int64(len(in.Content))); err != nil {
		return "", err
	}
	return key, nil
}

// resolveStore picks the global default store for crawl-sourced content or
// the session-scoped store for chat-session uploads.
func (p *Pipeline) resolveStore(ctx context.Context, in Input) (string, error) {
	if in.SessionID != nil && *in.SessionID != "" {
		return p.sessions.StoreForSession(ctx, *in.SessionID)
	}
	return p.vectors.GetOrCreateStore(ctx, p.defaultStoreName)
}

func contentHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func extOf(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return filename[idx:]
}
