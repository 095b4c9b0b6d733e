// Package crawlworker implements the crawl task worker loop (C9): pulling
// task envelopes off the queue, driving the fetcher and link extractor, and
// handing every discovered document to the Document Pipeline.
package crawlworker

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/HariharanV1992/crawlweave/internal/domain"
	"github.com/HariharanV1992/crawlweave/internal/fetcher"
	"github.com/HariharanV1992/crawlweave/internal/pipeline"
	"github.com/HariharanV1992/crawlweave/internal/queue"
	"github.com/HariharanV1992/crawlweave/internal/repository"
)

// maxFollowDepth bounds recursive link-following regardless of max_pages;
// unbounded depth on a pathological site could otherwise spend the whole
// page budget a handful of links deep.
const maxFollowDepth = 5

// Worker pulls crawl task envelopes from the queue and drives them to
// completion (§4.8).
type Worker struct {
	queue    *queue.Queue
	tasks    repository.TaskRepository
	fetcher  *fetcher.Fetcher
	pipeline *pipeline.Pipeline
	checker  fetcher.ContentChecker

	batchSize int
	wait      time.Duration
	poolSize  int
}

// New builds a Worker from its collaborators. checker may be nil, in which
// case every fetch is accepted regardless of content.
func New(
	q *queue.Queue,
	tasks repository.TaskRepository,
	f *fetcher.Fetcher,
	p *pipeline.Pipeline,
	checker fetcher.ContentChecker,
	batchSize, poolSize int,
	wait time.Duration,
) *Worker {
	if checker == nil {
		checker = func([]byte) bool { return true }
	}
	return &Worker{
		queue:     q,
		tasks:     tasks,
		fetcher:   f,
		pipeline:  p,
		checker:   checker,
		batchSize: batchSize,
		wait:      wait,
		poolSize:  poolSize,
	}
}

// Run starts poolSize goroutines, each pulling from the shared pull consumer
// and driving tasks to completion, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := w.queue.Receive(ctx, w.batchSize, w.wait)
		if err != nil {
			slog.ErrorContext(ctx, "queue receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			w.processMessage(ctx, msg)
		}
	}
}

// processMessage implements steps 2-9 of §4.8 for one delivered envelope.
func (w *Worker) processMessage(ctx context.Context, msg *queue.Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "crawl worker panic recovered", "task_id", msg.TaskID, "panic", r)
			_ = w.tasks.CASStatus(ctx, msg.TaskID, domain.TaskRunning, domain.TaskFailed,
				repository.TaskTouch{CompletedAt: true, LastError: fmt.Sprintf("worker panic: %v", r)})
			_ = msg.Ack()
		}
	}()

	task, err := w.tasks.GetByID(ctx, msg.TaskID)
	if err != nil {
		_ = msg.Ack()
		return
	}
	if task.UserID != msg.UserID {
		_ = msg.Ack()
		return
	}

	// A redelivered message for a task already RUNNING means the worker that
	// picked it up last crashed before acking: there is no persisted crawl
	// frontier to resume from, and blindly re-running the crawl risks
	// double-downloading documents, so the safe move is to fail the task.
	if task.Status == domain.TaskRunning {
		w.recoverCrashedTask(ctx, task, msg.DeliveryCount())
		_ = msg.Ack()
		return
	}
	if task.Status != domain.TaskPending {
		_ = msg.Ack()
		return
	}

	if err := w.tasks.CASStatus(ctx, task.TaskID, domain.TaskPending, domain.TaskRunning,
		repository.TaskTouch{StartedAt: true}); err != nil {
		_ = msg.Ack()
		return
	}
	task.Status = domain.TaskRunning

	taskCtx := ctx
	var cancel context.CancelFunc
	if task.TotalTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, task.TotalTimeout)
		defer cancel()
	}

	w.runTask(taskCtx, task)
	_ = msg.Ack()
}

type frontierEntry struct {
	url   string
	depth int
}

// crawlState accumulates everything the loop needs to thread through
// processPage without a growing parameter list.
type crawlState struct {
	pagesCrawled        int
	documentsDownloaded int
	errs                []string
	downloadedKeys      []string
	documentsSeen       map[string]bool
	visited             map[string]bool
	frontier            []frontierEntry
}

// runTask drives one RUNNING task through fetch, link extraction, document
// download, and page-follow until exhaustion, a limit, deadline, or
// cancellation (§4.8 steps 4-9, §5 cancellation semantics).
func (w *Worker) runTask(ctx context.Context, task *domain.CrawlTask) {
	root, err := w.fetchWithTimeout(ctx, task.URL, task.Policy, task.RequestTimeout)
	if err != nil {
		w.fail(ctx, task, fmt.Sprintf("initial fetch failed: %v", err))
		return
	}

	rootURL := root.FinalURL
	if rootURL == "" {
		rootURL = task.URL
	}

	state := &crawlState{
		documentsSeen: map[string]bool{},
		visited:       map[string]bool{task.URL: true, rootURL: true},
	}

	// The initial URL may itself be a document (e.g. a direct link to a PDF)
	// rather than an HTML listing page; in that case there are no links to
	// extract and the root fetch itself is the one document to ingest.
	if isDocumentResponse(rootURL, root.ContentType) {
		if task.MaxDocs > 0 {
			key, err := w.ingestFetchedDocument(ctx, task, rootURL, root.ContentBytes)
			if err != nil {
				state.errs = append(state.errs, fmt.Sprintf("document %s: %v", rootURL, err))
			} else {
				state.downloadedKeys = append(state.downloadedKeys, key)
				state.documentsDownloaded++
				_ = w.tasks.UpdateProgress(ctx, task.TaskID, 0, 1, nil, []string{key})
			}
		}
	} else {
		w.processPage(ctx, task, state, rootURL, 0, root.ContentBytes)
	}

	for len(state.frontier) > 0 {
		if w.isCancelled(ctx, task) {
			return
		}
		if state.pagesCrawled >= task.MaxPages {
			break
		}
		cur := state.frontier[0]
		state.frontier = state.frontier[1:]

		res, err := w.fetchWithTimeout(ctx, cur.url, task.Policy, task.PageTimeout)
		if err != nil {
			state.errs = append(state.errs, fmt.Sprintf("fetch %s: %v", cur.url, err))
			continue
		}
		state.pagesCrawled++
		_ = w.tasks.UpdateProgress(ctx, task.TaskID, 1, 0, nil, nil)

		w.processPage(ctx, task, state, cur.url, cur.depth, res.ContentBytes)

		if state.documentsDownloaded >= task.MaxDocs && state.pagesCrawled >= task.MaxPages {
			break
		}
	}

	if w.isCancelled(ctx, task) {
		return
	}
	if ctx.Err() != nil {
		w.fail(ctx, task, "task deadline exceeded")
		return
	}

	if err := w.tasks.CASStatus(ctx, task.TaskID, domain.TaskRunning, domain.TaskCompleted,
		repository.TaskTouch{CompletedAt: true}); err != nil {
		slog.ErrorContext(ctx, "failed to mark task completed", "task_id", task.TaskID, "error", err)
	}
}

// processPage extracts links from one already-fetched page, downloads any
// new document links (bounded by max_documents), and enqueues any new
// same-host follow links (bounded by depth) onto the frontier.
func (w *Worker) processPage(ctx context.Context, task *domain.CrawlTask, state *crawlState, pageURL string, depth int, body []byte) {
	links, err := extractLinks(pageURL, body)
	if err != nil {
		state.errs = append(state.errs, fmt.Sprintf("extract links from %s: %v", pageURL, err))
		return
	}

	var toDownload []string
	for _, d := range links.Documents {
		if state.documentsDownloaded+len(toDownload) >= task.MaxDocs {
			break
		}
		if state.documentsSeen[d] {
			continue
		}
		state.documentsSeen[d] = true
		toDownload = append(toDownload, d)
	}

	if len(toDownload) > 0 {
		if w.isCancelled(ctx, task) {
			return
		}
		keys, downloaded, derrs := w.downloadDocuments(ctx, task, toDownload)
		state.downloadedKeys = append(state.downloadedKeys, keys...)
		state.documentsDownloaded += downloaded
		state.errs = append(state.errs, derrs...)
		_ = w.tasks.UpdateProgress(ctx, task.TaskID, 0, downloaded, derrs, keys)
	}

	if depth+1 > maxFollowDepth {
		return
	}
	for _, f := range links.Follow {
		if state.visited[f] {
			continue
		}
		state.visited[f] = true
		state.frontier = append(state.frontier, frontierEntry{url: f, depth: depth + 1})
	}
}

// downloadDocuments fetches and pipelines each document link, bounded by
// task.MaxWorkers concurrent in-flight downloads, mirroring the embedder's
// bounded-semaphore batch idiom.
func (w *Worker) downloadDocuments(ctx context.Context, task *domain.CrawlTask, links []string) ([]string, int, []string) {
	type outcome struct {
		key string
		err error
	}

	results := make([]outcome, len(links))
	sem := make(chan struct{}, maxInt(task.MaxWorkers, 1))
	var wg sync.WaitGroup

	for i, link := range links {
		wg.Add(1)
		go func(idx int, target string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = outcome{err: ctx.Err()}
				return
			}
			key, err := w.downloadOne(ctx, task, target)
			results[idx] = outcome{key: key, err: err}
		}(i, link)
	}
	wg.Wait()

	var keys []string
	var errs []string
	downloaded := 0
	for i, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Sprintf("document %s: %v", links[i], r.err))
			continue
		}
		keys = append(keys, r.key)
		downloaded++
	}
	return keys, downloaded, errs
}

func (w *Worker) downloadOne(ctx context.Context, task *domain.CrawlTask, target string) (string, error) {
	res, err := w.fetchWithTimeout(ctx, target, task.Policy, task.RequestTimeout)
	if err != nil {
		return "", err
	}
	return w.ingestFetchedDocument(ctx, task, target, res.ContentBytes)
}

func (w *Worker) ingestFetchedDocument(ctx context.Context, task *domain.CrawlTask, target string, content []byte) (string, error) {
	doc, err := w.pipeline.Run(ctx, pipeline.Input{
		UserID:   task.UserID,
		TaskID:   &task.TaskID,
		Filename: filenameFromURL(target),
		Content:  content,
	})
	if err != nil {
		return "", err
	}
	return doc.ObjectKey, nil
}

// isDocumentResponse reports whether a fetched page is itself a downloadable
// document rather than an HTML listing page, by URL extension or declared
// content type (§8 boundary: "the initial URL if it is itself a document").
func isDocumentResponse(target, contentType string) bool {
	if isDocumentLink(target) {
		return true
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/html"):
		return false
	case strings.Contains(ct, "application/pdf"),
		strings.Contains(ct, "application/msword"),
		strings.Contains(ct, "application/vnd.openxmlformats-officedocument"),
		strings.Contains(ct, "image/"):
		return true
	default:
		return false
	}
}

func (w *Worker) fetchWithTimeout(ctx context.Context, target string, policy domain.FetchPolicy, timeout time.Duration) (*fetcher.Result, error) {
	fetchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return w.fetcher.Fetch(fetchCtx, target, policy, w.checker)
}

// isCancelled polls the metadata store for an externally requested
// cancellation (§5 cancellation semantics: checkpoints after each page
// fetch and before each document-download batch).
func (w *Worker) isCancelled(ctx context.Context, task *domain.CrawlTask) bool {
	current, err := w.tasks.GetByID(ctx, task.TaskID)
	if err != nil {
		return false
	}
	return current.Status == domain.TaskCancelled
}

// recoverCrashedTask handles a task found RUNNING on message pickup: a crash
// mid-crawl leaves no checkpoint to resume from, so this forces the task to
// FAILED rather than stranding it in RUNNING with no queue entry left to
// drive it to a terminal state.
func (w *Worker) recoverCrashedTask(ctx context.Context, task *domain.CrawlTask, deliveryCount int) {
	slog.WarnContext(ctx, "redelivered task found RUNNING, treating as crash recovery",
		"task_id", task.TaskID, "delivery_count", deliveryCount)
	if err := w.tasks.CASStatus(ctx, task.TaskID, domain.TaskRunning, domain.TaskFailed,
		repository.TaskTouch{CompletedAt: true, LastError: "worker crashed mid-task; redelivered message forced a fail"}); err != nil {
		slog.ErrorContext(ctx, "failed to fail crash-recovered task", "task_id", task.TaskID, "error", err)
	}
}

func (w *Worker) fail(ctx context.Context, task *domain.CrawlTask, reason string) {
	if err := w.tasks.CASStatus(ctx, task.TaskID, domain.TaskRunning, domain.TaskFailed,
		repository.TaskTouch{CompletedAt: true, LastError: reason}); err != nil {
		slog.ErrorContext(ctx, "failed to mark task failed", "task_id", task.TaskID, "error", err)
	}
}

func filenameFromURL(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "document"
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "document"
	}
	return strings.TrimPrefix(name, "/")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
