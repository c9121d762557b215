package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/ragindex/ai"
	"github.com/poiesic/ragindex/chunking"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/fetch"
	"github.com/poiesic/ragindex/quota"
	"github.com/poiesic/ragindex/retry"
	"github.com/poiesic/ragindex/storage"
	"github.com/poiesic/ragindex/vector"
)

// Pipeline runs the processing and deletion sequences for claimed sources.
type Pipeline struct {
	sources    storage.SourceRepository
	documents  storage.DocumentRepository
	vectors    vector.Store
	fetcher    fetch.Fetcher
	splitter   chunking.Splitter
	embedder   ai.Embedder
	gate       quota.Gate
	fetchRetry retry.Policy
	pool       *ants.Pool // nil runs documents sequentially
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithQuotaGate sets the billing gate consulted once per document.
// Default is quota.Disabled().
func WithQuotaGate(gate quota.Gate) Option {
	return func(p *Pipeline) error {
		if gate == nil {
			gate = quota.Disabled()
		}
		p.gate = gate
		return nil
	}
}

// WithDocumentConcurrency sets how many documents of one source are
// processed at the same time. Default is 1.
func WithDocumentConcurrency(n int) Option {
	return func(p *Pipeline) error {
		if p.pool != nil {
			p.pool.Release()
			p.pool = nil
		}
		if n <= 1 {
			return nil
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithFetchRetry sets the retry policy for scraping a page.
// Default is retry.DefaultPolicy().
func WithFetchRetry(policy retry.Policy) Option {
	return func(p *Pipeline) error {
		if policy.Attempts <= 0 {
			return retry.ErrInvalidAttempts
		}
		p.fetchRetry = policy
		return nil
	}
}

// WithClock sets the time source. Default is time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) error {
		if now != nil {
			p.now = now
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a pipeline over the given collaborators.
func NewPipeline(
	sources storage.SourceRepository,
	documents storage.DocumentRepository,
	vectors vector.Store,
	fetcher fetch.Fetcher,
	splitter chunking.Splitter,
	embedder ai.Embedder,
	opts ...Option,
) (*Pipeline, error) {
	switch {
	case sources == nil:
		return nil, ErrSourceRepositoryRequired
	case documents == nil:
		return nil, ErrDocumentRepositoryRequired
	case vectors == nil:
		return nil, ErrVectorStoreRequired
	case fetcher == nil:
		return nil, ErrFetcherRequired
	case splitter == nil:
		return nil, ErrSplitterRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	}

	p := &Pipeline{
		sources:    sources,
		documents:  documents,
		vectors:    vectors,
		fetcher:    fetcher,
		splitter:   splitter,
		embedder:   embedder,
		gate:       quota.Disabled(),
		fetchRetry: retry.DefaultPolicy(),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "pipeline")
	return p, nil
}

// Release releases the document worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// ProcessSource runs the processing sequence for a claimed source and
// writes its final status, guarded by src.Version. src is updated to the
// stored record when the final write applies.
//
// Failures of individual documents, billing and the store's listing calls
// are recorded in the result and on the source, not returned. The returned
// error is reserved for a canceled context and for a failed final write.
func (p *Pipeline) ProcessSource(ctx context.Context, src *core.Source) (*RunResult, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: source is nil", core.ErrInvalidSource)
	}
	log := p.logger.With("source", src.ID, "project", src.ProjectID)
	started := p.now()
	result := &RunResult{SourceID: src.ID}

	customer, berr := p.resolveCustomer(ctx, src)
	if berr != nil {
		result.BillingErr = berr
		log.Warn("cannot resolve billing customer", "err", berr)
		return result, p.finalize(ctx, log, src, result)
	}

	docs, err := p.documents.ListDocuments(ctx, src.ID, core.StatusPending, core.StatusError)
	if err != nil {
		result.SourceErr = fmt.Errorf("listing documents: %w", err)
		return result, p.finalize(ctx, log, src, result)
	}

	result.Outcomes, result.BillingErr = p.processDocuments(ctx, log, src, customer, docs)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	// A billing stop ends the claim before deleted documents are swept.
	if result.BillingErr == nil {
		deleted, err := p.documents.ListDocuments(ctx, src.ID, core.StatusDeleted)
		if err != nil {
			result.SourceErr = fmt.Errorf("listing deleted documents: %w", err)
		}
		for _, doc := range deleted {
			if ctx.Err() != nil {
				break
			}
			result.Outcomes = append(result.Outcomes, p.removeDocument(ctx, log, src, doc))
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}

	if err := p.finalize(ctx, log, src, result); err != nil {
		return result, err
	}
	log.Info("source processed",
		"status", result.FinalStatus(),
		"indexed", result.Count(ActionIndexed),
		"failed", result.Count(ActionFailed),
		"deleted", result.Count(ActionDeleted),
		"tokens", result.Tokens(),
		"elapsed", p.now().Sub(started))
	return result, nil
}

func (p *Pipeline) resolveCustomer(ctx context.Context, src *core.Source) (string, *BillingError) {
	if !p.gate.Enabled() {
		return "", nil
	}
	customer, err := p.gate.ResolveCustomer(ctx, src.ProjectID)
	if err != nil {
		return "", billingError("customer resolution failed", err)
	}
	return customer, nil
}

// processDocuments runs every document, in the pool when one is configured.
// Once a document reports a billing stop the remaining ones are skipped;
// documents already in flight finish.
func (p *Pipeline) processDocuments(ctx context.Context, log *slog.Logger, src *core.Source, customer string, docs []*core.Document) ([]DocumentOutcome, *BillingError) {
	outcomes := make([]DocumentOutcome, len(docs))
	var halted atomic.Pointer[BillingError]

	run := func(i int) {
		doc := docs[i]
		if halted.Load() != nil || ctx.Err() != nil {
			outcomes[i] = DocumentOutcome{DocID: doc.ID, Name: doc.Name, Action: ActionSkipped}
			return
		}
		outcome, berr := p.processDocument(ctx, log, src, customer, doc)
		if berr != nil {
			halted.CompareAndSwap(nil, berr)
		}
		outcomes[i] = outcome
	}

	if p.pool == nil {
		for i := range docs {
			run(i)
		}
		return outcomes, halted.Load()
	}

	var wg sync.WaitGroup
	for i := range docs {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			run(i)
		}
		if err := p.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()
	return outcomes, halted.Load()
}

// processDocument is one scrape, chunk, embed and upsert pass.
func (p *Pipeline) processDocument(ctx context.Context, log *slog.Logger, src *core.Source, customer string, doc *core.Document) (DocumentOutcome, *BillingError) {
	log = log.With("doc", doc.ID, "url", doc.Name)
	outcome := DocumentOutcome{DocID: doc.ID, Name: doc.Name}

	if p.gate.Enabled() {
		if err := p.gate.Authorize(ctx, customer, quota.Request{Type: quota.RequestProcessRAG}); err != nil {
			reason := "authorization failed"
			if errors.Is(err, quota.ErrDenied) {
				reason = "authorization denied"
			}
			log.Warn("billing stopped source", "err", err)
			outcome.Action = ActionSkipped
			return outcome, billingError(reason, err)
		}
	}

	page, err := p.scrape(ctx, doc.Name)
	if err != nil {
		return p.failDocument(ctx, log, src, doc, fmt.Errorf("scraping %s: %w", doc.Name, err)), nil
	}

	chunks, err := p.splitter.Split(page.Markdown)
	if err != nil {
		return p.failDocument(ctx, log, src, doc, fmt.Errorf("chunking: %w", err)), nil
	}
	outcome.Chunks = len(chunks)

	points, tokens, err := p.embed(ctx, src, doc, page, chunks)
	if err != nil {
		return p.failDocument(ctx, log, src, doc, err), nil
	}
	outcome.Tokens = tokens

	// Replace the document's points so only the current content is indexed.
	if err := p.vectors.Delete(ctx, vector.DocumentFilter(src.ProjectID, src.ID, doc.ID)); err != nil {
		return p.failDocument(ctx, log, src, doc, fmt.Errorf("removing previous points: %w", err)), nil
	}
	if len(points) > 0 {
		if err := p.vectors.Upsert(ctx, points); err != nil {
			return p.failDocument(ctx, log, src, doc, fmt.Errorf("upserting points: %w", err)), nil
		}
	}

	ready := doc.Clone()
	ready.Content = page.Markdown
	ready.Status = core.StatusReady
	ready.Error = ""
	applied, err := p.documents.UpdateDocument(ctx, ready)
	if err != nil {
		return p.failDocument(ctx, log, src, doc, fmt.Errorf("saving document: %w", err)), nil
	}
	if !applied {
		log.Debug("document changed during processing; save dropped")
		outcome.Action = ActionSuperseded
		p.purgeSuperseded(ctx, log, src, doc)
		return outcome, nil
	}
	outcome.Action = ActionIndexed

	if p.gate.Enabled() && tokens > 0 {
		usage := quota.Usage{Type: quota.UsageRAGTokens, Amount: tokens}
		if err := p.gate.LogUsage(ctx, customer, usage); err != nil {
			log.Error("failed to log usage", "tokens", tokens, "err", err)
			outcome.UsageErr = err
		}
	}

	log.Debug("document indexed", "chunks", len(chunks), "tokens", tokens)
	return outcome, nil
}

func (p *Pipeline) scrape(ctx context.Context, url string) (*fetch.Page, error) {
	var page *fetch.Page
	err := retry.Do(ctx, p.fetchRetry, func(ctx context.Context) error {
		got, err := p.fetcher.Scrape(ctx, url)
		if err != nil {
			return err
		}
		if got == nil {
			return ErrEmptyPage
		}
		page = got
		return nil
	})
	return page, err
}

// embed builds one point per chunk in a single embedding call.
func (p *Pipeline) embed(ctx context.Context, src *core.Source, doc *core.Document, page *fetch.Page, chunks []string) ([]core.EmbeddingPoint, int, error) {
	if len(chunks) == 0 {
		return nil, 0, nil
	}
	res, err := p.embedder.EmbedMany(ctx, chunks)
	if err != nil {
		return nil, 0, fmt.Errorf("embedding: %w", err)
	}
	if err := res.CheckCount(len(chunks)); err != nil {
		return nil, 0, fmt.Errorf("embedding: %w", err)
	}

	points := make([]core.EmbeddingPoint, len(chunks))
	for i, chunk := range chunks {
		points[i] = core.EmbeddingPoint{
			ID:     core.NewPointID(),
			Vector: res.Embeddings[i],
			Payload: core.Payload{
				ProjectID: src.ProjectID,
				SourceID:  src.ID,
				DocID:     doc.ID,
				Content:   chunk,
				Title:     page.Title,
				Name:      doc.Name,
			},
		}
	}
	return points, res.Tokens, nil
}

// purgeSuperseded removes the points just written for doc unless the newer
// stored state is itself ready, in which case those points belong to it.
func (p *Pipeline) purgeSuperseded(ctx context.Context, log *slog.Logger, src *core.Source, doc *core.Document) {
	current, err := p.documents.GetDocument(ctx, doc.ID)
	switch {
	case err == nil && current.Status == core.StatusReady:
		return
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		log.Warn("failed to read superseded document", "err", err)
		return
	}
	if err := p.vectors.Delete(ctx, vector.DocumentFilter(src.ProjectID, src.ID, doc.ID)); err != nil {
		log.Warn("failed to purge points of superseded document", "err", err)
	}
}

// failDocument records err on the document and purges its points.
func (p *Pipeline) failDocument(ctx context.Context, log *slog.Logger, src *core.Source, doc *core.Document, err error) DocumentOutcome {
	outcome := DocumentOutcome{DocID: doc.ID, Name: doc.Name, Action: ActionFailed, Err: err}
	if ctx.Err() != nil {
		return outcome
	}
	log.Warn("document failed", "err", err)

	if perr := p.vectors.Delete(ctx, vector.DocumentFilter(src.ProjectID, src.ID, doc.ID)); perr != nil {
		log.Warn("failed to purge points of failed document", "err", perr)
	}

	failed := doc.Clone()
	failed.Status = core.StatusError
	failed.Error = err.Error()
	if _, uerr := p.documents.UpdateDocument(ctx, failed); uerr != nil {
		log.Error("failed to record document error", "err", uerr)
		outcome.Err = errors.Join(err, uerr)
	}
	return outcome
}

// finalize writes the source's final status from the accumulated result.
func (p *Pipeline) finalize(ctx context.Context, log *slog.Logger, src *core.Source, result *RunResult) error {
	next := src.Clone()
	next.Status = result.FinalStatus()
	next.Error = result.sourceError()
	next.BillingError = result.billingReason()

	applied, err := p.sources.UpdateSource(ctx, next)
	if err != nil {
		return fmt.Errorf("finalizing source %s: %w", src.ID, err)
	}
	result.Finalized = applied
	if !applied {
		log.Info("source changed during processing; final status dropped", "status", next.Status)
		return nil
	}
	*src = *next
	return nil
}
