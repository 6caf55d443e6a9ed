package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/billscan/billscan/internal/bill"
	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/llm"
	"github.com/billscan/billscan/internal/logger"
	"github.com/billscan/billscan/internal/repair"
)

// Orchestrator runs the full extraction pipeline for one document at a
// time. It holds only read-only configuration; every invocation owns its
// working data exclusively, so a single Orchestrator is safe for
// concurrent use across documents.
type Orchestrator struct {
	provider llm.Provider
	engine   *repair.Engine
	cleaner  *bill.Cleaner
	cfg      config.Config
	retrier  *retrier
}

// NewOrchestrator creates an orchestrator bound to a provider and
// configuration.
func NewOrchestrator(cfg config.Config, provider llm.Provider) *Orchestrator {
	return &Orchestrator{
		provider: provider,
		engine:   repair.NewEngine(),
		cleaner: bill.NewCleaner(bill.CleanConfig{
			AmountTolerance:    cfg.AmountTolerance,
			PageTypes:          bill.DefaultPageTypes,
			FilterNonBillable:  cfg.FilterNonBillable,
			FilterNegativeRows: cfg.FilterNegativeRows,
		}),
		cfg:     cfg,
		retrier: newRetrier(policyFromConfig(cfg)),
	}
}

// chunkResult is the outcome of one chunk's pipeline run, successful or
// not. Owned by the goroutine that produced it until the merge barrier.
type chunkResult struct {
	chunk   ChunkSpec
	pages   []bill.PageResult
	usage   bill.TokenUsage
	report  bill.Report
	diag    bill.ChunkDiagnostic
	failed  bool
	partial bool
}

// ProcessDocument partitions pages into chunks, extracts each chunk with
// bounded retry, and merges the per-chunk results. A failed chunk does
// not abort the document: its page range is recorded as failed and the
// rest proceeds. The returned error is non-nil only when every chunk
// failed or the input was empty.
func (o *Orchestrator) ProcessDocument(ctx context.Context, pages []llm.Page) (bill.DocumentResult, error) {
	if len(pages) == 0 {
		return bill.DocumentResult{}, fmt.Errorf("document has no pages")
	}

	chunks := SplitChunks(len(pages), o.cfg.PagesPerChunk)
	logger.Info("processing document",
		"pages", len(pages),
		"chunks", len(chunks),
		"chunk_width", o.cfg.PagesPerChunk,
		"provider", o.provider.Name())

	results := make([]chunkResult, len(chunks))
	sem := make(chan struct{}, o.cfg.MaxConcurrentChunks)
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk ChunkSpec) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = o.cancelledResult(chunk)
				return
			}
			results[i] = o.processChunk(ctx, chunk, pages[chunk.FirstPage-1:chunk.LastPage])
		}(i, chunk)
	}

	// Merge barrier: every dispatched chunk reports before assembly.
	wg.Wait()

	return o.merge(results)
}

func (o *Orchestrator) processChunk(ctx context.Context, chunk ChunkSpec, chunkPages []llm.Page) chunkResult {
	var usage bill.TokenUsage

	call := func(attemptCtx context.Context, attempt int) (chunkOutcome, error) {
		resp, err := o.provider.Invoke(attemptCtx, llm.Request{
			System:      systemPrompt,
			Prompt:      BuildExtractionPrompt(chunk),
			Pages:       chunkPages,
			MaxTokens:   o.cfg.MaxTokens,
			Temperature: o.cfg.Temperature,
		})
		if err != nil {
			return chunkOutcome{}, err
		}
		usage.Add(tokenUsage(resp.Usage))

		result, err := o.engine.Repair(resp.Content, ExpectedShape())
		if err != nil {
			return chunkOutcome{}, &repairFailedError{err: err, raw: resp.Content}
		}
		return chunkOutcome{result: result, raw: resp.Content}, nil
	}

	outcome, failure := o.retrier.run(ctx, chunk, call)
	if failure != nil {
		return o.failedResult(chunk, usage, failure)
	}

	cleaned, report := o.cleaner.Clean(outcome.result.Data)
	normalizePageNumbers(cleaned, chunk)

	logger.Info("chunk extracted",
		"chunk", chunk.Index,
		"pages", len(cleaned),
		"items", bill.CountItems(cleaned),
		"attempts", outcome.attempts,
		"strategy", outcome.result.Strategy,
		"partial", outcome.result.Partial)

	return chunkResult{
		chunk:   chunk,
		pages:   cleaned,
		usage:   usage,
		report:  report,
		partial: outcome.result.Partial,
		diag: bill.ChunkDiagnostic{
			Chunk:     chunk.Index,
			FirstPage: chunk.FirstPage,
			LastPage:  chunk.LastPage,
			Attempts:  outcome.attempts,
			Partial:   outcome.result.Partial,
		},
	}
}

func (o *Orchestrator) failedResult(chunk ChunkSpec, usage bill.TokenUsage, failure *chunkFailure) chunkResult {
	reason := "exhausted retry budget"
	if failure.cancelled {
		reason = "cancelled before completion"
	}
	if failure.lastErr != nil {
		reason = reason + ": " + failure.lastErr.Error()
	}

	return chunkResult{
		chunk:  chunk,
		pages:  failedPages(chunk),
		usage:  usage,
		failed: true,
		diag: bill.ChunkDiagnostic{
			Chunk:       chunk.Index,
			FirstPage:   chunk.FirstPage,
			LastPage:    chunk.LastPage,
			Attempts:    failure.attempts,
			Error:       reason,
			RepairTrail: failure.trail,
		},
	}
}

func (o *Orchestrator) cancelledResult(chunk ChunkSpec) chunkResult {
	return chunkResult{
		chunk:  chunk,
		pages:  failedPages(chunk),
		failed: true,
		diag: bill.ChunkDiagnostic{
			Chunk:     chunk.Index,
			FirstPage: chunk.FirstPage,
			LastPage:  chunk.LastPage,
			Error:     "cancelled before dispatch",
		},
	}
}

// failedPages produces empty placeholder pages for a chunk's range.
func failedPages(chunk ChunkSpec) []bill.PageResult {
	pages := make([]bill.PageResult, 0, chunk.PageCount())
	for n := chunk.FirstPage; n <= chunk.LastPage; n++ {
		pages = append(pages, bill.PageResult{
			PageNo: bill.PageNumber(n),
			Failed: true,
		})
	}
	return pages
}

// merge assembles chunk results into one document result. The final page
// sequence is sorted by page number regardless of completion order.
func (o *Orchestrator) merge(results []chunkResult) (bill.DocumentResult, error) {
	var doc bill.DocumentResult
	byPage := map[int]bill.PageResult{}
	failedChunks := 0

	for _, res := range results {
		doc.Usage.Add(res.usage)
		doc.Report.Merge(res.report)
		doc.Diagnostics = append(doc.Diagnostics, res.diag)
		if res.failed {
			failedChunks++
		}
		if res.partial {
			doc.Partial = true
		}

		for _, page := range res.pages {
			no := int(page.PageNo)
			existing, ok := byPage[no]
			if !ok {
				byPage[no] = page
				continue
			}
			byPage[no] = resolveConflict(no, existing, page)
		}
	}

	pageNos := make([]int, 0, len(byPage))
	for no := range byPage {
		pageNos = append(pageNos, no)
	}
	sort.Ints(pageNos)
	for _, no := range pageNos {
		doc.Pages = append(doc.Pages, byPage[no])
	}

	doc.TotalItemCount = bill.CountItems(doc.Pages)
	doc.Success = failedChunks == 0
	if failedChunks > 0 && failedChunks < len(results) {
		doc.Partial = true
	}

	logger.Info("document merged",
		"pages", len(doc.Pages),
		"items", doc.TotalItemCount,
		"failed_chunks", failedChunks,
		"total_tokens", doc.Usage.TotalTokens,
		"success", doc.Success)

	if failedChunks == len(results) {
		return doc, fmt.Errorf("document processing failed: all %d chunks failed", len(results))
	}
	return doc, nil
}

// resolveConflict picks between two results claiming the same page
// number. Chunks are disjoint so this only happens when a call mislabels
// a page; the richer result wins.
func resolveConflict(pageNo int, existing, candidate bill.PageResult) bill.PageResult {
	switch {
	case existing.Failed && !candidate.Failed:
		return candidate
	case !existing.Failed && candidate.Failed:
		return existing
	}
	if !existing.Failed {
		logger.Warn("page conflict between chunks",
			"page", pageNo,
			"kept_items", max(len(existing.Items), len(candidate.Items)),
			"dropped_items", min(len(existing.Items), len(candidate.Items)))
	}
	if len(candidate.Items) > len(existing.Items) {
		return candidate
	}
	return existing
}

// normalizePageNumbers fixes chunk-relative numbering: when a call labels
// pages 1..k despite the chunk starting later in the document, shift them
// back to absolute positions.
func normalizePageNumbers(pages []bill.PageResult, chunk ChunkSpec) {
	if chunk.FirstPage <= 1 || len(pages) == 0 {
		return
	}
	for _, page := range pages {
		if int(page.PageNo) < 1 || int(page.PageNo) > chunk.PageCount() {
			return
		}
	}
	offset := chunk.FirstPage - 1
	for i := range pages {
		pages[i].PageNo += bill.PageNumber(offset)
	}
	logger.Debug("normalized chunk-relative page numbers",
		"chunk", chunk.Index,
		"offset", offset)
}

func tokenUsage(u llm.Usage) bill.TokenUsage {
	total := u.TotalTokens
	if total == 0 {
		total = u.InputTokens + u.OutputTokens
	}
	return bill.TokenUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  total,
	}
}
