package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/billscan/billscan/internal/bill"
	"github.com/billscan/billscan/internal/config"
	"github.com/billscan/billscan/internal/llm"
)

// fakeProvider scripts responses keyed by the first absolute page number
// of the request.
type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	invoke func(req llm.Request) (llm.Response, error)
}

func (f *fakeProvider) Invoke(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.invoke(req)
}

func (f *fakeProvider) Name() string { return "fake" }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PagesPerChunk = 2
	cfg.MaxConcurrentChunks = 2
	cfg.MaxAttempts = 2
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

// chunkJSON builds a well-formed response covering an absolute page range
// with one item per page.
func chunkJSON(firstPage, lastPage int) string {
	var pages []string
	for n := firstPage; n <= lastPage; n++ {
		pages = append(pages, fmt.Sprintf(
			`{"page_no":"%d","page_type":"Bill Detail","bill_items":[{"item_name":"Item P%d","item_quantity":1,"item_rate":100,"item_amount":100}]}`,
			n, n))
	}
	return fmt.Sprintf(`{"pagewise_line_items":[%s]}`, strings.Join(pages, ","))
}

func firstPageOf(req llm.Request) int {
	if len(req.Pages) == 0 {
		return 0
	}
	return req.Pages[0].Number
}

func makePages(n int) []llm.Page {
	pages := make([]llm.Page, n)
	for i := range pages {
		pages[i] = llm.Page{Number: i + 1, Text: fmt.Sprintf("page %d text", i+1)}
	}
	return pages
}

func TestProcessDocument_MergesChunks(t *testing.T) {
	provider := &fakeProvider{invoke: func(req llm.Request) (llm.Response, error) {
		first := firstPageOf(req)
		return llm.Response{
			Content: "```json\n" + chunkJSON(first, first+len(req.Pages)-1) + "\n```",
			Usage:   llm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		}, nil
	}}

	orch := NewOrchestrator(testConfig(), provider)
	result, err := orch.ProcessDocument(context.Background(), makePages(4))
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if !result.Success {
		t.Error("expected success")
	}
	if result.Partial {
		t.Error("unexpected partial flag")
	}
	if len(result.Pages) != 4 {
		t.Fatalf("expected 4 pages, got %d", len(result.Pages))
	}
	for i, page := range result.Pages {
		if int(page.PageNo) != i+1 {
			t.Errorf("pages out of order: index %d has page_no %d", i, page.PageNo)
		}
		if len(page.Items) != 1 {
			t.Errorf("page %d: expected 1 item, got %d", page.PageNo, len(page.Items))
		}
	}
	if result.TotalItemCount != 4 {
		t.Errorf("expected 4 items total, got %d", result.TotalItemCount)
	}
	if result.Usage.TotalTokens != 30 {
		t.Errorf("expected 30 total tokens across 2 chunks, got %d", result.Usage.TotalTokens)
	}
	if len(result.Diagnostics) != 2 {
		t.Errorf("expected 2 chunk diagnostics, got %d", len(result.Diagnostics))
	}
}

func TestProcessDocument_PartialFailure(t *testing.T) {
	provider := &fakeProvider{invoke: func(req llm.Request) (llm.Response, error) {
		first := firstPageOf(req)
		if first == 3 {
			return llm.Response{}, &llm.TransportError{Provider: "fake", Status: 503, Message: "overloaded"}
		}
		return llm.Response{
			Content: chunkJSON(first, first+len(req.Pages)-1),
			Usage:   llm.Usage{TotalTokens: 15},
		}, nil
	}}

	orch := NewOrchestrator(testConfig(), provider)
	result, err := orch.ProcessDocument(context.Background(), makePages(6))
	if err != nil {
		t.Fatalf("partial failure must not return an error, got: %v", err)
	}

	if result.Success {
		t.Error("success must be false when any chunk failed")
	}
	if !result.Partial {
		t.Error("partial must be true when some chunks succeeded")
	}
	if len(result.Pages) != 6 {
		t.Fatalf("expected 6 pages (failed range as placeholders), got %d", len(result.Pages))
	}
	for _, page := range result.Pages {
		failed := page.PageNo == 3 || page.PageNo == 4
		if page.Failed != failed {
			t.Errorf("page %d: failed = %v, want %v", page.PageNo, page.Failed, failed)
		}
		if failed && len(page.Items) != 0 {
			t.Errorf("failed page %d should carry no items", page.PageNo)
		}
	}
	if result.TotalItemCount != 4 {
		t.Errorf("expected 4 items from surviving chunks, got %d", result.TotalItemCount)
	}

	var failedDiag *bill.ChunkDiagnostic
	for i := range result.Diagnostics {
		if result.Diagnostics[i].Error != "" {
			failedDiag = &result.Diagnostics[i]
		}
	}
	if failedDiag == nil {
		t.Fatal("expected a diagnostic naming the failed chunk")
	}
	if failedDiag.FirstPage != 3 || failedDiag.LastPage != 4 {
		t.Errorf("failed diagnostic covers pages %d-%d, want 3-4",
			failedDiag.FirstPage, failedDiag.LastPage)
	}
	if failedDiag.Attempts != 2 {
		t.Errorf("expected 2 attempts on failed chunk, got %d", failedDiag.Attempts)
	}
}

func TestProcessDocument_AllChunksFail(t *testing.T) {
	provider := &fakeProvider{invoke: func(req llm.Request) (llm.Response, error) {
		return llm.Response{}, &llm.TransportError{Provider: "fake", Message: "down"}
	}}

	orch := NewOrchestrator(testConfig(), provider)
	result, err := orch.ProcessDocument(context.Background(), makePages(4))
	if err == nil {
		t.Fatal("expected an error when every chunk failed")
	}
	if result.Success {
		t.Error("success must be false")
	}
	if len(result.Pages) != 4 {
		t.Errorf("expected failed placeholders for all pages, got %d", len(result.Pages))
	}
	if len(result.Diagnostics) != 2 {
		t.Errorf("expected 2 diagnostics, got %d", len(result.Diagnostics))
	}
}

func TestProcessDocument_EmptyDocument(t *testing.T) {
	orch := NewOrchestrator(testConfig(), &fakeProvider{})
	if _, err := orch.ProcessDocument(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestProcessDocument_NormalizesRelativePageNumbers(t *testing.T) {
	// Both chunks mislabel their pages as 1..k.
	provider := &fakeProvider{invoke: func(req llm.Request) (llm.Response, error) {
		return llm.Response{Content: chunkJSON(1, len(req.Pages))}, nil
	}}

	orch := NewOrchestrator(testConfig(), provider)
	result, err := orch.ProcessDocument(context.Background(), makePages(4))
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	if len(result.Pages) != 4 {
		t.Fatalf("expected 4 distinct pages after renumbering, got %d", len(result.Pages))
	}
	for i, page := range result.Pages {
		if int(page.PageNo) != i+1 {
			t.Errorf("expected page %d at index %d, got %d", i+1, i, page.PageNo)
		}
	}
}

func TestProcessDocument_ConflictKeepsRicherPage(t *testing.T) {
	provider := &fakeProvider{invoke: func(req llm.Request) (llm.Response, error) {
		if firstPageOf(req) == 1 {
			return llm.Response{Content: chunkJSON(1, 2)}, nil
		}
		// Second chunk mislabels page 3 as page 2, with more items than the
		// first chunk found there.
		content := `{"pagewise_line_items":[
			{"page_no":"2","page_type":"Bill Detail","bill_items":[
				{"item_name":"Dup A","item_quantity":1,"item_rate":10,"item_amount":10},
				{"item_name":"Dup B","item_quantity":1,"item_rate":20,"item_amount":20}]},
			{"page_no":"4","page_type":"Bill Detail","bill_items":[
				{"item_name":"Item P4","item_quantity":1,"item_rate":100,"item_amount":100}]}]}`
		return llm.Response{Content: content}, nil
	}}

	orch := NewOrchestrator(testConfig(), provider)
	result, err := orch.ProcessDocument(context.Background(), makePages(4))
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}

	byNo := map[int]bill.PageResult{}
	for _, page := range result.Pages {
		byNo[int(page.PageNo)] = page
	}
	if len(byNo[2].Items) != 2 {
		t.Errorf("conflict should keep the richer page 2, got %d items", len(byNo[2].Items))
	}
	if _, ok := byNo[3]; ok {
		t.Error("no chunk produced page 3, it should be absent")
	}
	if len(byNo[4].Items) != 1 {
		t.Errorf("page 4 lost in merge: %v", byNo[4])
	}
}

func TestProcessDocument_RetriesBeforeSucceeding(t *testing.T) {
	var mu sync.Mutex
	failedOnce := map[int]bool{}
	provider := &fakeProvider{invoke: func(req llm.Request) (llm.Response, error) {
		first := firstPageOf(req)
		mu.Lock()
		first503 := !failedOnce[first]
		failedOnce[first] = true
		mu.Unlock()
		if first503 {
			return llm.Response{}, &llm.TransportError{Provider: "fake", Status: 503}
		}
		return llm.Response{Content: chunkJSON(first, first+len(req.Pages)-1)}, nil
	}}

	orch := NewOrchestrator(testConfig(), provider)
	result, err := orch.ProcessDocument(context.Background(), makePages(2))
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}
	if !result.Success {
		t.Error("expected success after retry")
	}
	if result.Diagnostics[0].Attempts != 2 {
		t.Errorf("expected 2 attempts recorded, got %d", result.Diagnostics[0].Attempts)
	}
}

func TestProcessDocument_SalvagedChunkMarksPartial(t *testing.T) {
	provider := &fakeProvider{invoke: func(req llm.Request) (llm.Response, error) {
		content := `totally broken { not json "page_no": "1",
{"item_name": "Salvaged Item", "item_quantity": 1, "item_rate": 50, "item_amount": 50}`
		return llm.Response{Content: content}, nil
	}}

	orch := NewOrchestrator(testConfig(), provider)
	result, err := orch.ProcessDocument(context.Background(), makePages(2))
	if err != nil {
		t.Fatalf("ProcessDocument failed: %v", err)
	}
	if !result.Partial {
		t.Error("salvaged output must mark the document partial")
	}
	if !result.Success {
		t.Error("salvage still counts as chunk success")
	}
	if result.TotalItemCount != 1 {
		t.Errorf("expected 1 salvaged item, got %d", result.TotalItemCount)
	}
}

func TestProcessDocument_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &fakeProvider{invoke: func(req llm.Request) (llm.Response, error) {
		return llm.Response{Content: chunkJSON(firstPageOf(req), firstPageOf(req))}, nil
	}}

	orch := NewOrchestrator(testConfig(), provider)
	result, err := orch.ProcessDocument(ctx, makePages(4))
	if err == nil {
		t.Fatal("expected error when cancelled before any chunk completed")
	}
	if result.Success {
		t.Error("cancelled run must not be marked successful")
	}
	for _, diag := range result.Diagnostics {
		if diag.Error == "" {
			t.Errorf("chunk %d should carry a cancellation error", diag.Chunk)
		}
	}
}
