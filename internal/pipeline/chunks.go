// Package pipeline drives chunked document extraction: it partitions
// pages into bounded groups, runs each group through the model with
// bounded retry, repairs and cleans the output, and merges per-chunk
// results into one document result.
package pipeline

import "fmt"

// ChunkSpec is one contiguous group of pages dispatched as a single model
// call. Page numbers are 1-based and inclusive.
type ChunkSpec struct {
	Index     int
	FirstPage int
	LastPage  int
}

// PageCount returns the number of pages in the chunk.
func (c ChunkSpec) PageCount() int { return c.LastPage - c.FirstPage + 1 }

func (c ChunkSpec) String() string {
	if c.FirstPage == c.LastPage {
		return fmt.Sprintf("chunk %d (page %d)", c.Index, c.FirstPage)
	}
	return fmt.Sprintf("chunk %d (pages %d-%d)", c.Index, c.FirstPage, c.LastPage)
}

// SplitChunks partitions pageCount pages into contiguous chunks of at most
// width pages each; the last chunk may be smaller.
func SplitChunks(pageCount, width int) []ChunkSpec {
	if pageCount <= 0 {
		return nil
	}
	if width <= 0 {
		width = 1
	}
	chunks := make([]ChunkSpec, 0, (pageCount+width-1)/width)
	for first := 1; first <= pageCount; first += width {
		last := first + width - 1
		if last > pageCount {
			last = pageCount
		}
		chunks = append(chunks, ChunkSpec{
			Index:     len(chunks),
			FirstPage: first,
			LastPage:  last,
		})
	}
	return chunks
}
