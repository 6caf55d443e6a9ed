package pipeline

import (
	"reflect"
	"testing"
)

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name      string
		pageCount int
		width     int
		want      []ChunkSpec
	}{
		{
			name:      "even split",
			pageCount: 4,
			width:     2,
			want: []ChunkSpec{
				{Index: 0, FirstPage: 1, LastPage: 2},
				{Index: 1, FirstPage: 3, LastPage: 4},
			},
		},
		{
			name:      "remainder chunk",
			pageCount: 7,
			width:     3,
			want: []ChunkSpec{
				{Index: 0, FirstPage: 1, LastPage: 3},
				{Index: 1, FirstPage: 4, LastPage: 6},
				{Index: 2, FirstPage: 7, LastPage: 7},
			},
		},
		{
			name:      "single chunk",
			pageCount: 3,
			width:     5,
			want:      []ChunkSpec{{Index: 0, FirstPage: 1, LastPage: 3}},
		},
		{
			name:      "width one",
			pageCount: 2,
			width:     1,
			want: []ChunkSpec{
				{Index: 0, FirstPage: 1, LastPage: 1},
				{Index: 1, FirstPage: 2, LastPage: 2},
			},
		},
		{
			name:      "no pages",
			pageCount: 0,
			width:     2,
			want:      nil,
		},
		{
			name:      "invalid width falls back to one",
			pageCount: 2,
			width:     0,
			want: []ChunkSpec{
				{Index: 0, FirstPage: 1, LastPage: 1},
				{Index: 1, FirstPage: 2, LastPage: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitChunks(tt.pageCount, tt.width)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitChunks(%d, %d) = %v, want %v",
					tt.pageCount, tt.width, got, tt.want)
			}
		})
	}
}

func TestSplitChunks_CoversEveryPageOnce(t *testing.T) {
	for pages := 1; pages <= 20; pages++ {
		for width := 1; width <= 6; width++ {
			seen := map[int]int{}
			for _, chunk := range SplitChunks(pages, width) {
				if chunk.PageCount() > width {
					t.Fatalf("pages=%d width=%d: chunk %v exceeds width", pages, width, chunk)
				}
				for n := chunk.FirstPage; n <= chunk.LastPage; n++ {
					seen[n]++
				}
			}
			for n := 1; n <= pages; n++ {
				if seen[n] != 1 {
					t.Fatalf("pages=%d width=%d: page %d covered %d times", pages, width, n, seen[n])
				}
			}
		}
	}
}

func TestChunkSpec_String(t *testing.T) {
	single := ChunkSpec{Index: 2, FirstPage: 5, LastPage: 5}
	if single.String() != "chunk 2 (page 5)" {
		t.Errorf("got %q", single.String())
	}
	multi := ChunkSpec{Index: 0, FirstPage: 1, LastPage: 3}
	if multi.String() != "chunk 0 (pages 1-3)" {
		t.Errorf("got %q", multi.String())
	}
}
