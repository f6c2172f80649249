package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseOffsetParams(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		wantPage     int
		wantPageSize int
		wantOffset   int
		wantErr      bool
	}{
		{
			name:         "defaults",
			query:        "",
			wantPage:     1,
			wantPageSize: DefaultPageSize,
			wantOffset:   0,
		},
		{
			name:         "custom page and size",
			query:        "page=3&page_size=10",
			wantPage:     3,
			wantPageSize: 10,
			wantOffset:   20,
		},
		{
			name:         "page_size capped",
			query:        "page_size=500",
			wantPageSize: MaxPageSize,
			wantPage:     1,
			wantOffset:   0,
		},
		{
			name:    "negative page",
			query:   "page=-1",
			wantErr: true,
		},
		{
			name:    "zero page",
			query:   "page=0",
			wantErr: true,
		},
		{
			name:    "non-numeric page_size",
			query:   "page_size=abc",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			p, err := ParseOffsetParams(r)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseOffsetParams() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if p.Page != tt.wantPage {
				t.Errorf("Page = %d, want %d", p.Page, tt.wantPage)
			}
			if p.PageSize != tt.wantPageSize {
				t.Errorf("PageSize = %d, want %d", p.PageSize, tt.wantPageSize)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("Offset = %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

func TestNewOffsetPage(t *testing.T) {
	tests := []struct {
		name           string
		itemCount      int
		params         OffsetParams
		wantPageLen    int
		wantTotalPages int
	}{
		{
			name:           "first of multiple pages",
			itemCount:      25,
			params:         OffsetParams{Page: 1, PageSize: 10, Offset: 0},
			wantPageLen:    10,
			wantTotalPages: 3,
		},
		{
			name:           "last partial page",
			itemCount:      25,
			params:         OffsetParams{Page: 3, PageSize: 10, Offset: 20},
			wantPageLen:    5,
			wantTotalPages: 3,
		},
		{
			name:           "single page",
			itemCount:      3,
			params:         OffsetParams{Page: 1, PageSize: 10, Offset: 0},
			wantPageLen:    3,
			wantTotalPages: 1,
		},
		{
			name:           "page past the end",
			itemCount:      3,
			params:         OffsetParams{Page: 5, PageSize: 10, Offset: 40},
			wantPageLen:    0,
			wantTotalPages: 1,
		},
		{
			name:           "empty",
			itemCount:      0,
			params:         OffsetParams{Page: 1, PageSize: 10, Offset: 0},
			wantPageLen:    0,
			wantTotalPages: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]string, tt.itemCount)
			page := NewOffsetPage(items, tt.params)

			if len(page.Items) != tt.wantPageLen {
				t.Errorf("Items length = %d, want %d", len(page.Items), tt.wantPageLen)
			}
			if page.TotalPages != tt.wantTotalPages {
				t.Errorf("TotalPages = %d, want %d", page.TotalPages, tt.wantTotalPages)
			}
			if page.TotalItems != tt.itemCount {
				t.Errorf("TotalItems = %d, want %d", page.TotalItems, tt.itemCount)
			}
		})
	}
}
