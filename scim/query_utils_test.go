package scim

import (
	"testing"
)

func TestApplyPagination(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	tests := []struct {
		name       string
		startIndex int
		count      int
		want       []int
	}{
		{"all", 0, 0, []int{1, 2, 3, 4, 5}},
		{"first page", 1, 2, []int{1, 2}},
		{"middle page", 3, 2, []int{3, 4}},
		{"last partial page", 5, 10, []int{5}},
		{"past the end", 9, 2, []int{}},
		{"count without start", 0, 3, []int{1, 2, 3}},
		{"start without count", 4, 0, []int{4, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyPagination(items, tt.startIndex, tt.count)
			if len(got) != len(tt.want) {
				t.Fatalf("ApplyPagination() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ApplyPagination() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestBuildListResponse(t *testing.T) {
	resp := BuildListResponse([]*User{{ID: "1"}, {ID: "2"}}, 10, 3)

	if resp.TotalResults != 10 {
		t.Errorf("TotalResults = %d, want 10", resp.TotalResults)
	}
	if resp.StartIndex != 3 {
		t.Errorf("StartIndex = %d, want 3", resp.StartIndex)
	}
	if resp.ItemsPerPage != 2 {
		t.Errorf("ItemsPerPage = %d, want 2", resp.ItemsPerPage)
	}
	if len(resp.Schemas) != 1 || resp.Schemas[0] != SchemaListResponse {
		t.Errorf("Schemas = %v", resp.Schemas)
	}
}

func TestBuildListResponseEmpty(t *testing.T) {
	resp := BuildListResponse[*User](nil, 0, 0)
	if resp.Resources == nil {
		t.Error("Resources must serialize as [], not null")
	}
	if resp.StartIndex != 1 {
		t.Errorf("StartIndex = %d, want 1", resp.StartIndex)
	}
}

func TestProcessListQuery(t *testing.T) {
	users := []*User{
		{ID: "3", UserName: "carol"},
		{ID: "1", UserName: "alice"},
		{ID: "2", UserName: "bob"},
	}

	page, total := ProcessListQuery(users, QueryParams{
		SortBy:     "userName",
		StartIndex: 1,
		Count:      2,
	})

	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(page) != 2 || page[0].UserName != "alice" || page[1].UserName != "bob" {
		t.Errorf("page = %v", page)
	}
}

func TestSortResourcesDescending(t *testing.T) {
	users := []*User{
		{UserName: "alice"},
		{UserName: "carol"},
		{UserName: "bob"},
	}

	sorted := SortResources(users, "userName", "descending")
	want := []string{"carol", "bob", "alice"}
	for i, u := range sorted {
		if u.UserName != want[i] {
			t.Errorf("sorted[%d] = %s, want %s", i, u.UserName, want[i])
		}
	}
}
