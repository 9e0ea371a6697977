package scim

// ApplyPagination slices a result set according to 1-based startIndex and
// count. A zero count means "everything from startIndex".
func ApplyPagination[T any](resources []T, startIndex, count int) []T {
	if startIndex < 1 {
		startIndex = 1
	}
	offset := startIndex - 1
	if offset >= len(resources) {
		return []T{}
	}
	end := len(resources)
	if count > 0 && offset+count < end {
		end = offset + count
	}
	return resources[offset:end]
}

// BuildListResponse assembles the standard list envelope. totalResults
// reflects the full result set, Resources the returned page.
func BuildListResponse[T any](resources []T, totalResults, startIndex int) ListResponse[T] {
	if startIndex < 1 {
		startIndex = 1
	}
	if resources == nil {
		resources = []T{}
	}
	return ListResponse[T]{
		Schemas:      []string{SchemaListResponse},
		TotalResults: totalResults,
		StartIndex:   startIndex,
		ItemsPerPage: len(resources),
		Resources:    resources,
	}
}

// ProcessListQuery applies the gateway-side half of a list query to
// already-fetched resources: sorting, then pagination. Filtering happened
// connector-side via the QueryDescriptor.
func ProcessListQuery[T any](resources []T, params QueryParams) ([]T, int) {
	total := len(resources)
	if params.SortBy != "" {
		resources = SortResources(resources, params.SortBy, params.SortOrder)
	}
	page := ApplyPagination(resources, params.StartIndex, params.Count)
	return page, total
}
