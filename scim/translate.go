package scim

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// disjunctionConcurrency bounds how many branches of a split "or" filter are
// resolved against the connector at once.
const disjunctionConcurrency = 5

// DefaultPageSize is applied once a request carries either startIndex or
// count without the other.
const DefaultPageSize = 200

// TranslateFilter normalizes a raw filter expression into one or more
// QueryDescriptors.
//
// A single 3-token comparison (including the bracket form
// attr[sub op "value"]) yields one simple descriptor. A pure disjunction of
// "eq" comparisons joined by "or" is split into one descriptor per branch;
// the caller resolves them independently and unions the results. Any other
// boolean combination is passed through as RawFilter for the connector to
// evaluate or reject. Filtering on password is rejected outright.
func TranslateFilter(filter string) ([]QueryDescriptor, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return []QueryDescriptor{{}}, nil
	}

	expr, err := NewFilterParser(filter).Parse()
	if err != nil {
		return nil, ErrInvalidFilter(err.Error())
	}

	switch e := expr.(type) {
	case *AttributeExpression:
		q, err := descriptorFromExpression(e)
		if err != nil {
			return nil, err
		}
		return []QueryDescriptor{q}, nil
	case *LogicalExpression:
		if branches, ok := collectEqDisjunction(e); ok {
			qs := make([]QueryDescriptor, 0, len(branches))
			for _, branch := range branches {
				q, err := descriptorFromExpression(branch)
				if err != nil {
					return nil, err
				}
				qs = append(qs, q)
			}
			return qs, nil
		}
	}

	if err := rejectSensitiveAttribute(filter); err != nil {
		return nil, err
	}
	return []QueryDescriptor{{RawFilter: filter}}, nil
}

// descriptorFromExpression converts one parsed comparison to a descriptor,
// applying the shared attribute normalization.
func descriptorFromExpression(e *AttributeExpression) (QueryDescriptor, error) {
	attr, err := normalizeFilterAttribute(e.AttributePath)
	if err != nil {
		return QueryDescriptor{}, err
	}
	return QueryDescriptor{
		Attribute: attr,
		Operator:  e.Operator,
		Value:     fmt.Sprintf("%v", e.Value),
	}, nil
}

// normalizeFilterAttribute applies the gateway's attribute conventions:
// password is never filterable; a bracket sub-filter attr[sub eq "v"] has
// already been folded into attr.sub by the parser's path handling; a bare
// multi-value attribute (emails, phoneNumbers, ...) compares by its value
// sub-field.
func normalizeFilterAttribute(path string) (string, error) {
	if idx := strings.Index(path, "["); idx >= 0 {
		// attr[sub ...] paths arrive here when the sub-filter did not parse
		// as a standalone expression; rewrite to attr.sub form.
		attr := path[:idx]
		rest := strings.TrimSuffix(path[idx+1:], "]")
		fields := strings.Fields(rest)
		if len(fields) > 0 {
			path = attr + "." + fields[0]
		} else {
			path = attr
		}
	}

	base := strings.ToLower(strings.SplitN(path, ".", 2)[0])
	if base == "password" {
		return "", ErrInvalidFilter("filtering on password is not allowed")
	}

	if IsMultiValueType(path) {
		return path + ".value", nil
	}
	return path, nil
}

func rejectSensitiveAttribute(filter string) error {
	if strings.Contains(strings.ToLower(filter), "password") {
		return ErrInvalidFilter("filtering on password is not allowed")
	}
	return nil
}

// collectEqDisjunction reports whether expr is a pure disjunction of "eq"
// comparisons and returns the branches when it is.
func collectEqDisjunction(expr Filter) ([]*AttributeExpression, bool) {
	switch e := expr.(type) {
	case *AttributeExpression:
		if e.Operator != "eq" {
			return nil, false
		}
		return []*AttributeExpression{e}, true
	case *GroupExpression:
		return collectEqDisjunction(e.Filter)
	case *LogicalExpression:
		if e.Operator != "or" {
			return nil, false
		}
		left, ok := collectEqDisjunction(e.Left)
		if !ok {
			return nil, false
		}
		right, ok := collectEqDisjunction(e.Right)
		if !ok {
			return nil, false
		}
		return append(left, right...), true
	}
	return nil, false
}

// ResolveUnion resolves each descriptor independently with bounded
// concurrency and unions the results, deduplicating by id. Branch order in
// the output follows branch order in qs; relative completion order of
// branches is not observable. All branches run to completion and their
// failures are aggregated, so one failing branch never hides a sibling's.
func ResolveUnion[T any](ctx context.Context, qs []QueryDescriptor, idOf func(T) string, fetch func(context.Context, QueryDescriptor) ([]T, error)) ([]T, error) {
	if len(qs) == 1 {
		return fetch(ctx, qs[0])
	}

	results := make([][]T, len(qs))
	errs := make([]error, len(qs))
	var g errgroup.Group
	g.SetLimit(disjunctionConcurrency)

	for i, q := range qs {
		i, q := i, q
		g.Go(func() error {
			items, err := fetch(ctx, q)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = items
			return nil
		})
	}
	g.Wait()

	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var union []T
	for _, items := range results {
		for _, item := range items {
			id := idOf(item)
			if id != "" && seen[id] {
				continue
			}
			if id != "" {
				seen[id] = true
			}
			union = append(union, item)
		}
	}
	return union, nil
}
