package scim

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// AttributeSelector projects a resource down to the requested attributes
// (or everything minus the excluded ones). id is always retained.
type AttributeSelector struct {
	attributes            map[string]bool
	excluded              map[string]bool
	subAttributes         map[string][]string
	excludedSubAttributes map[string][]string
	includeAll            bool
	excludeAny            bool
}

// NewAttributeSelector creates a selector from include and exclude lists.
// Include wins when both are given.
func NewAttributeSelector(attributes, excluded []string) *AttributeSelector {
	if len(attributes) > 0 {
		excluded = nil
	}

	as := &AttributeSelector{
		attributes:            make(map[string]bool),
		excluded:              make(map[string]bool),
		subAttributes:         make(map[string][]string),
		excludedSubAttributes: make(map[string][]string),
		includeAll:            len(attributes) == 0,
		excludeAny:            len(excluded) > 0,
	}

	for _, attr := range attributes {
		lowerAttr := strings.ToLower(strings.TrimSpace(attr))
		if lowerAttr == "" {
			continue
		}
		as.attributes[lowerAttr] = true

		// Dotted paths select sub-attributes of complex or multi-valued
		// parents, at arbitrary depth ("name.formatted", "emails.type").
		if strings.Contains(lowerAttr, ".") {
			parts := strings.SplitN(lowerAttr, ".", 2)
			as.subAttributes[parts[0]] = append(as.subAttributes[parts[0]], parts[1])
		}
	}

	for _, attr := range excluded {
		lowerAttr := strings.ToLower(strings.TrimSpace(attr))
		if lowerAttr == "" {
			continue
		}
		as.excluded[lowerAttr] = true

		if strings.Contains(lowerAttr, ".") {
			parts := strings.SplitN(lowerAttr, ".", 2)
			as.excludedSubAttributes[parts[0]] = append(as.excludedSubAttributes[parts[0]], parts[1])
		}
	}

	return as
}

// FilterResource projects one resource. When an include list matches
// nothing on the object, the full object is returned instead: requested
// attributes that do not exist are treated as "return everything" rather
// than as an empty result.
func (as *AttributeSelector) FilterResource(resource any) (any, error) {
	if as.includeAll && !as.excludeAny {
		return resource, nil
	}

	data, err := json.Marshal(resource)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	// Mandatory identity fields survive every projection
	coreAttributes := map[string]bool{
		"id":      true,
		"schemas": true,
		"meta":    true,
	}

	filtered := make(map[string]any)
	matchedAny := false

	for key, value := range result {
		lowerKey := strings.ToLower(key)

		if coreAttributes[lowerKey] {
			filtered[key] = value
			continue
		}

		if as.excluded[lowerKey] {
			continue
		}

		if !as.includeAll {
			if as.attributes[lowerKey] {
				filtered[key] = value
				matchedAny = true
			} else if subs, ok := as.subAttributes[lowerKey]; ok {
				if fv := as.filterSubAttributes(value, subs); fv != nil {
					filtered[key] = fv
					matchedAny = true
				}
			}
			continue
		}

		if excludedSubs, ok := as.excludedSubAttributes[lowerKey]; ok {
			if fv := as.excludeSubAttributes(value, excludedSubs); fv != nil {
				filtered[key] = fv
			}
		} else {
			filtered[key] = value
		}
	}

	if !as.includeAll && !matchedAny {
		return result, nil
	}

	return filtered, nil
}

// FilterResources projects a list of resources.
func (as *AttributeSelector) FilterResources(resources []any) ([]any, error) {
	if as.includeAll && !as.excludeAny {
		return resources, nil
	}

	filtered := make([]any, 0, len(resources))
	for _, resource := range resources {
		f, err := as.FilterResource(resource)
		if err != nil {
			return nil, err
		}
		filtered = append(filtered, f)
	}

	return filtered, nil
}

func (as *AttributeSelector) filterSubAttributes(value any, requestedSubs []string) any {
	if value == nil {
		return nil
	}

	immediateChildren := groupByImmediateChild(requestedSubs)

	// Multi-valued attribute: rebuild only the matching entries
	if arr, ok := value.([]any); ok {
		filtered := make([]any, 0, len(arr))
		for _, item := range arr {
			if itemMap, ok := item.(map[string]any); ok {
				filteredItem := as.filterMapBySubAttributes(itemMap, immediateChildren)
				if len(filteredItem) > 0 {
					filtered = append(filtered, filteredItem)
				}
			}
		}
		if len(filtered) > 0 {
			return filtered
		}
		return nil
	}

	if objMap, ok := value.(map[string]any); ok {
		filteredObj := as.filterMapBySubAttributes(objMap, immediateChildren)
		if len(filteredObj) > 0 {
			return filteredObj
		}
		return nil
	}

	return value
}

func (as *AttributeSelector) filterMapBySubAttributes(objMap map[string]any, requestedChildren map[string][]string) map[string]any {
	filteredObj := make(map[string]any)

	for k, v := range objMap {
		children, exists := requestedChildren[strings.ToLower(k)]
		if !exists {
			continue
		}
		if len(children) == 0 {
			filteredObj[k] = v
		} else if filtered := as.filterSubAttributes(v, children); filtered != nil {
			filteredObj[k] = filtered
		}
	}

	return filteredObj
}

func (as *AttributeSelector) excludeSubAttributes(value any, excludedSubs []string) any {
	if value == nil {
		return nil
	}

	immediateExclusions := groupByImmediateChild(excludedSubs)

	if arr, ok := value.([]any); ok {
		filtered := make([]any, 0, len(arr))
		for _, item := range arr {
			if itemMap, ok := item.(map[string]any); ok {
				filteredItem := as.excludeFromMap(itemMap, immediateExclusions)
				if len(filteredItem) > 0 {
					filtered = append(filtered, filteredItem)
				}
			} else {
				filtered = append(filtered, item)
			}
		}
		return filtered
	}

	if objMap, ok := value.(map[string]any); ok {
		return as.excludeFromMap(objMap, immediateExclusions)
	}

	return value
}

func (as *AttributeSelector) excludeFromMap(objMap map[string]any, exclusions map[string][]string) map[string]any {
	filteredObj := make(map[string]any)

	for k, v := range objMap {
		children, shouldExclude := exclusions[strings.ToLower(k)]
		if !shouldExclude {
			filteredObj[k] = v
			continue
		}
		if len(children) == 0 {
			continue
		}
		if filtered := as.excludeSubAttributes(v, children); filtered != nil {
			filteredObj[k] = filtered
		}
	}

	return filteredObj
}

// groupByImmediateChild splits dotted sub-attribute paths by their first
// component: ["type", "street.postalCode"] becomes
// {"type": [], "street": ["postalCode"]}.
func groupByImmediateChild(subs []string) map[string][]string {
	out := make(map[string][]string)
	for _, sub := range subs {
		if strings.Contains(sub, ".") {
			parts := strings.SplitN(sub, ".", 2)
			key := strings.ToLower(parts[0])
			out[key] = append(out[key], parts[1])
		} else {
			out[strings.ToLower(sub)] = out[strings.ToLower(sub)]
		}
	}
	return out
}

// SortResources sorts resources by sortBy/sortOrder, pre-extracting
// attribute values once per resource.
func SortResources[T any](resources []T, sortBy, sortOrder string) []T {
	if sortBy == "" || len(resources) == 0 {
		return resources
	}

	sorted := make([]T, len(resources))
	copy(sorted, resources)

	ascending := strings.ToLower(sortOrder) != "descending"

	type resourceValue struct {
		resource T
		value    any
	}
	pairs := make([]resourceValue, len(sorted))
	for i := range sorted {
		pairs[i] = resourceValue{
			resource: sorted[i],
			value:    getAttributeValue(sorted[i], sortBy),
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		cmp := compareForSort(pairs[i].value, pairs[j].value)
		if ascending {
			return cmp < 0
		}
		return cmp > 0
	})

	for i := range pairs {
		sorted[i] = pairs[i].resource
	}

	return sorted
}

// compareForSort returns -1 if a < b, 0 if equal, 1 if a > b.
func compareForSort(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	aStr, aIsStr := a.(string)
	bStr, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.Compare(aStr, bStr)
	}

	aNum := toFloat64(a)
	bNum := toFloat64(b)
	if aNum != nil && bNum != nil {
		switch {
		case *aNum < *bNum:
			return -1
		case *aNum > *bNum:
			return 1
		}
		return 0
	}

	aBool, aIsBool := a.(bool)
	bBool, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		switch {
		case !aBool && bBool:
			return -1
		case aBool && !bBool:
			return 1
		}
		return 0
	}

	aTime := toTime(a)
	bTime := toTime(b)
	if aTime != nil && bTime != nil {
		switch {
		case aTime.Before(*bTime):
			return -1
		case aTime.After(*bTime):
			return 1
		}
		return 0
	}

	return 0
}

func toTime(v any) *time.Time {
	switch val := v.(type) {
	case time.Time:
		return &val
	case *time.Time:
		return val
	default:
		return nil
	}
}
