package scim

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// FilterParser parses SCIM filter expressions into an evaluatable tree.
type FilterParser struct {
	input string
	pos   int
}

// Filter represents a parsed SCIM filter
type Filter interface {
	Matches(resource any) bool
}

// AttributeExpression represents an attribute comparison
type AttributeExpression struct {
	AttributePath string
	Operator      string
	Value         any
}

// LogicalExpression represents a logical operation (AND, OR, NOT)
type LogicalExpression struct {
	Operator string
	Left     Filter
	Right    Filter
}

// GroupExpression represents a parenthesized filter
type GroupExpression struct {
	Filter Filter
}

// NewFilterParser creates a new filter parser
func NewFilterParser(filter string) *FilterParser {
	return &FilterParser{input: strings.TrimSpace(filter)}
}

// Parse parses the filter expression
func (p *FilterParser) Parse() (Filter, error) {
	if p.input == "" {
		return nil, nil
	}
	return p.parseLogicalOr()
}

func (p *FilterParser) parseLogicalOr() (Filter, error) {
	left, err := p.parseLogicalAnd()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()
		if !p.matchKeyword("or") {
			break
		}
		p.pos += 2
		p.skipWhitespace()

		right, err := p.parseLogicalAnd()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpression{Operator: "or", Left: left, Right: right}
	}

	return left, nil
}

func (p *FilterParser) parseLogicalAnd() (Filter, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for {
		p.skipWhitespace()
		if !p.matchKeyword("and") {
			break
		}
		p.pos += 3
		p.skipWhitespace()

		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpression{Operator: "and", Left: left, Right: right}
	}

	return left, nil
}

func (p *FilterParser) parseNot() (Filter, error) {
	p.skipWhitespace()
	if p.matchKeyword("not") {
		p.pos += 3
		p.skipWhitespace()

		filter, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &LogicalExpression{Operator: "not", Left: filter}, nil
	}

	return p.parsePrimary()
}

func (p *FilterParser) parsePrimary() (Filter, error) {
	p.skipWhitespace()

	if p.peek() == '(' {
		p.pos++
		filter, err := p.parseLogicalOr()
		if err != nil {
			return nil, err
		}
		p.skipWhitespace()
		if p.peek() != ')' {
			return nil, fmt.Errorf("expected ')' at position %d", p.pos)
		}
		p.pos++
		return &GroupExpression{Filter: filter}, nil
	}

	return p.parseAttributeExpression()
}

func (p *FilterParser) parseAttributeExpression() (Filter, error) {
	p.skipWhitespace()

	attrPath := p.parseAttributePath()
	if attrPath == "" {
		return nil, fmt.Errorf("expected attribute path at position %d", p.pos)
	}

	p.skipWhitespace()

	op := p.parseOperator()
	if op == "" {
		return nil, fmt.Errorf("expected operator at position %d", p.pos)
	}

	p.skipWhitespace()

	var value any
	// pr (present) carries no value
	if op != "pr" {
		var err error
		value, err = p.parseValue()
		if err != nil {
			return nil, err
		}
	}

	return &AttributeExpression{
		AttributePath: attrPath,
		Operator:      op,
		Value:         value,
	}, nil
}

func (p *FilterParser) parseAttributePath() string {
	start := p.pos
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if !isAlphaNumeric(ch) && ch != '.' && ch != '[' && ch != ']' && ch != '"' && ch != ' ' {
			break
		}
		// Spaces only continue the path inside a bracket sub-filter, as in
		// emails[type eq "work"].value
		if ch == ' ' && p.pos > start {
			inBracket := false
			for i := start; i < p.pos; i++ {
				switch p.input[i] {
				case '[':
					inBracket = true
				case ']':
					inBracket = false
				}
			}
			if !inBracket {
				break
			}
		}
		p.pos++
	}
	return strings.TrimSpace(p.input[start:p.pos])
}

func (p *FilterParser) parseOperator() string {
	p.skipWhitespace()
	operators := []string{"eq", "ne", "co", "sw", "ew", "pr", "gt", "ge", "lt", "le"}

	for _, op := range operators {
		if p.matchKeyword(op) {
			p.pos += len(op)
			return op
		}
	}

	return ""
}

func (p *FilterParser) parseValue() (any, error) {
	p.skipWhitespace()

	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("expected value at position %d", p.pos)
	}

	if p.peek() == '"' {
		p.pos++
		start := p.pos
		for p.pos < len(p.input) && p.input[p.pos] != '"' {
			p.pos++
		}
		if p.pos >= len(p.input) {
			return nil, fmt.Errorf("unterminated string at position %d", start)
		}
		value := p.input[start:p.pos]
		p.pos++
		return value, nil
	}

	if p.matchKeyword("true") {
		p.pos += 4
		return true, nil
	}
	if p.matchKeyword("false") {
		p.pos += 5
		return false, nil
	}
	if p.matchKeyword("null") {
		p.pos += 4
		return nil, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.' || p.input[p.pos] == '-') {
		p.pos++
	}
	if p.pos > start {
		numStr := p.input[start:p.pos]
		if strings.Contains(numStr, ".") {
			return strconv.ParseFloat(numStr, 64)
		}
		return strconv.ParseInt(numStr, 10, 64)
	}

	return nil, fmt.Errorf("invalid value at position %d", p.pos)
}

// Matches checks if an attribute expression matches a resource
func (ae *AttributeExpression) Matches(resource any) bool {
	value := getAttributeValue(resource, ae.AttributePath)

	// A dotted path through an array yields one value per element; the
	// expression matches when any element does.
	if values, ok := value.([]any); ok && ae.Operator != "pr" {
		for _, v := range values {
			if ae.matchesValue(v) {
				return true
			}
		}
		return false
	}

	return ae.matchesValue(value)
}

func (ae *AttributeExpression) matchesValue(value any) bool {
	switch ae.Operator {
	case "eq":
		return compareEqual(value, ae.Value)
	case "ne":
		return !compareEqual(value, ae.Value)
	case "co":
		return stringCompare(value, ae.Value, strings.Contains)
	case "sw":
		return stringCompare(value, ae.Value, strings.HasPrefix)
	case "ew":
		return stringCompare(value, ae.Value, strings.HasSuffix)
	case "pr":
		return value != nil && !reflect.ValueOf(value).IsZero()
	case "gt":
		return compareNumeric(value, ae.Value, func(x, y float64) bool { return x > y })
	case "ge":
		return compareNumeric(value, ae.Value, func(x, y float64) bool { return x >= y })
	case "lt":
		return compareNumeric(value, ae.Value, func(x, y float64) bool { return x < y })
	case "le":
		return compareNumeric(value, ae.Value, func(x, y float64) bool { return x <= y })
	}

	return false
}

// Matches checks if a logical expression matches a resource
func (le *LogicalExpression) Matches(resource any) bool {
	switch le.Operator {
	case "and":
		return le.Left.Matches(resource) && le.Right.Matches(resource)
	case "or":
		return le.Left.Matches(resource) || le.Right.Matches(resource)
	case "not":
		return !le.Left.Matches(resource)
	}
	return false
}

// Matches checks if a group expression matches a resource
func (ge *GroupExpression) Matches(resource any) bool {
	return ge.Filter.Matches(resource)
}

func (p *FilterParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *FilterParser) skipWhitespace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t' || p.input[p.pos] == '\n') {
		p.pos++
	}
}

func (p *FilterParser) matchKeyword(keyword string) bool {
	if p.pos+len(keyword) > len(p.input) {
		return false
	}
	if !strings.EqualFold(p.input[p.pos:p.pos+len(keyword)], keyword) {
		return false
	}
	// Keyword must not be a prefix of a longer word
	if p.pos+len(keyword) < len(p.input) {
		if isAlphaNumeric(p.input[p.pos+len(keyword)]) {
			return false
		}
	}
	return true
}

func isAlphaNumeric(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') || ch == '_'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// getAttributeValue extracts a value from a resource by attribute path
func getAttributeValue(resource any, path string) any {
	if resource == nil {
		return nil
	}

	if strings.Contains(path, "[") {
		return getComplexAttributeValue(resource, path)
	}

	// Nested paths (e.g. "meta.created") go through JSON navigation, which
	// works for any serializable resource.
	if strings.Contains(path, ".") {
		return getNestedAttributeValueJSON(resource, path)
	}

	v := reflect.ValueOf(resource)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() == reflect.Struct {
		field := findField(v, path)
		if field.IsValid() {
			return field.Interface()
		}
	}

	return getNestedAttributeValueJSON(resource, path)
}

func getNestedAttributeValueJSON(resource any, path string) any {
	data, err := json.Marshal(resource)
	if err != nil {
		return nil
	}

	var resourceMap map[string]any
	if err := json.Unmarshal(data, &resourceMap); err != nil {
		return nil
	}

	return navigateJSONPath(resourceMap, strings.Split(path, "."))
}

// navigateJSONPath walks a dotted path through decoded JSON. Landing on an
// array mid-path maps the remaining path over its elements, so
// "members.value" yields the list of member values.
func navigateJSONPath(current any, parts []string) any {
	if len(parts) == 0 {
		return current
	}

	switch node := current.(type) {
	case map[string]any:
		for key, value := range node {
			if strings.EqualFold(key, parts[0]) {
				return navigateJSONPath(value, parts[1:])
			}
		}
		return nil
	case []any:
		var collected []any
		for _, elem := range node {
			switch v := navigateJSONPath(elem, parts).(type) {
			case nil:
			case []any:
				collected = append(collected, v...)
			default:
				collected = append(collected, v)
			}
		}
		if len(collected) == 0 {
			return nil
		}
		return collected
	}
	return nil
}

var complexPathRe = regexp.MustCompile(`^(\w+)\[(.+?)\]\.?(.*)$`)

// getComplexAttributeValue handles paths with bracket sub-filters, such as
// emails[type eq "work"].value
func getComplexAttributeValue(resource any, path string) any {
	matches := complexPathRe.FindStringSubmatch(path)
	if len(matches) == 0 {
		return nil
	}

	arrayAttr := matches[1]
	filterExpr := matches[2]
	remainingPath := matches[3]

	arrayValue := getAttributeValue(resource, arrayAttr)
	if arrayValue == nil {
		return nil
	}

	v := reflect.ValueOf(arrayValue)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil
	}

	filter, err := NewFilterParser(filterExpr).Parse()
	if err != nil {
		return nil
	}

	for i := 0; i < v.Len(); i++ {
		elem := v.Index(i).Interface()
		if filter.Matches(elem) {
			if remainingPath != "" {
				return getAttributeValue(elem, remainingPath)
			}
			return elem
		}
	}

	return nil
}

// findField finds a struct field by name or json tag (case-insensitive)
func findField(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		if strings.EqualFold(field.Name, name) {
			return v.Field(i)
		}
		if jsonTag := field.Tag.Get("json"); jsonTag != "" {
			jsonName := strings.Split(jsonTag, ",")[0]
			if strings.EqualFold(jsonName, name) {
				return v.Field(i)
			}
		}
	}
	return reflect.Value{}
}

func compareEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}

	aVal := reflect.ValueOf(a)
	bVal := reflect.ValueOf(b)

	if aVal.Kind() == reflect.Ptr && !aVal.IsNil() {
		a = aVal.Elem().Interface()
	}
	if bVal.Kind() == reflect.Ptr && !bVal.IsNil() {
		b = bVal.Elem().Interface()
	}

	// Attribute values compare case-sensitively (RFC 7644 Section 3.4.2.2);
	// attribute names are the case-insensitive part.
	aStr, aIsStr := a.(string)
	bStr, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return aStr == bStr
	}

	aVal = reflect.ValueOf(a)
	bVal = reflect.ValueOf(b)

	// Custom bool kinds (like Boolean) compare against plain bools
	boolType := reflect.TypeOf(true)
	if (aVal.Kind() == reflect.Bool || bVal.Kind() == reflect.Bool) &&
		aVal.Type().ConvertibleTo(boolType) && bVal.Type().ConvertibleTo(boolType) {
		return aVal.Convert(boolType).Bool() == bVal.Convert(boolType).Bool()
	}

	// Booleans also match their string rendering ("True", "false", ...)
	if aVal.Kind() == reflect.Bool && bIsStr {
		return aVal.Bool() == strings.EqualFold(bStr, "true")
	}
	if bVal.Kind() == reflect.Bool && aIsStr {
		return bVal.Bool() == strings.EqualFold(aStr, "true")
	}

	return reflect.DeepEqual(a, b)
}

func stringCompare(a, b any, cmp func(string, string) bool) bool {
	aStr, ok := a.(string)
	if !ok {
		return false
	}
	bStr, ok := b.(string)
	if !ok {
		return false
	}
	return cmp(aStr, bStr)
}

func compareNumeric(a, b any, op func(float64, float64) bool) bool {
	aNum := toFloat64(a)
	bNum := toFloat64(b)
	if aNum == nil || bNum == nil {
		return false
	}
	return op(*aNum, *bNum)
}

func toFloat64(v any) *float64 {
	var result float64
	switch val := v.(type) {
	case float64:
		result = val
	case float32:
		result = float64(val)
	case int:
		result = float64(val)
	case int32:
		result = float64(val)
	case int64:
		result = float64(val)
	default:
		return nil
	}
	return &result
}
