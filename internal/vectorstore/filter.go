package vectorstore

import (
	"fmt"
	"sort"
	"strings"
)

// Filterable payload fields indexed at collection bootstrap.
const (
	FilterDocumentID   = "document_id"
	FilterDocumentType = "document_type"
	FilterSource       = "source"
	FilterTags         = "tags"
)

// BuildFilterExpr turns a filter map into a Milvus boolean expression
// over the indexed payload fields. String values compare for equality,
// string slices become IN lists (tags require all values to be
// present), and unknown keys match inside the metadata JSON field. Keys
// are sorted so equal maps always build the same expression.
func BuildFilterExpr(filters map[string]interface{}) string {
	if len(filters) == 0 {
		return ""
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	for _, key := range keys {
		if clause := buildClause(key, filters[key]); clause != "" {
			clauses = append(clauses, clause)
		}
	}
	return strings.Join(clauses, " and ")
}

func buildClause(key string, value interface{}) string {
	switch key {
	case FilterTags:
		return tagsClause(value)
	case FilterDocumentID, FilterDocumentType, FilterSource:
		return scalarClause(key, value)
	default:
		return metadataClause(key, value)
	}
}

func scalarClause(field string, value interface{}) string {
	switch v := value.(type) {
	case string:
		return fmt.Sprintf(`%s == "%s"`, field, escape(v))
	case []string:
		return inClause(field, v)
	case []interface{}:
		return inClause(field, toStrings(v))
	default:
		return fmt.Sprintf(`%s == "%s"`, field, escape(fmt.Sprintf("%v", v)))
	}
}

func inClause(field string, values []string) string {
	if len(values) == 0 {
		return ""
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf(`"%s"`, escape(v))
	}
	return fmt.Sprintf(`%s in [%s]`, field, strings.Join(quoted, ", "))
}

// tagsClause requires every given tag to be present on the chunk.
func tagsClause(value interface{}) string {
	var tags []string
	switch v := value.(type) {
	case string:
		tags = []string{v}
	case []string:
		tags = v
	case []interface{}:
		tags = toStrings(v)
	default:
		return ""
	}

	var clauses []string
	for _, tag := range tags {
		clauses = append(clauses, fmt.Sprintf(`json_contains(%s, "%s")`, FilterTags, escape(tag)))
	}
	return strings.Join(clauses, " and ")
}

func metadataClause(key string, value interface{}) string {
	field := fmt.Sprintf(`metadata["%s"]`, escape(key))
	switch v := value.(type) {
	case string:
		return fmt.Sprintf(`%s == "%s"`, field, escape(v))
	case bool:
		return fmt.Sprintf(`%s == %t`, field, v)
	case int, int32, int64:
		return fmt.Sprintf(`%s == %d`, field, v)
	case float32, float64:
		return fmt.Sprintf(`%s == %v`, field, v)
	default:
		return fmt.Sprintf(`%s == "%s"`, field, escape(fmt.Sprintf("%v", v)))
	}
}

func toStrings(values []interface{}) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprintf("%v", v))
	}
	return out
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
