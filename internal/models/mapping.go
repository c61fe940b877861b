package models

// Mapping sources, in increasing precedence
const (
	MappingSourceHeuristic = "heuristic"
	MappingSourceAI        = "ai"
	MappingSourceUser      = "user"
)

// ColumnMapping maps a source column name to a canonical field name or Ignored
type ColumnMapping map[string]string

// Target returns the mapped field for a column, Ignored when unmapped
func (m ColumnMapping) Target(column string) string {
	if target, ok := m[column]; ok && target != "" {
		return target
	}
	return Ignored
}

// Clone returns an independent copy
func (m ColumnMapping) Clone() ColumnMapping {
	out := make(ColumnMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ColumnsFor returns the columns mapped to target, in header order
func (m ColumnMapping) ColumnsFor(target string, headers []string) []int {
	var cols []int
	for i, h := range headers {
		if m.Target(h) == target {
			cols = append(cols, i)
		}
	}
	return cols
}

// UnknownSuggestion is an AI-proposed target that is not a canonical field
type UnknownSuggestion struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// MappingSuggestion is the outcome of header analysis for one table
type MappingSuggestion struct {
	Mapping  ColumnMapping       `json:"mapping"`
	Sources  map[string]string   `json:"sources,omitempty"` // column -> heuristic|ai|user
	Unknown  []UnknownSuggestion `json:"unknown_suggestions,omitempty"`
	Unmapped []string            `json:"unmapped,omitempty"`
}
