package services

import (
	"strings"
	"time"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// identifierFallbackLimit bounds identifiers taken from long free text fields
const identifierFallbackLimit = 120

// RecordMeta is stamped on every assembled record
type RecordMeta struct {
	TenantID string
	UserID   string
	RunID    string
}

// RecordAssembler turns mapped rows into store records
type RecordAssembler struct {
	fields         *models.FieldSet
	targets        []string
	identifierCols []int
	meta           RecordMeta
	now            func() time.Time
}

// NewRecordAssembler prepares an assembler for one table and its final mapping
func NewRecordAssembler(mapper *FieldMapper, headers []string, mapping models.ColumnMapping, meta RecordMeta) *RecordAssembler {
	targets := make([]string, len(headers))
	for i, h := range headers {
		targets[i] = mapping.Target(h)
	}

	return &RecordAssembler{
		fields:         mapper.Fields(),
		targets:        targets,
		identifierCols: mapper.IdentifierColumns(headers),
		meta:           meta,
		now:            time.Now,
	}
}

// Assemble converts one row. Rows without an identifier are skipped; all
// other anomalies degrade to missing values.
func (a *RecordAssembler) Assemble(index int, row []string) (*models.AssembledRecord, *models.SkippedRow) {
	core := make(map[string]any)
	extra := make(map[string]any)

	for i, target := range a.targets {
		if target == models.Ignored || i >= len(row) {
			continue
		}
		def, ok := a.fields.Lookup(target)
		if !ok {
			continue
		}

		value := Coerce(row[i], def.Type)
		if isEmptyValue(value) {
			continue
		}
		if s, ok := value.(string); ok && def.MaxLength > 0 {
			value = models.Truncate(s, def.MaxLength)
		}

		container := core
		if def.Extra {
			container = extra
		}

		if def.Appendable() {
			container[target] = appendTags(container[target], value.([]string))
			continue
		}
		container[target] = value
	}

	identifier := a.resolveIdentifier(row, core, extra)
	if identifier == "" {
		return nil, &models.SkippedRow{Index: index, Reason: models.ReasonMissingIdentifier}
	}
	core[a.fields.Identifier] = identifier

	// defaults only apply to rows that survived the identifier check
	for _, def := range a.fields.Fields {
		if def.Default == nil {
			continue
		}
		container := core
		if def.Extra {
			container = extra
		}
		if _, ok := container[def.Name]; !ok {
			container[def.Name] = def.Default
		}
	}

	referenceCode, _ := extra[models.FieldReferenceCode].(string)
	if referenceCode == "" {
		referenceCode, _ = core[models.FieldReferenceCode].(string)
	}

	return &models.AssembledRecord{
		ID:          models.GenerateRecordID(a.meta.TenantID, referenceCode),
		TenantID:    a.meta.TenantID,
		RowIndex:    index,
		Core:        core,
		Extra:       extra,
		CreatedBy:   a.meta.UserID,
		ImportRunID: a.meta.RunID,
		CreatedAt:   a.now().UTC(),
	}, nil
}

// AssembleAll converts every data row and collects the skipped ones. Rows
// whose reference code repeats an earlier row's are skipped so one file never
// carries two records with the same ID; the first occurrence wins.
func (a *RecordAssembler) AssembleAll(rows [][]string) ([]models.AssembledRecord, []models.SkippedRow) {
	records := make([]models.AssembledRecord, 0, len(rows))
	var skipped []models.SkippedRow
	seen := make(map[string]bool, len(rows))

	for i, row := range rows {
		rec, skip := a.Assemble(i, row)
		if skip != nil {
			skipped = append(skipped, *skip)
			continue
		}
		if seen[rec.ID] {
			skipped = append(skipped, models.SkippedRow{Index: i, Reason: models.ReasonDuplicateReferenceCode})
			continue
		}
		seen[rec.ID] = true
		records = append(records, *rec)
	}
	return records, skipped
}

// resolveIdentifier tries the mapped column, then columns whose header looks
// like the identifier, then the prioritized fallback fields
func (a *RecordAssembler) resolveIdentifier(row []string, core, extra map[string]any) string {
	if s, ok := core[a.fields.Identifier].(string); ok && s != "" {
		return s
	}

	for _, col := range a.identifierCols {
		if col < len(row) {
			if s := strings.TrimSpace(row[col]); s != "" {
				return s
			}
		}
	}

	for _, name := range a.fields.IdentifierFallbacks {
		value, ok := core[name]
		if !ok {
			value, ok = extra[name]
		}
		if !ok {
			continue
		}
		if s := fallbackText(value); s != "" {
			return models.Truncate(s, identifierFallbackLimit)
		}
	}

	return ""
}

func fallbackText(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []string:
		return strings.Join(val, ", ")
	}
	return ""
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []string:
		return len(val) == 0
	}
	return false
}

// appendTags adds tags to an existing list, keeping first-seen order
func appendTags(existing any, tags []string) []string {
	current, _ := existing.([]string)
	seen := make(map[string]bool, len(current)+len(tags))
	for _, t := range current {
		seen[t] = true
	}
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			current = append(current, t)
		}
	}
	return current
}
