package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// Table names shared by the SQL backends
const (
	RecordsTable    = "import_records"
	DimensionsTable = "import_dimensions"
)

// RecordColumns is the column order produced by RecordRow
var RecordColumns = []string{"id", "tenant_id", "name", "core", "extra_attributes", "created_by", "import_run_id", "created_at"}

// DimensionColumns is the column order produced by DimensionRow
var DimensionColumns = []string{"id", "tenant_id", "kind", "name", "created_at"}

// RecordRow flattens a record into RecordColumns order. Core and extra
// attributes are stored as JSON text so every dialect can keep them.
func RecordRow(tenantID string, rec models.AssembledRecord) ([]any, error) {
	core, err := json.Marshal(rec.StoreValues())
	if err != nil {
		return nil, fmt.Errorf("failed to encode core attributes of row %d: %w", rec.RowIndex, err)
	}
	extra, err := rec.ExtraJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode extra attributes of row %d: %w", rec.RowIndex, err)
	}

	return []any{
		rec.ID,
		tenantID,
		rec.Name(),
		string(core),
		string(extra),
		rec.CreatedBy,
		rec.ImportRunID,
		rec.CreatedAt.UTC(),
	}, nil
}

// RecordRows flattens a batch, refusing records stamped with another tenant
func RecordRows(tenantID string, records []models.AssembledRecord) ([][]any, error) {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		if rec.TenantID != "" && rec.TenantID != tenantID {
			return nil, fmt.Errorf("record %s belongs to tenant %s, not %s", rec.ID, rec.TenantID, tenantID)
		}
		row, err := RecordRow(tenantID, rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DimensionRow flattens a dimension into DimensionColumns order
func DimensionRow(d models.DimensionEntity) []any {
	return []any{d.ID, d.TenantID, d.Kind, d.Name, d.CreatedAt.UTC()}
}

// QuoteIdent quotes an identifier with the given quote characters
func QuoteIdent(name, left, right string) string {
	return left + strings.ReplaceAll(name, right, right+right) + right
}

// LastByID collapses records sharing an ID, keeping the position of the first
// occurrence and the values of the last one. Upsert statements cannot touch
// the same row twice.
func LastByID(records []models.AssembledRecord) []models.AssembledRecord {
	pos := make(map[string]int, len(records))
	out := make([]models.AssembledRecord, 0, len(records))
	for _, rec := range records {
		if i, ok := pos[rec.ID]; ok {
			out[i] = rec
			continue
		}
		pos[rec.ID] = len(out)
		out = append(out, rec)
	}
	return out
}
