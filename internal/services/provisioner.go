package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/storage"
)

// ProvisionResult counts what the provisioner did
type ProvisionResult struct {
	Created  int              `json:"created"`
	Existing int              `json:"existing"`
	Failed   []ProvisionError `json:"failed,omitempty"`
}

// ProvisionError is one dimension value that could not be created
type ProvisionError struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// DimensionProvisioner creates the dimension values referenced by records
type DimensionProvisioner struct {
	store  storage.RecordStore
	fields *models.FieldSet
	logger *zap.Logger
}

// NewDimensionProvisioner creates a provisioner for the dimension-backed fields of fields
func NewDimensionProvisioner(store storage.RecordStore, fields *models.FieldSet, logger *zap.Logger) *DimensionProvisioner {
	if fields == nil {
		fields = models.DefaultFieldSet()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DimensionProvisioner{store: store, fields: fields, logger: logger}
}

// Provision ensures every distinct dimension value exists before records
// are persisted. Individual failures are logged and skipped; only a
// cancelled context stops the run early.
func (p *DimensionProvisioner) Provision(ctx context.Context, tenantID string, records []models.AssembledRecord) (ProvisionResult, error) {
	var result ProvisionResult

	for _, def := range p.fields.DimensionFields() {
		values := CollectDimensionValues(records, def.Name)
		if len(values) == 0 {
			continue
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}

		known := make(map[string]bool)
		existing, err := p.store.SelectDimensions(ctx, tenantID, def.Dimension)
		if err != nil {
			// the store still deduplicates on create
			p.logger.Warn("Failed to pre-check dimensions",
				zap.String("tenant_id", tenantID),
				zap.String("kind", def.Dimension),
				zap.Error(err))
		}
		for _, d := range existing {
			known[d.Name] = true
		}

		for _, name := range values {
			if known[name] {
				result.Existing++
				continue
			}

			_, err := p.store.CreateDimension(context.WithoutCancel(ctx), tenantID, def.Dimension, name)
			switch {
			case err == nil:
				result.Created++
				known[name] = true
			case errors.Is(err, storage.ErrDimensionExists):
				result.Existing++
				known[name] = true
			default:
				p.logger.Warn("Failed to create dimension",
					zap.String("tenant_id", tenantID),
					zap.String("kind", def.Dimension),
					zap.String("name", name),
					zap.Error(err))
				result.Failed = append(result.Failed, ProvisionError{Kind: def.Dimension, Name: name, Error: err.Error()})
			}
		}
	}

	p.logger.Info("Dimensions provisioned",
		zap.String("tenant_id", tenantID),
		zap.Int("created", result.Created),
		zap.Int("existing", result.Existing),
		zap.Int("failed", len(result.Failed)))

	return result, nil
}

// CollectDimensionValues returns the distinct trimmed values of field in
// first-seen order. Matching is case-sensitive.
func CollectDimensionValues(records []models.AssembledRecord, field string) []string {
	seen := make(map[string]bool)
	var values []string

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		values = append(values, s)
	}

	for i := range records {
		v, ok := records[i].Value(field)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			add(val)
		case []string:
			for _, s := range val {
				add(s)
			}
		}
	}
	return values
}
