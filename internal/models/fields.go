package models

import (
	"fmt"
	"strings"
)

// FieldType is the coercion type of a canonical field
type FieldType string

const (
	TypeText    FieldType = "text"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeTags    FieldType = "tags"
)

// Ignored is the mapping target for columns that must not be imported
const Ignored = "ignored"

// Canonical field names of the default listing field set
const (
	FieldName          = "name"
	FieldDescription   = "description"
	FieldPrice         = "price"
	FieldStatus        = "status"
	FieldEmail         = "email"
	FieldPhone         = "phone"
	FieldOwnerName     = "owner_name"
	FieldAddress       = "address"
	FieldNeighborhood  = "neighborhood"
	FieldCity          = "city"
	FieldState         = "state"
	FieldZipCode       = "zip_code"
	FieldAreaTotal     = "area_total"
	FieldAreaBuilt     = "area_built"
	FieldBedrooms      = "bedrooms"
	FieldBathrooms     = "bathrooms"
	FieldParkingSpaces = "parking_spaces"
	FieldListedAt      = "listed_at"

	FieldReferenceCode = "reference_code"
	FieldCategory      = "category"
	FieldRegion        = "region"
	FieldPropertyType  = "property_type"
	FieldFeatures      = "features"
	FieldSuites        = "suites"
	FieldCondoFee      = "condo_fee"
	FieldIPTU          = "iptu"
	FieldFurnished     = "furnished"
	FieldNotes         = "notes"
)

// Dimension kinds provisioned before persistence
const (
	DimensionCategory     = "category"
	DimensionRegion       = "region"
	DimensionPropertyType = "property_type"
	DimensionFeature      = "feature"
)

// FieldDef describes one canonical field
type FieldDef struct {
	Name      string    `json:"name" toml:"name" validate:"required"`
	Label     string    `json:"label,omitempty" toml:"label"`
	Type      FieldType `json:"type" toml:"type" validate:"required"`
	Extra     bool      `json:"extra,omitempty" toml:"extra"`        // stored in the extra attributes container
	Dimension string    `json:"dimension,omitempty" toml:"dimension"` // dimension kind auto-provisioned from values
	Default   any       `json:"default,omitempty" toml:"default"`     // applied after the identifier check
	MaxLength int       `json:"max_length,omitempty" toml:"max_length"`
}

// Appendable reports whether several columns may feed this field
func (f FieldDef) Appendable() bool {
	return f.Type == TypeTags
}

// FieldSet is the closed, ordered set of fields a tenant record can carry
type FieldSet struct {
	Fields              []FieldDef
	Identifier          string
	IdentifierFallbacks []string
	byName              map[string]int
}

// NewFieldSet builds a field set and checks that the identifier and fallbacks exist
func NewFieldSet(identifier string, fallbacks []string, fields ...FieldDef) (*FieldSet, error) {
	fs := &FieldSet{
		Fields:              fields,
		Identifier:          identifier,
		IdentifierFallbacks: fallbacks,
		byName:              make(map[string]int, len(fields)),
	}

	for i, f := range fields {
		if f.Name == "" || f.Name == Ignored {
			return nil, fmt.Errorf("invalid field name %q at position %d", f.Name, i)
		}
		if !ValidateFieldType(f.Type) {
			return nil, fmt.Errorf("field %s has invalid type %q", f.Name, f.Type)
		}
		if _, dup := fs.byName[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %s", f.Name)
		}
		fs.byName[f.Name] = i
	}

	id, ok := fs.Lookup(identifier)
	if !ok {
		return nil, fmt.Errorf("identifier field %s is not part of the field set", identifier)
	}
	if id.Type != TypeText || id.Extra {
		return nil, fmt.Errorf("identifier field %s must be a core text field", identifier)
	}
	for _, name := range fallbacks {
		if _, ok := fs.Lookup(name); !ok {
			return nil, fmt.Errorf("identifier fallback %s is not part of the field set", name)
		}
	}

	return fs, nil
}

// MustFieldSet is NewFieldSet for static definitions
func MustFieldSet(identifier string, fallbacks []string, fields ...FieldDef) *FieldSet {
	fs, err := NewFieldSet(identifier, fallbacks, fields...)
	if err != nil {
		panic(err)
	}
	return fs
}

// Lookup returns the definition of a field by name
func (fs *FieldSet) Lookup(name string) (FieldDef, bool) {
	i, ok := fs.byName[name]
	if !ok {
		return FieldDef{}, false
	}
	return fs.Fields[i], true
}

// Has reports whether name is a canonical field
func (fs *FieldSet) Has(name string) bool {
	_, ok := fs.byName[name]
	return ok
}

// Names returns the field names in definition order
func (fs *FieldSet) Names() []string {
	names := make([]string, len(fs.Fields))
	for i, f := range fs.Fields {
		names[i] = f.Name
	}
	return names
}

// DimensionFields returns the fields backed by a dimension entity
func (fs *FieldSet) DimensionFields() []FieldDef {
	var out []FieldDef
	for _, f := range fs.Fields {
		if f.Dimension != "" {
			out = append(out, f)
		}
	}
	return out
}

// Describe renders the field list for prompts
func (fs *FieldSet) Describe() string {
	var b strings.Builder
	for _, f := range fs.Fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		b.WriteString(" (")
		b.WriteString(string(f.Type))
		b.WriteString(")")
		if f.Label != "" {
			b.WriteString(": ")
			b.WriteString(f.Label)
		}
		if f.Name == fs.Identifier {
			b.WriteString(" [mandatory]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// DefaultFieldSet returns the real-estate listing field set
func DefaultFieldSet() *FieldSet {
	return MustFieldSet(
		FieldName,
		[]string{FieldReferenceCode, FieldAddress, FieldNeighborhood, FieldDescription},
		FieldDef{Name: FieldName, Label: "Listing title", Type: TypeText},
		FieldDef{Name: FieldDescription, Label: "Free text description", Type: TypeText},
		FieldDef{Name: FieldPrice, Label: "Asking price", Type: TypeNumber, Default: float64(0)},
		FieldDef{Name: FieldStatus, Label: "Availability status", Type: TypeText},
		FieldDef{Name: FieldEmail, Label: "Contact e-mail", Type: TypeText},
		FieldDef{Name: FieldPhone, Label: "Contact phone", Type: TypeText},
		FieldDef{Name: FieldOwnerName, Label: "Owner name", Type: TypeText},
		FieldDef{Name: FieldAddress, Label: "Street address", Type: TypeText},
		FieldDef{Name: FieldNeighborhood, Label: "Neighborhood", Type: TypeText},
		FieldDef{Name: FieldCity, Label: "City", Type: TypeText},
		FieldDef{Name: FieldState, Label: "State", Type: TypeText},
		FieldDef{Name: FieldZipCode, Label: "Postal code", Type: TypeText},
		FieldDef{Name: FieldAreaTotal, Label: "Total area in m2", Type: TypeNumber},
		FieldDef{Name: FieldAreaBuilt, Label: "Built area in m2", Type: TypeNumber},
		FieldDef{Name: FieldBedrooms, Label: "Bedrooms", Type: TypeInteger},
		FieldDef{Name: FieldBathrooms, Label: "Bathrooms", Type: TypeInteger},
		FieldDef{Name: FieldParkingSpaces, Label: "Parking spaces", Type: TypeInteger},
		FieldDef{Name: FieldListedAt, Label: "Listing date", Type: TypeDate},

		FieldDef{Name: FieldReferenceCode, Label: "Internal reference code", Type: TypeText, Extra: true},
		FieldDef{Name: FieldCategory, Label: "Category", Type: TypeText, Extra: true, Dimension: DimensionCategory},
		FieldDef{Name: FieldRegion, Label: "Region", Type: TypeText, Extra: true, Dimension: DimensionRegion},
		FieldDef{Name: FieldPropertyType, Label: "Property type", Type: TypeText, Extra: true, Dimension: DimensionPropertyType},
		FieldDef{Name: FieldFeatures, Label: "Features list", Type: TypeTags, Extra: true, Dimension: DimensionFeature},
		FieldDef{Name: FieldSuites, Label: "Suites", Type: TypeInteger, Extra: true},
		FieldDef{Name: FieldCondoFee, Label: "Monthly condominium fee", Type: TypeNumber, Extra: true},
		FieldDef{Name: FieldIPTU, Label: "Yearly property tax", Type: TypeNumber, Extra: true},
		FieldDef{Name: FieldFurnished, Label: "Furnished", Type: TypeBoolean, Extra: true},
		FieldDef{Name: FieldNotes, Label: "Internal notes", Type: TypeText, Extra: true},
	)
}
