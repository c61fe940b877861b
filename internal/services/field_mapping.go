package services

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// HeaderRule maps a column to a canonical field. A rule fires when Pattern
// matches the normalized header, when Raw accepts the header as written, or,
// for rules with neither, when Sample accepts the column values.
type HeaderRule struct {
	Target  string
	Pattern *regexp.Regexp
	// Raw sees the header before normalization strips symbols from it
	Raw    func(header string) bool
	Sample func(values []string) bool
}

func (r HeaderRule) matches(header, normalized string, values []string) bool {
	switch {
	case r.Pattern != nil:
		return r.Pattern.MatchString(normalized)
	case r.Raw != nil:
		return r.Raw(header)
	}
	return r.Sample != nil && r.Sample(values)
}

func headerRule(target, pattern string) HeaderRule {
	return HeaderRule{Target: target, Pattern: regexp.MustCompile(pattern)}
}

// DefaultHeaderRules is the ordered rule list for the listing field set.
// Specific rules come before generic ones: "valor do condominio" must hit
// condo_fee before price, "nome do proprietario" owner_name before name.
func DefaultHeaderRules() []HeaderRule {
	return []HeaderRule{
		headerRule(models.FieldEmail, `\be ?mail\b|\bcorreio eletronico\b`),
		headerRule(models.FieldPhone, `\b(telefone|tel|fone|celular|cel|whatsapp|whats|phone|mobile)\b`),
		headerRule(models.FieldOwnerName, `\b(proprietario|proprietaria|dono|owner|locador)\b`),
		headerRule(models.FieldCondoFee, `\b(condominio|condo)\b`),
		headerRule(models.FieldIPTU, `\biptu\b`),
		headerRule(models.FieldReferenceCode, `\b(codigo|cod|referencia|ref|code|sku|id)\b`),
		headerRule(models.FieldAreaBuilt, `\barea (construida|util|privativa|built)\b|\bbuilt area\b`),
		headerRule(models.FieldAreaTotal, `\b(area|metragem|m2|tamanho|size)\b`),
		headerRule(models.FieldSuites, `\bsuites?\b`),
		headerRule(models.FieldBedrooms, `\b(quartos?|dormitorios?|dorms?|bedrooms?|beds?)\b`),
		headerRule(models.FieldBathrooms, `\b(banheiros?|wc|bathrooms?|baths?)\b`),
		headerRule(models.FieldParkingSpaces, `\b(vagas?|garagem|garagens|parking)\b`),
		headerRule(models.FieldPrice, `\b(preco|valor|price|venda|aluguel)\b`),
		headerRule(models.FieldZipCode, `\b(cep|zip|postal)\b`),
		headerRule(models.FieldNeighborhood, `\b(bairro|neighbou?rhood|district)\b`),
		headerRule(models.FieldCity, `\b(cidade|municipio|city)\b`),
		headerRule(models.FieldState, `\b(estado|uf|state)\b`),
		headerRule(models.FieldAddress, `\b(endereco|logradouro|rua|address|street)\b`),
		headerRule(models.FieldRegion, `\b(regiao|zona|region)\b`),
		headerRule(models.FieldPropertyType, `\b(tipo|type|tipologia)\b`),
		headerRule(models.FieldCategory, `\b(categoria|category|segmento)\b`),
		headerRule(models.FieldFeatures, `\b(caracteristicas|features|comodidades|diferenciais|amenities|tags|infraestrutura)\b`),
		headerRule(models.FieldFurnished, `\b(mobiliado|mobilia|furnished)\b`),
		headerRule(models.FieldStatus, `\b(status|situacao|disponibilidade)\b`),
		headerRule(models.FieldListedAt, `\b(data|date|cadastro|publicacao|listed)\b`),
		headerRule(models.FieldDescription, `\b(descricao|description|detalhes|details|sobre)\b`),
		headerRule(models.FieldNotes, `\b(observacoes|observacao|obs|notas?|notes?|comentarios?)\b`),
		headerRule(models.FieldName, `\b(nome|titulo|name|title|imovel|empreendimento|anuncio|listing)\b`),

		{Target: models.FieldPrice, Raw: hasCurrencySymbol},
		{Target: models.FieldEmail, Sample: mostly(models.IsValidEmail)},
		{Target: models.FieldPhone, Sample: mostly(models.IsValidPhoneNumber)},
		{Target: models.FieldPrice, Sample: mostly(hasCurrencySymbol)},
	}
}

// DefaultAliases maps normalized spellings to canonical fields. Used to
// canonicalize free-form AI suggestions.
func DefaultAliases() map[string]string {
	return map[string]string{
		"nome": models.FieldName, "titulo": models.FieldName, "title": models.FieldName, "imovel": models.FieldName,
		"descricao": models.FieldDescription, "desc": models.FieldDescription,
		"preco": models.FieldPrice, "valor": models.FieldPrice, "value": models.FieldPrice, "cost": models.FieldPrice,
		"situacao": models.FieldStatus,
		"e mail": models.FieldEmail, "mail": models.FieldEmail,
		"telefone": models.FieldPhone, "celular": models.FieldPhone, "whatsapp": models.FieldPhone, "telephone": models.FieldPhone,
		"proprietario": models.FieldOwnerName, "owner": models.FieldOwnerName,
		"endereco": models.FieldAddress, "logradouro": models.FieldAddress, "street": models.FieldAddress,
		"bairro": models.FieldNeighborhood,
		"cidade": models.FieldCity, "municipio": models.FieldCity,
		"estado": models.FieldState, "uf": models.FieldState,
		"cep": models.FieldZipCode, "zip": models.FieldZipCode, "postal code": models.FieldZipCode, "zipcode": models.FieldZipCode,
		"area": models.FieldAreaTotal, "m2": models.FieldAreaTotal, "area m2": models.FieldAreaTotal, "total area": models.FieldAreaTotal, "metragem": models.FieldAreaTotal,
		"area construida": models.FieldAreaBuilt, "area util": models.FieldAreaBuilt, "built area": models.FieldAreaBuilt,
		"quartos": models.FieldBedrooms, "dormitorios": models.FieldBedrooms, "rooms": models.FieldBedrooms,
		"banheiros": models.FieldBathrooms,
		"vagas": models.FieldParkingSpaces, "garagem": models.FieldParkingSpaces, "parking": models.FieldParkingSpaces,
		"data": models.FieldListedAt, "date": models.FieldListedAt,
		"codigo": models.FieldReferenceCode, "referencia": models.FieldReferenceCode, "ref": models.FieldReferenceCode, "sku": models.FieldReferenceCode, "code": models.FieldReferenceCode,
		"categoria": models.FieldCategory,
		"regiao": models.FieldRegion, "zona": models.FieldRegion,
		"tipo": models.FieldPropertyType, "type": models.FieldPropertyType, "tipo de imovel": models.FieldPropertyType,
		"caracteristicas": models.FieldFeatures, "tags": models.FieldFeatures, "amenities": models.FieldFeatures, "comodidades": models.FieldFeatures,
		"condominio": models.FieldCondoFee, "condo": models.FieldCondoFee,
		"mobiliado": models.FieldFurnished,
		"observacoes": models.FieldNotes, "obs": models.FieldNotes, "notas": models.FieldNotes,
	}
}

var ignoredTokens = map[string]bool{
	"": true, "ignore": true, "ignored": true, "none": true, "null": true, "skip": true, "n a": true, "ignorar": true,
}

// FieldMapper suggests, merges and validates column mappings
type FieldMapper struct {
	fields  *models.FieldSet
	rules   []HeaderRule
	aliases map[string]string
}

// NewFieldMapper creates a mapper for the field set. Extra aliases are added
// on top of DefaultAliases; entries whose target is not in the set are dropped.
func NewFieldMapper(fields *models.FieldSet, aliases map[string]string) *FieldMapper {
	if fields == nil {
		fields = models.DefaultFieldSet()
	}

	m := &FieldMapper{
		fields:  fields,
		aliases: make(map[string]string),
	}

	for alias, target := range DefaultAliases() {
		m.addAlias(alias, target)
	}
	for alias, target := range aliases {
		m.addAlias(alias, target)
	}
	for _, name := range fields.Names() {
		m.addAlias(name, name)
	}

	return m.WithRules(DefaultHeaderRules())
}

// WithRules replaces the header rules. Rules targeting unknown fields are dropped.
func (m *FieldMapper) WithRules(rules []HeaderRule) *FieldMapper {
	m.rules = m.rules[:0]
	for _, r := range rules {
		if m.fields.Has(r.Target) {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

// Fields returns the field set the mapper works against
func (m *FieldMapper) Fields() *models.FieldSet {
	return m.fields
}

func (m *FieldMapper) addAlias(alias, target string) {
	if !m.fields.Has(target) {
		return
	}
	m.aliases[NormalizeHeader(alias)] = target
}

// NormalizeHeader lowercases, strips diacritics, turns punctuation into spaces
// and collapses whitespace. "Área m²" becomes "area m2".
func NormalizeHeader(header string) string {
	s := stripDiacritics(strings.ToLower(header))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// stripDiacritics applies compatibility decomposition and removes combining
// marks, so superscripts fold to digits as well
func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// MatchHeader runs the ordered rules against one column; the first match wins
func (m *FieldMapper) MatchHeader(header string, values []string) (string, bool) {
	normalized := NormalizeHeader(header)
	for _, r := range m.rules {
		if r.matches(header, normalized, values) {
			return r.Target, true
		}
	}
	return "", false
}

// Suggest maps every header with the heuristic rules. A target already taken
// by an earlier column is not reused unless the field accepts several columns.
func (m *FieldMapper) Suggest(headers []string, samples [][]string) models.MappingSuggestion {
	suggestion := models.MappingSuggestion{
		Mapping: make(models.ColumnMapping, len(headers)),
		Sources: make(map[string]string, len(headers)),
	}
	used := make(map[string]bool)

	for i, header := range headers {
		target, ok := m.MatchHeader(header, columnValues(samples, i))
		if ok && used[target] && !m.appendable(target) {
			ok = false
		}
		if !ok {
			suggestion.Mapping[header] = models.Ignored
			suggestion.Unmapped = append(suggestion.Unmapped, header)
			continue
		}
		used[target] = true
		suggestion.Mapping[header] = target
		suggestion.Sources[header] = models.MappingSourceHeuristic
	}

	return suggestion
}

// IdentifierColumns returns the columns whose header looks like the
// identifier field, regardless of how they are mapped
func (m *FieldMapper) IdentifierColumns(headers []string) []int {
	var cols []int
	for i, header := range headers {
		normalized := NormalizeHeader(header)
		for _, r := range m.rules {
			if r.Pattern == nil || !r.Pattern.MatchString(normalized) {
				continue
			}
			if r.Target == m.fields.Identifier {
				cols = append(cols, i)
			}
			break
		}
	}
	return cols
}

// Canonicalize resolves a free-form field name to a canonical field.
// It returns Ignored for explicit "ignore" tokens and false for unknown names.
func (m *FieldMapper) Canonicalize(value string) (string, bool) {
	if m.fields.Has(value) || value == models.Ignored {
		return value, true
	}
	normalized := NormalizeHeader(value)
	if ignoredTokens[normalized] {
		return models.Ignored, true
	}
	if target, ok := m.aliases[normalized]; ok {
		return target, true
	}
	return "", false
}

// Merge combines mappings with precedence user > AI > heuristic. Suggestions
// never steal a single-column target that a higher precedence source already
// holds; conflicts inside the user mapping are left for Validate to report.
func (m *FieldMapper) Merge(headers []string, heuristic, ai, user models.ColumnMapping) models.MappingSuggestion {
	merged := models.MappingSuggestion{
		Mapping: make(models.ColumnMapping, len(headers)),
		Sources: make(map[string]string, len(headers)),
	}
	used := make(map[string]bool)

	assigned := make(map[string]bool, len(headers))
	for _, h := range headers {
		if target, ok := user[h]; ok {
			if target == "" {
				target = models.Ignored
			}
			merged.Mapping[h] = target
			merged.Sources[h] = models.MappingSourceUser
			assigned[h] = true
			if target != models.Ignored {
				used[target] = true
			}
		}
	}

	for _, layer := range []struct {
		source  string
		mapping models.ColumnMapping
	}{
		{models.MappingSourceAI, ai},
		{models.MappingSourceHeuristic, heuristic},
	} {
		for _, h := range headers {
			if assigned[h] {
				continue
			}
			target := layer.mapping.Target(h)
			if target == models.Ignored || (used[target] && !m.appendable(target)) {
				continue
			}
			merged.Mapping[h] = target
			merged.Sources[h] = layer.source
			assigned[h] = true
			used[target] = true
		}
	}

	for _, h := range headers {
		if !assigned[h] {
			merged.Mapping[h] = models.Ignored
			merged.Unmapped = append(merged.Unmapped, h)
		}
	}

	return merged
}

// Validate checks a final mapping before any side effect: every target must
// be canonical, single-column targets may appear once, and some column must
// be able to provide the identifier.
func (m *FieldMapper) Validate(mapping models.ColumnMapping, headers []string) error {
	unknown := make(map[string]string)
	byTarget := make(map[string][]string)

	for _, h := range headers {
		target := mapping.Target(h)
		if target == models.Ignored {
			continue
		}
		if !m.fields.Has(target) {
			unknown[h] = target
			continue
		}
		byTarget[target] = append(byTarget[target], h)
	}

	if len(unknown) > 0 {
		return &UnknownTargetError{Targets: unknown}
	}

	conflicts := make(map[string][]string)
	for target, cols := range byTarget {
		if len(cols) > 1 && !m.appendable(target) {
			conflicts[target] = cols
		}
	}
	if len(conflicts) > 0 {
		return &DuplicateTargetError{Conflicts: conflicts}
	}

	if len(byTarget[m.fields.Identifier]) > 0 || len(m.IdentifierColumns(headers)) > 0 {
		return nil
	}
	for _, fallback := range m.fields.IdentifierFallbacks {
		if len(byTarget[fallback]) > 0 {
			return nil
		}
	}
	return ErrNoIdentifier
}

func (m *FieldMapper) appendable(target string) bool {
	def, ok := m.fields.Lookup(target)
	return ok && def.Appendable()
}

func columnValues(rows [][]string, col int) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if col < len(row) {
			values = append(values, row[col])
		}
	}
	return values
}

// mostly accepts a column when at least half of its non-empty values pass
func mostly(pred func(string) bool) func([]string) bool {
	return func(values []string) bool {
		var seen, ok int
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			seen++
			if pred(v) {
				ok++
			}
		}
		return seen > 0 && ok*2 >= seen
	}
}

func hasCurrencySymbol(v string) bool {
	return strings.Contains(v, "R$") || strings.ContainsAny(v, "$€£")
}
