package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// AIOptions selects the model and token budget for oracle calls
type AIOptions struct {
	Model     string
	MaxTokens int
}

const mappingSystemPrompt = `You map spreadsheet columns of a real-estate CRM import to canonical field names.
Answer with a single JSON object and nothing else.`

// SuggestWithAI asks the oracle for a column mapping. The response keys are
// re-aligned to the real headers: first by case and whitespace insensitive
// match, then by position. Values are canonicalized through the alias table;
// anything that is not a canonical field is returned as an unknown suggestion.
func (m *FieldMapper) SuggestWithAI(ctx context.Context, oracle Oracle, opts AIOptions, headers []string, samples [][]string, logger *zap.Logger) (models.MappingSuggestion, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	suggestion := models.MappingSuggestion{
		Mapping: make(models.ColumnMapping, len(headers)),
		Sources: make(map[string]string, len(headers)),
	}

	prompt, err := m.buildMappingPrompt(headers, samples)
	if err != nil {
		return suggestion, err
	}

	raw, err := oracle.Complete(ctx, CompletionRequest{
		System:    mappingSystemPrompt,
		Prompt:    prompt,
		MaxTokens: opts.MaxTokens,
		Model:     opts.Model,
	})
	if err != nil {
		return suggestion, fmt.Errorf("failed to get mapping suggestion: %w", err)
	}

	pairs, err := ParseJSONObject(raw)
	if err != nil {
		logger.Warn("Unparsable mapping suggestion", zap.String("raw", truncateForLog(raw)))
		return suggestion, fmt.Errorf("%s: %w", models.ReasonUnparsableAI, err)
	}

	aligned := alignSuggestionKeys(headers, pairs)
	for i, header := range headers {
		pair, ok := aligned[i]
		if !ok {
			continue
		}
		value := strings.TrimSpace(stringify(pair.Value))
		target, known := m.Canonicalize(value)
		if !known {
			suggestion.Unknown = append(suggestion.Unknown, models.UnknownSuggestion{Column: header, Value: value})
			continue
		}
		suggestion.Mapping[header] = target
		if target != models.Ignored {
			suggestion.Sources[header] = models.MappingSourceAI
		}
	}

	for _, header := range headers {
		if _, ok := suggestion.Mapping[header]; !ok {
			suggestion.Unmapped = append(suggestion.Unmapped, header)
		}
	}

	logger.Info("AI mapping suggestion parsed",
		zap.Int("columns", len(headers)),
		zap.Int("mapped", len(suggestion.Sources)),
		zap.Int("unknown", len(suggestion.Unknown)),
	)

	return suggestion, nil
}

func (m *FieldMapper) buildMappingPrompt(headers []string, samples [][]string) (string, error) {
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("failed to marshal headers: %w", err)
	}
	samplesJSON, err := json.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sample rows: %w", err)
	}

	return fmt.Sprintf(`Columns (in order): %s

Sample rows (same column order): %s

Canonical fields:
%s
Return a JSON object whose keys are the column names exactly as given and whose
values are one canonical field name, or "ignored" for columns that match none.
Never assign the same field to two columns unless its type is tags.`,
		headersJSON, samplesJSON, m.fields.Describe()), nil
}

// alignSuggestionKeys assigns each response pair to a header index
func alignSuggestionKeys(headers []string, pairs []jsonPair) map[int]jsonPair {
	byKey := make(map[string]int, len(headers))
	for i, h := range headers {
		key := looseKey(h)
		if _, dup := byKey[key]; !dup {
			byKey[key] = i
		}
	}

	aligned := make(map[int]jsonPair, len(pairs))
	var unmatched []int
	for pos, pair := range pairs {
		if i, ok := byKey[looseKey(pair.Key)]; ok {
			if _, taken := aligned[i]; !taken {
				aligned[i] = pair
				continue
			}
		}
		unmatched = append(unmatched, pos)
	}

	// the oracle sometimes rewrites header text; fall back to its position
	for _, pos := range unmatched {
		if pos < len(headers) {
			if _, taken := aligned[pos]; !taken {
				aligned[pos] = pairs[pos]
			}
		}
	}

	return aligned
}

func looseKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func truncateForLog(s string) string {
	return models.Truncate(s, 500)
}
