package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateRecordID creates the record ID. Rows carrying a reference code get a
// stable ID so re-imports hit the same record; all others get a random one.
func GenerateRecordID(tenantID, referenceCode string) string {
	referenceCode = strings.ToLower(strings.TrimSpace(referenceCode))
	if referenceCode == "" {
		return "rec_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	input := fmt.Sprintf("%s|%s", strings.TrimSpace(tenantID), referenceCode)
	hash := sha256.Sum256([]byte(input))
	return "rec_" + hex.EncodeToString(hash[:])[:16]
}

// GenerateDimensionID creates a deterministic ID for a dimension entity
func GenerateDimensionID(tenantID, kind, name string) string {
	input := fmt.Sprintf("%s|%s|%s", tenantID, kind, name)
	hash := sha256.Sum256([]byte(input))
	return "dim_" + hex.EncodeToString(hash[:])[:16]
}

// GenerateImportRunID creates a unique ID for an import run
func GenerateImportRunID() string {
	return "run_" + time.Now().UTC().Format("20060102T150405") + "_" + uuid.NewString()[:8]
}

// ValidateFieldType checks if the field type is known
func ValidateFieldType(fieldType FieldType) bool {
	validTypes := []FieldType{
		TypeText,
		TypeNumber,
		TypeInteger,
		TypeBoolean,
		TypeDate,
		TypeTags,
	}

	for _, validType := range validTypes {
		if fieldType == validType {
			return true
		}
	}
	return false
}

// ValidateFormat checks if the source format is supported
func ValidateFormat(format string) bool {
	switch format {
	case FormatCSV, FormatXLSX, FormatHTML:
		return true
	}
	return false
}

// IsValidEmail reports whether a sample cell reads as a single address
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	if strings.ContainsAny(email, " ,;") {
		return false
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return false
	}
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1
}

// IsValidPhoneNumber accepts 10 to 13 digits (area code, optional country
// code 55) once punctuation is dropped.
func IsValidPhoneNumber(phone string) bool {
	digits := 0
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune(" -().+", r):
		default:
			return false
		}
	}
	return digits >= 10 && digits <= 13
}

// Truncate shortens s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n]))
}
