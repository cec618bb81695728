package id

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequisitionPrefix starts every credential-file key that holds a requisition id.
const RequisitionPrefix = "REQUISITION_ID_"

// timestampLayout is used in generated export file names.
const timestampLayout = "20060102_150405"

// RequisitionKey returns the credential-file key for an institution,
// e.g. "REQUISITION_ID_INTESA_SANPAOLO_BCITITMM".
func RequisitionKey(institutionID string) string {
	return RequisitionPrefix + institutionID
}

// ParseRequisitionKey extracts the institution id from a requisition key.
// The id may itself contain underscores, so only the prefix is stripped.
func ParseRequisitionKey(key string) (string, bool) {
	inst, ok := strings.CutPrefix(key, RequisitionPrefix)
	if !ok || inst == "" {
		return "", false
	}
	return inst, true
}

// ValidInstitutionID reports whether id can be embedded in a credential-file
// key. Dotenv keys allow letters, digits, underscores and dots only.
func ValidInstitutionID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !(r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}

// NewReference returns a fresh reference for a consent session.
func NewReference() string {
	return uuid.NewString()
}

// DatedPath inserts suffix and a timestamp before the extension of path:
// DatedPath("out/transactions.csv", "", t) -> "out/transactions_20250103_141500.csv".
// Paths without an extension get ".csv".
func DatedPath(path, suffix string, t time.Time) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	if ext == "" {
		ext = ".csv"
	}
	return fmt.Sprintf("%s%s_%s%s", base, suffix, t.Format(timestampLayout), ext)
}
