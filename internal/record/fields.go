// Package record holds the CIN field model shared by the capture workflow, the listing
// and the collaborator clients: field sets, the reconciled record, stored documents and
// similarity matches.
package record

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Field names produced by the recognition service.
const (
	FieldTypeDocument   = "type_document"
	FieldNumeroCIN      = "numero_cin"
	FieldNom            = "nom"
	FieldPrenoms        = "prenoms"
	FieldDateNaissance  = "date_naissance"
	FieldLieuNaissance  = "lieu_naissance"
	FieldSexe           = "sexe"
	FieldDateDelivrance = "date_delivrance"
	FieldDateExpiration = "date_expiration"
	FieldAdresse        = "adresse"
)

// RectoFields are the keys the front side of the card carries.
var RectoFields = []string{
	FieldTypeDocument,
	FieldNumeroCIN,
	FieldNom,
	FieldPrenoms,
	FieldDateNaissance,
	FieldLieuNaissance,
	FieldSexe,
}

// VersoFields are the keys owned by the back side. Only these are overlaid during a merge.
var VersoFields = []string{
	FieldDateDelivrance,
	FieldDateExpiration,
	FieldAdresse,
}

// SaveFields is the exact, ordered key set submitted to the persistence service.
var SaveFields = append(append([]string{}, RectoFields...), VersoFields...)

// RawFieldSet is the field mapping returned by one recognition call for one side.
type RawFieldSet map[string]string

// Clone returns a shallow copy. A nil set clones to an empty, non-nil set.
func (s RawFieldSet) Clone() RawFieldSet {
	out := make(RawFieldSet, len(s))
	maps.Copy(out, s)
	return out
}

// CombinedRecord is the reconciled recto+verso field set the operator edits before saving.
type CombinedRecord map[string]string

// Clone returns a shallow copy.
func (r CombinedRecord) Clone() CombinedRecord {
	out := make(CombinedRecord, len(r))
	maps.Copy(out, r)
	return out
}

// SavePayload is the ten-field mapping sent to the persistence service.
type SavePayload map[string]string

// BuildSavePayload restricts a record to SaveFields, substituting "" for missing keys.
func BuildSavePayload(r CombinedRecord) SavePayload {
	payload := make(SavePayload, len(SaveFields))
	for _, key := range SaveFields {
		payload[key] = r[key]
	}
	return payload
}

// IsVersoField reports whether key belongs to the back side of the card.
func IsVersoField(key string) bool {
	return slices.Contains(VersoFields, key)
}

// FromAny converts a decoded JSON object into a RawFieldSet. Strings are kept as-is,
// null becomes "", other scalars use their default formatting.
func FromAny(data map[string]any) RawFieldSet {
	out := make(RawFieldSet, len(data))
	for key, value := range data {
		switch v := value.(type) {
		case nil:
			out[key] = ""
		case string:
			out[key] = v
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return out
}
