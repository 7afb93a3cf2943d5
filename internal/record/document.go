package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// DocumentRecord is a record stored by the persistence service.
type DocumentRecord struct {
	ID              int64     `json:"id"`
	FolderName      string    `json:"folder_name"`
	TypeDocument    string    `json:"type_document"`
	NumeroCIN       string    `json:"numero_cin"`
	Nom             string    `json:"nom"`
	Prenoms         string    `json:"prenoms"`
	DateNaissance   string    `json:"date_naissance"`
	LieuNaissance   string    `json:"lieu_naissance"`
	Sexe            string    `json:"sexe"`
	DateDelivrance  string    `json:"date_delivrance"`
	DateExpiration  string    `json:"date_expiration"`
	Adresse         string    `json:"adresse"`
	PhotoVisagePath string    `json:"photo_visage_path"`
	HasFacePhoto    bool      `json:"has_face_photo"`
	DateSauvegarde  Timestamp `json:"date_sauvegarde"`
}

// Fields returns the ten CIN fields as a map keyed by field name.
func (d *DocumentRecord) Fields() map[string]string {
	return map[string]string{
		FieldTypeDocument:   d.TypeDocument,
		FieldNumeroCIN:      d.NumeroCIN,
		FieldNom:            d.Nom,
		FieldPrenoms:        d.Prenoms,
		FieldDateNaissance:  d.DateNaissance,
		FieldLieuNaissance:  d.LieuNaissance,
		FieldSexe:           d.Sexe,
		FieldDateDelivrance: d.DateDelivrance,
		FieldDateExpiration: d.DateExpiration,
		FieldAdresse:        d.Adresse,
	}
}

// SimilarityMatch is one ranked candidate returned by a face search.
// Similarity is a percentage in [0,100].
type SimilarityMatch struct {
	DocumentID int64   `json:"document_id"`
	Similarity float64 `json:"similarity"`
}

// Portrait is a face crop extracted from the recto image, base64 encoded.
type Portrait struct {
	Base64 string `json:"photo_base64"`
	Size   int    `json:"photo_size"`
}

// Recognition is the result of one recognize call.
type Recognition struct {
	Fields      RawFieldSet `json:"data"`
	ImageBase64 string      `json:"image_base64"`
	Markdown    string      `json:"markdown"`
}

// SaveResult is the persistence service's confirmation of a save.
type SaveResult struct {
	DatabaseID    int64  `json:"database_id"`
	Message       string `json:"message"`
	PortraitPath  string `json:"-"`
	AlreadyStored bool   `json:"-"`
}

// PortraitExtracted reports whether the service stored a portrait alongside the record.
func (r *SaveResult) PortraitExtracted() bool {
	return r != nil && r.PortraitPath != ""
}

// Timestamp decodes the persistence service's timestamps, which come without a zone
// ("2025-01-31T10:04:05.123456") or as RFC 3339.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// ExpiryStatus classifies a card by its expiration date relative to now.
type ExpiryStatus string

const (
	StatusUnknown      ExpiryStatus = "unknown"
	StatusValid        ExpiryStatus = "valid"
	StatusExpiringSoon ExpiryStatus = "expiring_soon"
	StatusExpired      ExpiryStatus = "expired"
)

// expiringSoonWindow is how close to expiration a card is flagged.
const expiringSoonWindow = 30 * 24 * time.Hour

// Status returns the expiry status of an expiration date in DD/MM/YYYY form.
func Status(expiration string, now time.Time) ExpiryStatus {
	exp, ok := ParseDate(expiration)
	if !ok {
		return StatusUnknown
	}
	left := exp.Sub(now)
	switch {
	case left < 0:
		return StatusExpired
	case left < expiringSoonWindow:
		return StatusExpiringSoon
	default:
		return StatusValid
	}
}
