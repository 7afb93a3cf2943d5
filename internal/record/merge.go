package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/cin-capture/internal/constants"
)

// ValidityYears is how long a card stays valid after its delivery date.
const ValidityYears = constants.ValidityYears

// Merge combines a recto and a verso field set into one record.
//
// The result starts as a copy of recto. Each verso-owned key with a non-empty value in
// verso is overlaid. When the result then has a delivery date but no expiration date,
// and verso did not carry an expiration key at all, the expiration is derived as the
// delivery date plus ValidityYears. A delivery date that cannot be parsed leaves the
// expiration unset.
func Merge(recto, verso RawFieldSet) CombinedRecord {
	combined := CombinedRecord(recto.Clone())

	for _, key := range VersoFields {
		if v := verso[key]; v != "" {
			combined[key] = v
		}
	}

	_, versoHasExpiration := verso[FieldDateExpiration]
	if combined[FieldDateDelivrance] != "" && combined[FieldDateExpiration] == "" && !versoHasExpiration {
		if exp, ok := DeriveExpiration(combined[FieldDateDelivrance]); ok {
			combined[FieldDateExpiration] = exp
		}
	}

	return combined
}

// DeriveExpiration parses a DD/MM/YYYY delivery date and returns the date ValidityYears
// later in the same format. Out-of-range day or month values roll over the way the
// calendar does (31/04 is 01/05). ok is false when the input is not three unsigned
// numeric components.
func DeriveExpiration(delivery string) (string, bool) {
	t, ok := ParseDate(delivery)
	if !ok {
		return "", false
	}
	return FormatDate(t.AddDate(ValidityYears, 0, 0)), true
}

// ParseDate parses a day-first, slash separated date. The components are normalised
// with time.Date, so calendar overflow is applied before any arithmetic.
func ParseDate(s string) (time.Time, bool) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return time.Time{}, false
	}

	var nums [3]int
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.ContainsFunc(p, func(r rune) bool { return r < '0' || r > '9' }) {
			return time.Time{}, false
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, false
		}
		nums[i] = n
	}

	day, month, year := nums[0], nums[1], nums[2]
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// FormatDate renders t as zero-padded DD/MM/YYYY.
func FormatDate(t time.Time) string {
	return fmt.Sprintf("%02d/%02d/%04d", t.Day(), int(t.Month()), t.Year())
}
