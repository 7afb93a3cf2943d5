package search

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/kozaktomas/cin-capture/internal/record"
)

// FilterLocal keeps documents whose nom, prenoms or numero_cin contains query, ignoring
// case. A blank query returns docs unchanged.
func FilterLocal(docs []record.DocumentRecord, query string) []record.DocumentRecord {
	if strings.TrimSpace(query) == "" {
		return docs
	}

	fold := cases.Fold()
	needle := fold.String(query)

	out := make([]record.DocumentRecord, 0, len(docs))
	for _, d := range docs {
		for _, field := range []string{d.Nom, d.Prenoms, d.NumeroCIN} {
			if strings.Contains(fold.String(field), needle) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
