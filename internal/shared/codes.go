package shared

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upperCaser = cases.Upper(language.Und)

// NormalizeCode canonicalises enum-like codes such as fuel types and payment methods.
// "premium diesel" and " Premium_Diesel " both become "PREMIUM_DIESEL".
func NormalizeCode(raw string) string {
	fields := strings.FieldsFunc(strings.TrimSpace(raw), func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	})
	return upperCaser.String(strings.Join(fields, "_"))
}
