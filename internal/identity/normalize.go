package identity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeLogin canonicalises logins and emails so that visually identical
// values collide on the unique indexes. A Caser is stateful, so one is built
// per call.
func NormalizeLogin(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}
