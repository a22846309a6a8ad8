package sqljob

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier ensures a relation or view name is a safe SQL
// identifier before it gets spliced into a statement.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// BuildRefreshSQL builds a safe REFRESH MATERIALIZED VIEW CONCURRENTLY
// statement for a bare view name.
func BuildRefreshSQL(viewName string) (string, error) {
	if err := ValidateIdentifier(viewName); err != nil {
		return "", err
	}
	return "REFRESH MATERIALIZED VIEW CONCURRENTLY " + quoteIdent(viewName), nil
}
