package migrations

import "strings"

// SplitStatements breaks a migration file into executable statements.
//
// The split is line-based by contract: blank lines are dropped, lines
// whose trimmed form starts with "--" are dropped even mid-statement,
// and a line whose trimmed form ends with ";" closes the current
// statement. A trailing statement without a terminating semicolon is
// still emitted. Semicolons inside string literals or dollar-quoted
// bodies will mis-split; migration files are expected to keep one
// statement per semicolon-terminated line group.
func SplitStatements(sql string) []string {
	var statements []string
	var buf []string

	for _, raw := range strings.Split(sql, "\n") {
		stripped := strings.TrimSpace(raw)
		if stripped == "" || strings.HasPrefix(stripped, "--") {
			continue
		}

		buf = append(buf, raw)
		if strings.HasSuffix(stripped, ";") {
			stmt := strings.TrimRight(strings.TrimRight(strings.Join(buf, "\n"), " \t\r\n"), ";")
			if stmt != "" {
				statements = append(statements, stmt)
			}
			buf = nil
		}
	}

	if len(buf) > 0 {
		if stmt := strings.TrimSpace(strings.Join(buf, "\n")); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
