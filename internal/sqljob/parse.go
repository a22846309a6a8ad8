package sqljob

import "strings"

// ParseMetadata extracts the annotation block from the top of a job file.
//
// The block is the run of leading lines whose trimmed form starts with
// "--"; the first line that does not (blank lines included) ends the
// scan, so annotations below the first statement are never read. Within
// the block, "@key value" sets a key and makes it active, "|text"
// appends a continuation line to the active key, and a bare "--" is
// skipped without ending the block. Redeclaring a key replaces its
// value and moves the active key.
func ParseMetadata(lines []string) map[string]string {
	meta := make(map[string]string)
	active := ""

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "--") {
			break
		}
		content := strings.TrimSpace(line[2:])
		if content == "" {
			continue
		}
		switch {
		case strings.HasPrefix(content, "@"):
			key, value, _ := strings.Cut(content[1:], " ")
			meta[key] = strings.TrimSpace(value)
			active = key
		case strings.HasPrefix(content, "|"):
			if active != "" {
				meta[active] += "\n" + strings.TrimLeft(content[1:], " \t")
			}
		}
	}
	return meta
}
