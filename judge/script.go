package judge

import (
	"regexp"
	"strconv"
	"strings"
)

// SandboxName is the database name of the sandbox for a test database.
func SandboxName(testDatabaseID int64) string {
	return "db" + strconv.FormatInt(testDatabaseID, 10)
}

var (
	// a CREATE DATABASE statement ends at its semicolon or, in semicolon-less
	// batch scripts, at the first line that is not one of its clauses
	createDatabaseRe = regexp.MustCompile(`(?im)^[ \t]*CREATE[ \t]+DATABASE\b[^;\n]*` +
		`(?:\n(?:[ \t]+|\(|(?:ON|LOG|COLLATE|WITH|CONTAINMENT|CHARACTER|CHARSET|DEFAULT|OWNER|ENCODING|TEMPLATE|LOCALE|TABLESPACE)\b)[^;\n]*)*;?`)
	connectRe        = regexp.MustCompile(`(?im)^[ \t]*\\c(?:onnect)?\b[^\n]*$`)
	useRe            = regexp.MustCompile("(?im)^[ \\t]*USE\\s+(?:\\[[^\\]]*\\]|`[^`]*`|\"[^\"]*\"|\\w+)[ \\t]*;?")
	batchSeparatorRe = regexp.MustCompile(`(?im)^[ \t]*GO[ \t]*$`)
	blankLineRe      = regexp.MustCompile(`\n[ \t]*\n`)
	copyUnitRe       = regexp.MustCompile(`(?i)^\s*COPY\b`)
)

// SplitCreationScript separates a stored creation script into the statement
// creating the sandbox database (run on the administrative connection) and
// the schema/data part (run on the sandbox connection). Any database
// creation, psql \c directive or USE statement in the script is dropped.
// COPY data blocks are kept verbatim.
func SplitCreationScript(script, name string) (createDatabase, schema string) {
	script = strings.ReplaceAll(script, "\r\n", "\n")
	var kept []string
	for _, unit := range splitUnits(script) {
		if !copyUnitRe.MatchString(unit) {
			unit = stripDirectives(unit)
		}
		if strings.TrimSpace(unit) != "" {
			kept = append(kept, unit)
		}
	}
	return "CREATE DATABASE " + name + ";", strings.Join(kept, "\n\n")
}

func stripDirectives(unit string) string {
	unit = createDatabaseRe.ReplaceAllString(unit, "")
	unit = connectRe.ReplaceAllString(unit, "")
	unit = useRe.ReplaceAllString(unit, "")
	return strings.TrimSpace(unit)
}

// splitUnits cuts the schema part into independently executed units at
// blank lines and GO batch separators.
func splitUnits(schema string) []string {
	schema = batchSeparatorRe.ReplaceAllString(schema, "")
	var units []string
	for _, u := range blankLineRe.Split(schema, -1) {
		// keep trailing tabs: they can be part of a COPY payload
		if strings.TrimSpace(u) != "" {
			units = append(units, strings.Trim(u, "\n"))
		}
	}
	return units
}
