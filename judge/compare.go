package judge

import (
	"fmt"
	"html"
	"reflect"
	"strings"

	"github.com/elmanelman/sql-judge/engine"
)

// Compare checks actual against expected positionally: table count, then
// per table column count, row count and every cell in order. Both result
// sets are expected to be normalized. It returns Accepted with an empty
// message, or WrongAnswer with an HTML diagnostic.
func Compare(expected, actual *engine.ResultSet) (Status, string) {
	if len(expected.Tables) != len(actual.Tables) {
		return WrongAnswer, fmt.Sprintf(
			"<h5>Incorrect number of tables</h5>\n<p>Expected: %d</p>\n<p>Actual: %d</p>\n",
			len(expected.Tables), len(actual.Tables))
	}

	for t := range expected.Tables {
		want, got := &expected.Tables[t], &actual.Tables[t]

		if len(want.Columns) != len(got.Columns) {
			return WrongAnswer, fmt.Sprintf(
				"<h5>Incorrect number of columns in table %d</h5>\n<p>Expected: %d</p>\n%s\n<p>Actual: %d</p>\n%s\n",
				t+1, len(want.Columns), TableHTML(want), len(got.Columns), TableHTML(got))
		}

		if len(want.Rows) != len(got.Rows) {
			return WrongAnswer, fmt.Sprintf(
				"<h5>Incorrect number of rows in table %d</h5>\n<p>Expected: %d</p>\n%s\n<p>Actual: %d</p>\n%s\n",
				t+1, len(want.Rows), TableHTML(want), len(got.Rows), TableHTML(got))
		}

		for r := range want.Rows {
			for c := range want.Columns {
				if !cellEqual(want.Rows[r], got.Rows[r], c) {
					return WrongAnswer, fmt.Sprintf(
						"<h5>Wrong answer in table %d</h5>\n<p>Correct result</p>\n%s\n<p>Your result</p>\n%s\n",
						t+1, TableHTML(want), TableHTML(got))
				}
			}
		}
	}

	return Accepted, ""
}

// cellEqual tolerates ragged rows: a missing cell only equals another
// missing cell.
func cellEqual(want, got []any, c int) bool {
	if c >= len(want) || c >= len(got) {
		return c >= len(want) && c >= len(got)
	}
	return reflect.DeepEqual(want[c], got[c])
}

// TableHTML renders a table with a bold header row.
func TableHTML(t *engine.Table) string {
	var b strings.Builder
	b.WriteString("<table>")

	b.WriteString("<tr>")
	for _, col := range t.Columns {
		fmt.Fprintf(&b, "<td><b>%s</b></td>", html.EscapeString(col))
	}
	b.WriteString("</tr>")

	for _, row := range t.Rows {
		b.WriteString("<tr>")
		for c := range t.Columns {
			var v any
			if c < len(row) {
				v = row[c]
			}
			fmt.Fprintf(&b, "<td>%s</td>", html.EscapeString(cellText(v)))
		}
		b.WriteString("</tr>")
	}

	b.WriteString("</table>")
	return b.String()
}

func cellText(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
