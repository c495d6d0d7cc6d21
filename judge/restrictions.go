package judge

import (
	"fmt"
	"html"
	"io"
	"strings"

	nethtml "golang.org/x/net/html"
)

const restrictedFunctionsMessage = `<h5>Answer contains functions starting with \</h5>`

// lineBreakTags end a line when stripped from the answer text.
var lineBreakTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "pre": true, "tr": true,
}

// StripHTML turns the rich-text answer into plain SQL: tags become
// whitespace (line breaks for block tags) and entities are decoded.
func StripHTML(s string) string {
	var b strings.Builder
	z := nethtml.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case nethtml.ErrorToken:
			if z.Err() == io.EOF {
				return b.String()
			}
			// malformed markup, keep what is left as text
			b.Write(z.Raw())
			return b.String()
		case nethtml.TextToken:
			// editors emit &nbsp; between keywords
			b.WriteString(strings.ReplaceAll(string(z.Text()), "\u00a0", " "))
		case nethtml.StartTagToken, nethtml.EndTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			if lineBreakTags[string(name)] {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
	}
}

func splitLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSuffix(l, "\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// HasRestrictedFunctions reports whether any line is a client
// meta-command (starts with a backslash).
func HasRestrictedFunctions(answer string) bool {
	for _, l := range splitLines(answer) {
		if strings.HasPrefix(strings.TrimLeft(l, " \t"), `\`) {
			return true
		}
	}
	return false
}

// CheckKeywords applies the assignment's term spec to the answer. Lines
// starting with # are comments, lines starting with ! are banned terms and
// every other line is a required term.
func CheckKeywords(spec, answer string) (banned, missing []string) {
	for _, item := range splitLines(spec) {
		switch {
		case strings.HasPrefix(item, "#"):
		case strings.HasPrefix(item, "!"):
			if term := item[1:]; term != "" && strings.Contains(answer, term) {
				banned = append(banned, term)
			}
		default:
			if !strings.Contains(answer, item) {
				missing = append(missing, item)
			}
		}
	}
	return banned, missing
}

func keywordsMessage(banned, missing []string) string {
	var b strings.Builder
	if len(banned) > 0 {
		fmt.Fprintf(&b, "<h5>Answer contains the following <u>banned</u> keywords/phrases:</h5>\n<pre>\n%s\n</pre>\n",
			html.EscapeString(strings.Join(banned, "\n")))
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "<h5>Answer does not contain the following <u>required</u> keywords/phrases:</h5>\n<pre>\n%s\n</pre>\n",
			html.EscapeString(strings.Join(missing, "\n")))
	}
	return b.String()
}
