package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

// ToText converts an HTML fragment to plain text. Entities are decoded,
// tags stripped and runs of blank lines collapsed to one.
func ToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	text := html2text.HTML2Text(s)

	lines := strings.Split(text, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
