package optimizer

import (
	"regexp"
	"strings"
)

// normalizeStep is one global substitution. Order matters.
type normalizeStep struct {
	re   *regexp.Regexp
	repl string
}

var normalizeSteps = []normalizeStep{
	{regexp.MustCompile(`\r\n|\r|\n`), " "},
	{regexp.MustCompile(`\t`), " "},
	{regexp.MustCompile(`[ \x{00A0}]+`), " "},
	{regexp.MustCompile(` ([.,;:!?)])`), "$1"},
	{regexp.MustCompile(`([({]) `), "$1"},
}

var operatorSpacing = strings.NewReplacer(
	" - ", "-",
	" / ", "/",
	" = ", "=",
	" + ", "+",
	" * ", "*",
	" & ", "&",
)

var (
	currencySpace = regexp.MustCompile(`\$ `)
	percentSpace  = regexp.MustCompile(` %`)
	bulletSpace   = regexp.MustCompile(`([•◦▪▫‣⁃●○■]) `)
)

// Normalize collapses layout whitespace in extracted text so that it embeds
// and stores compactly. It is idempotent and never makes the text longer.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	out := text
	for _, s := range normalizeSteps {
		out = s.re.ReplaceAllString(out, s.repl)
	}
	out = operatorSpacing.Replace(out)
	out = currencySpace.ReplaceAllString(out, "$$")
	out = percentSpace.ReplaceAllString(out, "%")
	out = bulletSpace.ReplaceAllString(out, "$1")
	return strings.TrimSpace(out)
}
