package flamegraph

import (
	_ "embed"
	"strconv"
	"strings"
)

//go:embed assets/template.html
var viewerTemplate string

// Render substitutes the seven markers described in spec.md 4.5 into the
// embedded viewer template, in order, each exactly once.
func (b *Builder) Render() string {
	entries, order := b.cpoolEntries()
	depth := b.Depth()

	content := viewerTemplate
	content = replaceOnce(content, "/*height:*/300", strconv.Itoa(depthHeight(depth)))
	content = replaceOnce(content, "/*title:*/", quoteEntry(b.opt.Title))
	content = replaceOnce(content, "/*reverse:*/false", strconv.FormatBool(b.opt.Reverse))
	content = replaceOnce(content, "/*depth:*/0", strconv.Itoa(depth))
	content = replaceOnce(content, "/*cpool:*/", cpoolLiteral(entries))
	content = replaceOnce(content, "/*frames:*/", b.frameScript(order))
	content = replaceOnce(content, "/*highlight:*/", highlightLiteral(b.opt.Highlight))
	return content
}

// replaceOnce replaces the first occurrence of old in s with new, leaving
// any later, unrelated occurrences (e.g. inside frame titles) untouched.
func replaceOnce(s, old, new string) string {
	return strings.Replace(s, old, new, 1)
}

func highlightLiteral(pattern string) string {
	if pattern == "" {
		return "''"
	}
	return quoteEntry(pattern)
}
