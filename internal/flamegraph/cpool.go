package flamegraph

import (
	"fmt"
	"sort"
	"strings"
)

// cpoolEntries builds the constant pool described in spec.md 4.5: sorted
// unique frame titles, output starting with the literal 'all' and each
// subsequent entry prefix-compressed against its predecessor. order maps a
// builder titleIndex to its position in the emitted (sorted) sequence,
// where position 0 is reserved for 'all'.
func (b *Builder) cpoolEntries() (literals []string, order map[uint32]int) {
	type item struct {
		idx   uint32
		title string
	}
	items := make([]item, 0, len(b.titles)-1)
	for i := 1; i < len(b.titles); i++ {
		items = append(items, item{uint32(i), b.titles[i]})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].title < items[j].title })

	order = make(map[uint32]int, len(items))
	literals = make([]string, 0, len(items)+1)
	literals = append(literals, "'all'")

	prev := "all"
	for sortedIdx, it := range items {
		order[it.idx] = sortedIdx + 1
		literals = append(literals, quoteEntry(prefixCompress(prev, it.title)))
		prev = it.title
	}
	return literals, order
}

// prefixCompress returns the raw (unescaped, unquoted) cpool entry for cur
// relative to prev: char(p+0x20) followed by cur's suffix past the shared
// prefix, where p = min(commonPrefixLen(prev, cur), 95).
func prefixCompress(prev, cur string) string {
	p := commonPrefixLen(prev, cur)
	if p > 95 {
		p = 95
	}
	return string(rune(p+0x20)) + cur[p:]
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// decodePrefixCompressed inverts prefixCompress, per spec.md 8's testable
// property 7: decode(prev, entry) = prev[:p] + entry[1:] where
// p = entry[0] - 0x20.
func decodePrefixCompressed(prev, entry string) string {
	p := int(entry[0]) - 0x20
	return prev[:p] + entry[1:]
}

func quoteEntry(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		if r == '\\' || r == '\'' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}

func cpoolLiteral(entries []string) string {
	return fmt.Sprintf("[%s]", strings.Join(entries, ","))
}
