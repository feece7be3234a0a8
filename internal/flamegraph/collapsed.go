package flamegraph

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jfrconv/jfrconv/internal/jfr"
)

// suffixType maps a collapsed-stack frame suffix to its inferred FrameType,
// per spec.md 4.5's "Frame-type inference (collapsed-text path)".
var suffixType = map[string]jfr.FrameType{
	"_[j]": jfr.JitCompiled,
	"_[i]": jfr.Inlined,
	"_[k]": jfr.Kernel,
	"_[1]": jfr.C1Compiled,
	"_[0]": jfr.Interpreted,
}

// typeSuffix is the inverse of suffixType, used when re-emitting collapsed
// text from a built tree.
var typeSuffix = map[jfr.FrameType]string{
	jfr.Interpreted:  "_[0]",
	jfr.JitCompiled:  "_[j]",
	jfr.Inlined:      "_[i]",
	jfr.Native:       "",
	jfr.Cpp:          "",
	jfr.Kernel:       "_[k]",
	jfr.C1Compiled:   "_[1]",
}

// parseCollapsedFrame splits a raw collapsed-stack frame token into its
// bare title and inferred FrameType.
func parseCollapsedFrame(raw string) Frame {
	for suf, ft := range suffixType {
		if strings.HasSuffix(raw, suf) {
			return Frame{Title: strings.TrimSuffix(raw, suf), Type: ft}
		}
	}
	return Frame{Title: raw, Type: inferBareType(raw)}
}

// inferBareType applies the no-suffix heuristics: `::` or a leading
// `-[`/`+[` (Objective-C style selectors) means Cpp; a `/`-qualified name
// not starting with `[`, or a dotted name with an uppercase initial
// segment, means JitCompiled; otherwise Native.
func inferBareType(name string) jfr.FrameType {
	if strings.Contains(name, "::") || strings.HasPrefix(name, "-[") || strings.HasPrefix(name, "+[") {
		return jfr.Cpp
	}
	if strings.Contains(name, "/") && !strings.HasPrefix(name, "[") {
		return jfr.JitCompiled
	}
	if dottedUppercaseInitial(name) {
		return jfr.JitCompiled
	}
	return jfr.Native
}

func dottedUppercaseInitial(name string) bool {
	dot := strings.IndexByte(name, '.')
	if dot < 0 || dot+1 >= len(name) {
		return false
	}
	first := name[:dot]
	if first == "" {
		return false
	}
	c := first[0]
	return c >= 'A' && c <= 'Z'
}

// LoadCollapsed reads collapsed-stack text (one `frame;frame;...;frame count`
// line per sample, root frame first) and feeds every sample into b.
func LoadCollapsed(r io.Reader, b *Builder) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		sp := strings.LastIndexByte(line, ' ')
		if sp < 0 {
			return fmt.Errorf("collapsed line missing sample count: %q", line)
		}
		stackPart, countPart := line[:sp], line[sp+1:]
		weight, err := strconv.ParseUint(countPart, 10, 64)
		if err != nil {
			return fmt.Errorf("collapsed line has invalid count %q: %w", countPart, err)
		}
		tokens := strings.Split(stackPart, ";")
		frames := make([]Frame, len(tokens))
		for i, tok := range tokens {
			frames[i] = parseCollapsedFrame(tok)
		}
		b.AddSample(frames, weight)
	}
	return scanner.Err()
}

// EmitCollapsed writes b's tree back out as collapsed-stack text: one line
// per node with a nonzero self count, the path from root reconstructed with
// each frame's suffix restored from the type recorded in its node key.
func (b *Builder) EmitCollapsed(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var path []string
	var walk func(n *node)
	walk = func(n *node) {
		if n != b.root {
			title := b.titles[n.titleIndex] + typeSuffix[unpackType(n.key)]
			path = append(path, title)
			if n.self > 0 {
				fmt.Fprintf(bw, "%s %d\n", strings.Join(path, ";"), n.self)
			}
		}
		for _, c := range sortedNodeChildren(n) {
			walk(c)
		}
		if n != b.root {
			path = path[:len(path)-1]
		}
	}
	walk(b.root)
	return bw.Flush()
}

func sortedNodeChildren(n *node) []*node {
	out := make([]*node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].titleIndex < out[j].titleIndex })
	return out
}
