package flamegraph

import (
	"regexp"
	"strings"
	"testing"
)

func load(t *testing.T, b *Builder, text string) {
	t.Helper()
	if err := LoadCollapsed(strings.NewReader(text), b); err != nil {
		t.Fatalf("LoadCollapsed: %v", err)
	}
}

func child(t *testing.T, b *Builder, n *node, title string) *node {
	t.Helper()
	idx, ok := b.titleIndex[title]
	if !ok {
		t.Fatalf("title %q never interned", title)
	}
	c, ok := n.children[idx]
	if !ok {
		t.Fatalf("no child %q", title)
	}
	return c
}

// S1 — Collapsed input.
func TestScenarioS1CollapsedDefault(t *testing.T) {
	b := NewBuilder(Options{})
	load(t, b, "a;b;c 5\nA;b;d 2\n")

	if b.RootTotal() != 7 {
		t.Fatalf("root total = %d, want 7", b.RootTotal())
	}
	a := child(t, b, b.root, "a")
	if a.total != 5 {
		t.Fatalf("a.total = %d, want 5", a.total)
	}
	bigA := child(t, b, b.root, "A")
	if bigA.total != 2 {
		t.Fatalf("A.total = %d, want 2", bigA.total)
	}
	abc := child(t, b, child(t, b, a, "b"), "c")
	if abc.self != 5 {
		t.Fatalf("a.b.c.self = %d, want 5", abc.self)
	}
	abd := child(t, b, child(t, b, bigA, "b"), "d")
	if abd.self != 2 {
		t.Fatalf("A.b.d.self = %d, want 2", abd.self)
	}
}

// S2 — Reverse + skip.
func TestScenarioS2ReverseSkip(t *testing.T) {
	b := NewBuilder(Options{Skip: 1, Reverse: true})
	load(t, b, "a;b;c 5\nA;b;d 2\n")

	c := child(t, b, b.root, "c")
	if c.total != 5 {
		t.Fatalf("c.total = %d, want 5", c.total)
	}
	d := child(t, b, b.root, "d")
	if d.total != 2 {
		t.Fatalf("d.total = %d, want 2", d.total)
	}
	cb := child(t, b, c, "b")
	if cb.total != 5 {
		t.Fatalf("c.b.total = %d, want 5", cb.total)
	}
	db := child(t, b, d, "b")
	if db.total != 2 {
		t.Fatalf("d.b.total = %d, want 2", db.total)
	}
}

// S3 — Mintotal prune.
func TestScenarioS3MintotalPrune(t *testing.T) {
	b := NewBuilder(Options{MinWidth: 5})
	load(t, b, "a 100\nb 1\n")

	order := map[uint32]int{}
	for idx := range b.titles {
		order[uint32(idx)] = idx
	}
	vis := visibleChildren(b.root, b.mintotal(), order)
	if len(vis) != 1 || b.titles[vis[0].titleIndex] != "a" {
		t.Fatalf("visible children = %v, want only 'a'", vis)
	}
	if got := b.Depth(); got != 2 {
		t.Fatalf("Depth() = %d, want 2", got)
	}
}

// S4 — Include/exclude.
func TestScenarioS4IncludeExclude(t *testing.T) {
	b := NewBuilder(Options{Include: regexp.MustCompile("b")})
	load(t, b, "a;b;c 4\nx;y;z 3\n")
	if b.RootTotal() != 4 {
		t.Fatalf("include=b: root total = %d, want 4", b.RootTotal())
	}

	b2 := NewBuilder(Options{Include: regexp.MustCompile("b"), Exclude: regexp.MustCompile("y")})
	load(t, b2, "a;b;c 4\nx;y;z 3\n")
	if b2.RootTotal() != 4 {
		t.Fatalf("include=b,exclude=y: root total = %d, want 4", b2.RootTotal())
	}

	b3 := NewBuilder(Options{Include: regexp.MustCompile("z"), Exclude: regexp.MustCompile("x")})
	load(t, b3, "a;b;c 4\nx;y;z 3\n")
	if b3.RootTotal() != 0 {
		t.Fatalf("include=z,exclude=x: root total = %d, want 0", b3.RootTotal())
	}
}

func TestTreeConservation(t *testing.T) {
	b := NewBuilder(Options{})
	load(t, b, "a;b;c 5\na;b;d 3\na;e 1\n")

	var check func(n *node)
	check = func(n *node) {
		var sum uint64
		for _, c := range n.children {
			sum += c.total
			check(c)
		}
		if n.total != n.self+sum {
			t.Fatalf("node violates total=self+Σchild.total: total=%d self=%d Σchild=%d", n.total, n.self, sum)
		}
	}
	check(b.root)
}

func TestSampleConservation(t *testing.T) {
	b := NewBuilder(Options{})
	load(t, b, "a;b;c 5\na;b;d 3\na;e 1\n")
	if b.RootTotal() != 9 {
		t.Fatalf("root total = %d, want 9", b.RootTotal())
	}
}

func TestFilterMonotonicity(t *testing.T) {
	full := NewBuilder(Options{})
	load(t, full, "a;b;c 4\nx;y;z 3\n")

	filtered := NewBuilder(Options{Include: regexp.MustCompile("b")})
	load(t, filtered, "a;b;c 4\nx;y;z 3\n")

	if filtered.RootTotal() > full.RootTotal() {
		t.Fatalf("filtered total %d exceeds unfiltered total %d", filtered.RootTotal(), full.RootTotal())
	}
}

func TestCpoolPrefixCompressRoundTrip(t *testing.T) {
	cases := []struct{ prev, cur string }{
		{"all", "a;b;c"},
		{"java/lang/Object.wait", "java/lang/Object.notify"},
		{"foo", "foobar"},
		{"x", "y"},
	}
	for _, c := range cases {
		entry := prefixCompress(c.prev, c.cur)
		got := decodePrefixCompressed(c.prev, entry)
		if got != c.cur {
			t.Errorf("prefixCompress/decode round trip: prev=%q cur=%q got=%q", c.prev, c.cur, got)
		}
	}
}

func TestCollapsedRoundTrip(t *testing.T) {
	b := NewBuilder(Options{})
	load(t, b, "a;b;c 5\nA;b;d 2\n")

	var out strings.Builder
	if err := b.EmitCollapsed(&out); err != nil {
		t.Fatalf("EmitCollapsed: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "a;b;c 5") {
		t.Errorf("emitted collapsed text missing a;b;c 5: %q", text)
	}
	if !strings.Contains(text, "A;b;d 2") {
		t.Errorf("emitted collapsed text missing A;b;d 2: %q", text)
	}
}

func TestParseCollapsedFrameSuffixes(t *testing.T) {
	cases := []struct {
		raw   string
		title string
		typ   int
	}{
		{"Foo.bar_[j]", "Foo.bar", 1},
		{"Foo.bar_[i]", "Foo.bar", 2},
		{"Foo.bar_[k]", "Foo.bar", 5},
		{"Foo.bar_[1]", "Foo.bar", 6},
		{"Foo.bar_[0]", "Foo.bar", 0},
	}
	for _, c := range cases {
		f := parseCollapsedFrame(c.raw)
		if f.Title != c.title || int(f.Type) != c.typ {
			t.Errorf("parseCollapsedFrame(%q) = {%q,%d}, want {%q,%d}", c.raw, f.Title, f.Type, c.title, c.typ)
		}
	}
}

func TestRenderSubstitutesAllMarkers(t *testing.T) {
	b := NewBuilder(Options{Title: "my profile"})
	load(t, b, "a;b;c 5\n")

	out := b.Render()
	for _, marker := range []string{"/*height:*/", "/*title:*/", "/*reverse:*/", "/*depth:*/", "/*cpool:*/", "/*frames:*/", "/*highlight:*/"} {
		if strings.Contains(out, marker) {
			t.Errorf("rendered output still contains unsubstituted marker %q", marker)
		}
	}
	if !strings.Contains(out, "'my profile'") {
		t.Errorf("rendered output missing substituted title")
	}
}
