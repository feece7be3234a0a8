// Package flamegraph builds a prefix-merged tree of stack frames and
// renders it either as a compact JavaScript encoding embedded in an HTML
// template, or back out as collapsed-stack text.
package flamegraph

import (
	"regexp"
	"sort"

	"github.com/jfrconv/jfrconv/internal/jfr"
)

// Frame is one sample frame as fed into a Builder: a displayable title plus
// its execution-tier type.
type Frame struct {
	Title string
	Type  jfr.FrameType
}

// node is one tree node. key packs (titleIndex, frameType) per spec.md 3;
// children are looked up by titleIndex alone so repeated occurrences of the
// same method under different execution tiers still coalesce into one
// node, with inlined/c1/interpreted recording which tier each occurrence
// carried (spec.md 3's "they categorize part of total" invariant).
type node struct {
	key                                  uint32
	total, self, inlined, c1, interpreted uint64
	children                             map[uint32]*node
	titleIndex                           uint32
}

const frameTypeShift = 28

func packKey(titleIndex uint32, ft jfr.FrameType) uint32 {
	return titleIndex | uint32(ft)<<frameTypeShift
}

func unpackType(key uint32) jfr.FrameType {
	return jfr.FrameType(key >> frameTypeShift)
}

// Options shapes how samples are inserted and emitted: include/exclude
// filters, skip/reverse, and minwidth pruning.
type Options struct {
	Title    string
	MinWidth float64 // percent
	Skip     int
	Reverse  bool
	Include  *regexp.Regexp
	Exclude  *regexp.Regexp
	Highlight string
}

// Builder accumulates samples into a tree and interns frame titles into a
// dense index (spec.md 3's "dense sequential indices assigned in insertion
// order", index 0 reserved for the sentinel empty string).
type Builder struct {
	opt Options

	titles     []string
	titleIndex map[string]uint32

	root      *node
	maxFrames int
}

func NewBuilder(opt Options) *Builder {
	b := &Builder{
		opt:        opt,
		titles:     []string{""},
		titleIndex: map[string]uint32{"": 0},
		root:       &node{children: map[uint32]*node{}},
	}
	return b
}

func (b *Builder) internTitle(title string) uint32 {
	if idx, ok := b.titleIndex[title]; ok {
		return idx
	}
	idx := uint32(len(b.titles))
	b.titles = append(b.titles, title)
	b.titleIndex[title] = idx
	return idx
}

// passesFilter applies spec.md 4.5's include/exclude semantics: a sample
// is dropped if any of its frames matches Exclude, wherever that frame sits
// relative to an Include match; otherwise it passes if some frame matches
// Include. No include filter means every sample passes unless excluded.
func (b *Builder) passesFilter(frames []Frame) bool {
	included := b.opt.Include == nil
	for _, f := range frames {
		if b.opt.Exclude != nil && b.opt.Exclude.MatchString(f.Title) {
			return false
		}
		if b.opt.Include != nil && b.opt.Include.MatchString(f.Title) {
			included = true
		}
	}
	return included
}

// AddSample inserts one sample (frames in root-to-leaf order) with the
// given weight, per spec.md 4.5's addSample algorithm.
func (b *Builder) AddSample(frames []Frame, weight uint64) {
	if !b.passesFilter(frames) {
		return
	}

	skip := b.opt.Skip
	if skip > len(frames) {
		skip = len(frames)
	}
	frames = frames[skip:]

	if b.opt.Reverse {
		frames = reversed(frames)
	}

	if len(frames) > b.maxFrames {
		b.maxFrames = len(frames)
	}

	b.root.total += weight
	cur := b.root
	for _, f := range frames {
		titleIdx := b.internTitle(f.Title)
		child, ok := cur.children[titleIdx]
		if !ok {
			child = &node{
				key:        packKey(titleIdx, f.Type),
				children:   map[uint32]*node{},
				titleIndex: titleIdx,
			}
			cur.children[titleIdx] = child
		}
		child.total += weight
		switch f.Type {
		case jfr.Inlined:
			child.inlined += weight
		case jfr.C1Compiled:
			child.c1 += weight
		case jfr.Interpreted:
			child.interpreted += weight
		}
		cur = child
	}
	cur.self += weight
}

func reversed(frames []Frame) []Frame {
	out := make([]Frame, len(frames))
	for i, f := range frames {
		out[len(frames)-1-i] = f
	}
	return out
}

// RootTotal returns the tree root's accumulated total.
func (b *Builder) RootTotal() uint64 { return b.root.total }

// Depth returns the reported tree depth, counting the root's own display
// row: the deepest inserted (post-skip/reverse) sample's frame count + 1.
func (b *Builder) Depth() int {
	if b.maxFrames == 0 {
		return 0
	}
	return b.maxFrames + 1
}

// effectiveType implements spec.md 4.5's effective-type rendering rule.
func effectiveType(n *node) jfr.FrameType {
	if n.total == 0 {
		return unpackType(n.key)
	}
	if n.inlined*3 >= n.total {
		return jfr.Inlined
	}
	if n.c1*2 >= n.total {
		return jfr.C1Compiled
	}
	if n.interpreted*2 >= n.total {
		return jfr.Interpreted
	}
	return unpackType(n.key)
}

// mintotal computes the minimum child total to emit, per spec.md 4.5's
// "Minimum-width pruning".
func (b *Builder) mintotal() uint64 {
	if b.opt.MinWidth <= 0 {
		return 0
	}
	return uint64(float64(b.root.total) * b.opt.MinWidth / 100)
}

// visibleChildren returns n's children whose total meets mintotal, sorted
// by the constant pool's sortedIndex for the given titleIndex, matching
// spec.md 4.5's "Children are emitted sorted by order[titleIndex]".
func visibleChildren(n *node, mintotal uint64, order map[uint32]int) []*node {
	var out []*node
	for _, c := range n.children {
		if c.total >= mintotal {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return order[out[i].titleIndex] < order[out[j].titleIndex]
	})
	return out
}
