// Package convert wires the reader, resolver, aggregator, classifier, and
// the two output encoders into the end-to-end pipelines spec.md 2
// describes: JFR bytes through to a flame graph or a pprof profile, and
// collapsed-stack text through to a flame graph.
package convert

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jfrconv/jfrconv/internal/aggregate"
	"github.com/jfrconv/jfrconv/internal/classify"
	"github.com/jfrconv/jfrconv/internal/flamegraph"
	"github.com/jfrconv/jfrconv/internal/jfr"
	"github.com/jfrconv/jfrconv/internal/pprofenc"
	"github.com/jfrconv/jfrconv/internal/resolve"
)

// Options collects every CLI-level knob that shapes a conversion.
type Options struct {
	Resolve   resolve.Options
	Aggregate aggregate.Options
	Flame     flamegraph.Options
	Pprof     pprofenc.Options

	Classify bool
	Lines    bool
	BCI      bool
}

// ResolveTimeWindow converts --from/--to millisecond values into the raw
// tick range aggregate.Options.FromTicks/ToTicks expects. A value prefixed
// with "-" counts backward from the recording end; otherwise a value of at
// least 1.5e12 is an absolute epoch time in milliseconds, and a smaller
// value counts forward from the recording start. An empty string leaves
// that bound open.
func ResolveTimeWindow(r *jfr.Reader, fromMS, toMS string) (from, to uint64, err error) {
	chunks := r.Chunks()
	if len(chunks) == 0 {
		return 0, 0, fmt.Errorf("time window requested on an empty recording")
	}
	first, last := chunks[0], chunks[len(chunks)-1]
	startTick := first.StartTicks
	endTick := last.StartTicks + uint64(float64(last.DurationNanos)*float64(last.TicksPerSec)/1e9)
	rate := first.TicksPerSec

	resolve := func(s string, fallback uint64) (uint64, error) {
		if s == "" {
			return fallback, nil
		}
		fromEnd := strings.HasPrefix(s, "-")
		s = strings.TrimPrefix(s, "-")
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid time value %q", s)
		}
		if !fromEnd && ms >= 1_500_000_000_000 {
			nanos := uint64(ms) * 1_000_000
			if nanos <= first.StartNanos {
				return startTick, nil
			}
			return startTick + uint64(float64(nanos-first.StartNanos)*float64(rate)/1e9), nil
		}
		delta := uint64(ms) * rate / 1000
		if fromEnd {
			if delta > endTick {
				return startTick, nil
			}
			return endTick - delta, nil
		}
		return startTick + delta, nil
	}

	if from, err = resolve(fromMS, startTick); err != nil {
		return 0, 0, err
	}
	if to, err = resolve(toMS, endTick); err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

// ResolveStateMask translates --state symbolic names into the bitmask
// aggregate.Options.States expects, preparing the file's first chunk if
// needed so jdk.types.ThreadState metadata is available.
func ResolveStateMask(r *jfr.Reader, names []string) (uint64, error) {
	if len(names) == 0 {
		return 0, nil
	}
	if err := r.PrepareFirstChunk(); err != nil {
		return 0, err
	}
	var mask uint64
	for _, name := range names {
		ord, err := r.ThreadStateOrdinal(name)
		if err != nil {
			return 0, fmt.Errorf("--state %s: %w", name, err)
		}
		mask |= 1 << uint(ord)
	}
	return mask, nil
}

// eventClassForMode maps an aggregate.Mode to the jfr.EventClass the reader
// should filter for.
func eventClassForMode(m aggregate.Mode) jfr.EventClass {
	switch m {
	case aggregate.Alloc:
		return jfr.AllocationSampleClass
	case aggregate.Live:
		return jfr.LiveObjectClass
	case aggregate.Lock:
		return jfr.ContendedLockClass
	default:
		return jfr.ExecutionSampleClass
	}
}

type resolvedFrame struct {
	Title string
	Type  jfr.FrameType
}

// frameCache resolves and caches a stack trace's frame titles; stack-trace
// IDs are unique across a file's chunks (spec.md 3), so the cache never
// needs to be invalidated mid-run.
type frameCache struct {
	r        *jfr.Reader
	resolver *resolve.Resolver
	lines    bool
	bci      bool
	cache    map[jfr.StackTraceID][]resolvedFrame
}

func newFrameCache(r *jfr.Reader, resolver *resolve.Resolver, lines, bci bool) *frameCache {
	return &frameCache{r: r, resolver: resolver, lines: lines, bci: bci, cache: map[jfr.StackTraceID][]resolvedFrame{}}
}

func (fc *frameCache) resolve(id jfr.StackTraceID) ([]resolvedFrame, bool) {
	if frames, ok := fc.cache[id]; ok {
		return frames, true
	}
	st, ok := fc.r.GetStackTrace(id)
	if !ok {
		return nil, false
	}
	frames := make([]resolvedFrame, len(st.Methods))
	for i, mid := range st.Methods {
		ft := st.Types[i]
		name := fc.resolver.ResolveMethodName(mid, ft)
		if fc.lines || fc.bci {
			loc := st.Locations[i]
			if fc.lines {
				if line := jfr.Line(loc); line != 0 {
					name = fmt.Sprintf("%s:%d", name, line)
				}
			}
			if fc.bci {
				if bci := jfr.BCI(loc); bci != 0 {
					name = fmt.Sprintf("%s@%d", name, bci)
				}
			}
		}
		frames[i] = resolvedFrame{Title: name, Type: ft}
	}
	fc.cache[id] = frames
	return frames, true
}

// deepestNonNativeTitle implements the classifier's "deepest non-native
// frame" input: the leaf-most frame whose type isn't native-like, falling
// back to the true leaf when every frame is native-like.
func deepestNonNativeTitle(frames []resolvedFrame, nativeMeansC bool) string {
	for i := len(frames) - 1; i >= 0; i-- {
		ft := frames[i].Type
		if ft == jfr.Cpp || ft == jfr.Kernel {
			continue
		}
		if ft == jfr.Native && nativeMeansC {
			continue
		}
		return frames[i].Title
	}
	if len(frames) > 0 {
		return frames[len(frames)-1].Title
	}
	return ""
}

// runAggregation drains every matching event from r into a fresh
// aggregator.
func runAggregation(r *jfr.Reader, opt aggregate.Options) (*aggregate.Aggregator, error) {
	agg := aggregate.New(opt)
	class := eventClassForMode(opt.Mode)
	for {
		ev, err := r.ReadEvent(class)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			return agg, nil
		}
		ticksPerSec := uint64(0)
		if ch := r.CurrentChunk(); ch != nil {
			ticksPerSec = ch.TicksPerSec
		}
		agg.Add(ev, ticksPerSec)
	}
}

// BuildFlameGraphFromJFR runs the JFR → resolver → aggregator → classifier
// → flame-builder path of spec.md 2's dataflow.
func BuildFlameGraphFromJFR(r *jfr.Reader, opt Options) (*flamegraph.Builder, error) {
	agg, err := runAggregation(r, opt.Aggregate)
	if err != nil {
		return nil, err
	}

	resolver := resolve.New(r, opt.Resolve)
	fc := newFrameCache(r, resolver, opt.Lines, opt.BCI)
	b := flamegraph.NewBuilder(opt.Flame)

	agg.Visit(func(k aggregate.Key, v aggregate.Value) {
		frames, ok := fc.resolve(k.StackID)
		if !ok {
			return
		}
		built := make([]flamegraph.Frame, 0, len(frames)+2)
		if opt.Classify {
			title := deepestNonNativeTitle(frames, r.NativeMeansC())
			cat, ft := classify.Classify(title)
			built = append(built, flamegraph.Frame{Title: cat, Type: ft})
		}
		if opt.Aggregate.Threads {
			built = append(built, flamegraph.Frame{Title: resolver.ResolveThreadName(k.Tid), Type: jfr.Native})
		}
		if k.ClassID != 0 {
			built = append(built, flamegraph.Frame{Title: resolver.ResolveClassName(k.ClassID), Type: jfr.Native})
		}
		for _, f := range frames {
			built = append(built, flamegraph.Frame{Title: f.Title, Type: f.Type})
		}
		b.AddSample(built, v.Value)
	})
	return b, nil
}

// EncodePprofFromJFR runs the JFR → resolver → aggregator → classifier →
// pprof-encoder path of spec.md 2's dataflow.
func EncodePprofFromJFR(r *jfr.Reader, opt Options) (*pprofenc.Encoder, error) {
	agg, err := runAggregation(r, opt.Aggregate)
	if err != nil {
		return nil, err
	}

	resolver := resolve.New(r, opt.Resolve)
	fc := newFrameCache(r, resolver, opt.Lines, opt.BCI)

	pOpt := opt.Pprof
	pOpt.Mode = opt.Aggregate.Mode
	pOpt.Total = opt.Aggregate.Total
	if len(r.Chunks()) > 0 {
		first := r.Chunks()[0]
		pOpt.StartNanos = int64(first.StartNanos)
		last := r.Chunks()[len(r.Chunks())-1]
		pOpt.DurationNanos = int64(last.StartNanos + last.DurationNanos - first.StartNanos)
	}
	enc := pprofenc.New(pOpt)

	agg.Visit(func(k aggregate.Key, v aggregate.Value) {
		frames, ok := fc.resolve(k.StackID)
		if !ok {
			return
		}
		pframes := make([]pprofenc.Frame, 0, len(frames)+1)
		if k.ClassID != 0 {
			pframes = append(pframes, pprofenc.Frame{Name: resolver.ResolveClassName(k.ClassID), Line: 0})
		}
		st, _ := r.GetStackTrace(k.StackID)
		for i, f := range frames {
			pframes = append(pframes, pprofenc.Frame{Name: f.Title, Line: int64(jfr.Line(st.Locations[i]))})
		}

		var threadName, category string
		if opt.Aggregate.Threads {
			threadName = resolver.ResolveThreadName(k.Tid)
		}
		if opt.Classify {
			title := deepestNonNativeTitle(frames, r.NativeMeansC())
			category, _ = classify.Classify(title)
		}
		enc.AddSample(pframes, int64(v.Value), threadName, category)
	})
	return enc, nil
}

// BuildFlameGraphFromCollapsed runs the secondary "collapsed-text →
// Collapsed Parser → Flame Builder" path spec.md 2 describes.
func BuildFlameGraphFromCollapsed(r io.Reader, opt flamegraph.Options) (*flamegraph.Builder, error) {
	b := flamegraph.NewBuilder(opt)
	if err := flamegraph.LoadCollapsed(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// InputFormat identifies how an input file's bytes should be parsed.
type InputFormat int

const (
	InputJFR InputFormat = iota
	InputCollapsed
)

// DetectInputFormat applies spec.md 6's detection rule: extension first,
// falling back to the "FLR\0" magic for anything unrecognized.
func DetectInputFormat(path string, head []byte) InputFormat {
	switch ext(path) {
	case "jfr":
		return InputJFR
	case "collapsed", "txt", "csv":
		return InputCollapsed
	}
	if len(head) >= 4 && string(head[:4]) == "FLR\x00" {
		return InputJFR
	}
	return InputCollapsed
}

// OutputFormat identifies which encoder a converted file should go
// through.
type OutputFormat int

const (
	OutputHTML OutputFormat = iota
	OutputCollapsed
	OutputPprof
	OutputPprofGzip
)

// DetectOutputFormat inspects an explicit output path's extension,
// defaulting to HTML when nothing recognizable is present (spec.md 6).
func DetectOutputFormat(path string) OutputFormat {
	switch ext(path) {
	case "collapsed", "txt":
		return OutputCollapsed
	case "gz":
		if ext(trimExt(path)) == "pprof" {
			return OutputPprofGzip
		}
		return OutputHTML
	case "pprof":
		return OutputPprof
	default:
		return OutputHTML
	}
}

func ext(path string) string {
	i := len(path) - 1
	for ; i >= 0; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
		if path[i] == '/' {
			break
		}
	}
	return ""
}

func trimExt(path string) string {
	i := len(path) - 1
	for ; i >= 0; i-- {
		if path[i] == '.' {
			return path[:i]
		}
		if path[i] == '/' {
			break
		}
	}
	return path
}
