// jfrconv converts JFR chunked profiling recordings (or collapsed-stack
// text) into an interactive flame-graph HTML page, a pprof v1 profile, or
// back out as collapsed text.
//
// Usage:
//
//	jfrconv [options] <input...> <output-or-dir>
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jfrconv/jfrconv/internal/aggregate"
	"github.com/jfrconv/jfrconv/internal/convert"
	"github.com/jfrconv/jfrconv/internal/flamegraph"
	"github.com/jfrconv/jfrconv/internal/jfr"
	"github.com/jfrconv/jfrconv/internal/pprofenc"
	"github.com/jfrconv/jfrconv/internal/resolve"
)

var log = logrus.New()

type cliFlags struct {
	title     string
	minwidth  float64
	skip      int
	reverse   bool
	include   string
	exclude   string
	highlight string

	alloc bool
	live  bool
	lock  bool

	threads bool
	state   []string

	classify bool
	total    bool
	lines    bool
	bci      bool

	simple bool
	norm   bool
	dot    bool

	from string
	to   string
}

func main() {
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	var f cliFlags

	root := &cobra.Command{
		Use:          "jfrconv [options] <input...> <output-or-dir>",
		Short:        "Convert JFR profiling recordings to flame graphs or pprof",
		SilenceUsage: true,
		Args:         cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args, f)
		},
	}

	fl := root.Flags()
	fl.StringVar(&f.title, "title", "Flame Graph", "flame-graph page title")
	fl.Float64Var(&f.minwidth, "minwidth", 0.1, "prune frames under this percent of root total")
	fl.IntVar(&f.skip, "skip", 0, "drop the first N frames of every sample")
	fl.BoolVar(&f.reverse, "reverse", false, "root at callee instead of caller")
	fl.StringVar(&f.include, "include", "", "regex: keep only samples matching a frame title")
	fl.StringVar(&f.exclude, "exclude", "", "regex: drop samples matching a frame title")
	fl.StringVar(&f.highlight, "highlight", "", "pattern embedded for client-side highlight")
	fl.BoolVar(&f.alloc, "alloc", false, "select allocation events instead of cpu")
	fl.BoolVar(&f.live, "live", false, "select live-object events instead of cpu")
	fl.BoolVar(&f.lock, "lock", false, "select contended-lock events instead of cpu")
	fl.BoolVar(&f.threads, "threads", false, "split/aggregate samples by thread")
	fl.StringSliceVar(&f.state, "state", nil, "comma list of thread states to keep")
	fl.BoolVar(&f.classify, "classify", false, "attach a category label or synthetic root frame")
	fl.BoolVar(&f.total, "total", false, "accumulate event value instead of count")
	fl.BoolVar(&f.lines, "lines", false, "append :line to method names")
	fl.BoolVar(&f.bci, "bci", false, "append @bci to method names")
	fl.BoolVar(&f.simple, "simple", false, "strip package qualifiers from class names")
	fl.BoolVar(&f.norm, "norm", false, "normalize synthetic lambda/anonymous class names")
	fl.BoolVar(&f.dot, "dot", false, "render class names with dots instead of slashes")
	fl.StringVar(&f.from, "from", "", "time-window start (epoch ms, ms from start, or -ms from end)")
	fl.StringVar(&f.to, "to", "", "time-window end (epoch ms, ms from start, or -ms from end)")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err.Error()}
	})

	if err := root.Execute(); err != nil {
		if _, ok := err.(usageError); ok {
			log.Error(err)
			os.Exit(2)
		}
		log.Error(err)
		os.Exit(1)
	}
}

// usageError marks an InvalidArgument failure (spec.md 7), reported with
// exit code 2 instead of the generic non-zero I/O/parse exit.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func run(args []string, f cliFlags) error {
	modeCount := 0
	for _, b := range []bool{f.alloc, f.live, f.lock} {
		if b {
			modeCount++
		}
	}
	if modeCount > 1 {
		return usageError{"--alloc, --live and --lock are mutually exclusive"}
	}

	var include, exclude *regexp.Regexp
	var err error
	if f.include != "" {
		if include, err = regexp.Compile(f.include); err != nil {
			return usageError{fmt.Sprintf("--include: %v", err)}
		}
	}
	if f.exclude != "" {
		if exclude, err = regexp.Compile(f.exclude); err != nil {
			return usageError{fmt.Sprintf("--exclude: %v", err)}
		}
	}

	mode := aggregate.CPU
	switch {
	case f.alloc:
		mode = aggregate.Alloc
	case f.live:
		mode = aggregate.Live
	case f.lock:
		mode = aggregate.Lock
	}

	inputs, outArg := splitInputsOutput(args)
	if len(inputs) == 0 {
		return usageError{"at least one input file is required"}
	}

	opt := convert.Options{
		Resolve: resolve.Options{Norm: f.norm, Simple: f.simple, Dot: f.dot},
		Aggregate: aggregate.Options{
			Mode:    mode,
			Total:   f.total,
			Threads: f.threads,
		},
		Flame: flamegraph.Options{
			Title:     f.title,
			MinWidth:  f.minwidth,
			Skip:      f.skip,
			Reverse:   f.reverse,
			Include:   include,
			Exclude:   exclude,
			Highlight: f.highlight,
		},
		Pprof: pprofenc.Options{
			Threads:  f.threads,
			Classify: f.classify,
		},
		Classify: f.classify,
		Lines:    f.lines,
		BCI:      f.bci,
	}

	for _, in := range inputs {
		outPath, err := resolveOutputPath(in, outArg, len(inputs))
		if err != nil {
			return err
		}
		if err := convertOne(in, outPath, f, opt); err != nil {
			return fmt.Errorf("%s: %w", in, err)
		}
		log.Infof("%s -> %s", in, outPath)
	}
	return nil
}

// splitInputsOutput treats the final argument as the output path/directory
// when more than one argument is given; with exactly one argument the
// output defaults to the current directory (spec.md 6).
func splitInputsOutput(args []string) (inputs []string, outArg string) {
	if len(args) == 1 {
		return args, ""
	}
	return args[:len(args)-1], args[len(args)-1]
}

func resolveOutputPath(input, outArg string, numInputs int) (string, error) {
	if outArg == "" {
		outArg = "."
	}
	info, statErr := os.Stat(outArg)
	isDir := (statErr == nil && info.IsDir()) || numInputs > 1 || strings.HasSuffix(outArg, "/")
	if !isDir {
		return outArg, nil
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(filepath.Base(input)))
	extension := "html"
	return filepath.Join(outArg, base+"."+extension), nil
}

func convertOne(inputPath, outputPath string, f cliFlags, opt convert.Options) error {
	head, err := readHead(inputPath)
	if err != nil {
		return err
	}
	inFmt := convert.DetectInputFormat(inputPath, head)
	outFmt := convert.DetectOutputFormat(outputPath)

	if inFmt == convert.InputCollapsed {
		return convertCollapsed(inputPath, outputPath, outFmt, opt)
	}
	return convertJFR(inputPath, outputPath, outFmt, f, opt)
}

func readHead(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	head := make([]byte, 4)
	n, err := file.Read(head)
	if err != nil && n == 0 {
		return nil, nil
	}
	return head[:n], nil
}

func convertCollapsed(inputPath, outputPath string, outFmt convert.OutputFormat, opt convert.Options) error {
	if outFmt == convert.OutputPprof || outFmt == convert.OutputPprofGzip {
		return usageError{"collapsed input cannot be converted to pprof"}
	}
	in, err := os.Open(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()
	b, err := convert.BuildFlameGraphFromCollapsed(in, opt.Flame)
	if err != nil {
		return err
	}
	return writeFlame(b, outputPath, outFmt)
}

func convertJFR(inputPath, outputPath string, outFmt convert.OutputFormat, f cliFlags, opt convert.Options) error {
	r, err := jfr.Open(inputPath)
	if err != nil {
		return err
	}
	defer r.Close()

	if len(f.state) > 0 {
		mask, err := convert.ResolveStateMask(r, f.state)
		if err != nil {
			return usageError{err.Error()}
		}
		opt.Aggregate.States = mask
	}
	if f.from != "" || f.to != "" {
		from, to, err := convert.ResolveTimeWindow(r, f.from, f.to)
		if err != nil {
			return usageError{err.Error()}
		}
		opt.Aggregate.HasWindow = true
		opt.Aggregate.FromTicks = from
		opt.Aggregate.ToTicks = to
	}

	switch outFmt {
	case convert.OutputPprof, convert.OutputPprofGzip:
		enc, err := convert.EncodePprofFromJFR(r, opt)
		if err != nil {
			return err
		}
		return writePprof(enc, outputPath, outFmt == convert.OutputPprofGzip)
	default:
		b, err := convert.BuildFlameGraphFromJFR(r, opt)
		if err != nil {
			return err
		}
		return writeFlame(b, outputPath, outFmt)
	}
}

func writeFlame(b *flamegraph.Builder, outputPath string, outFmt convert.OutputFormat) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if outFmt == convert.OutputCollapsed {
		return b.EmitCollapsed(out)
	}
	_, err = out.WriteString(b.Render())
	return err
}

func writePprof(enc *pprofenc.Encoder, outputPath string, gz bool) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()
	return pprofenc.WriteProfile(out, enc.Finish(), gz)
}
