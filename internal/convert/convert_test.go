package convert

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jfrconv/jfrconv/internal/flamegraph"
	"github.com/jfrconv/jfrconv/internal/jfr"
)

func TestDetectInputFormatByExtension(t *testing.T) {
	cases := map[string]InputFormat{
		"profile.jfr":       InputJFR,
		"profile.collapsed": InputCollapsed,
		"profile.txt":       InputCollapsed,
		"profile.csv":       InputCollapsed,
	}
	for path, want := range cases {
		if got := DetectInputFormat(path, nil); got != want {
			t.Errorf("DetectInputFormat(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestDetectInputFormatByMagic(t *testing.T) {
	if got := DetectInputFormat("recording.bin", []byte("FLR\x00rest")); got != InputJFR {
		t.Errorf("magic-detected JFR = %v, want InputJFR", got)
	}
	if got := DetectInputFormat("recording.bin", []byte("junk")); got != InputCollapsed {
		t.Errorf("non-magic input = %v, want InputCollapsed", got)
	}
}

func TestDetectOutputFormat(t *testing.T) {
	cases := map[string]OutputFormat{
		"out.html":         OutputHTML,
		"out":              OutputHTML,
		"out.collapsed":    OutputCollapsed,
		"out.txt":          OutputCollapsed,
		"out.pprof":        OutputPprof,
		"out.pprof.gz":     OutputPprofGzip,
		"out.somethingelse.gz": OutputHTML,
	}
	for path, want := range cases {
		if got := DetectOutputFormat(path); got != want {
			t.Errorf("DetectOutputFormat(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestDeepestNonNativeTitleSkipsNativeTiers(t *testing.T) {
	frames := []resolvedFrame{
		{Title: "root", Type: jfr.Interpreted},
		{Title: "libc_call", Type: jfr.Native},
		{Title: "kernel_syscall", Type: jfr.Kernel},
	}
	got := deepestNonNativeTitle(frames, true)
	if got != "root" {
		t.Errorf("deepestNonNativeTitle = %q, want %q", got, "root")
	}
}

func TestDeepestNonNativeTitleFallsBackToLeaf(t *testing.T) {
	frames := []resolvedFrame{
		{Title: "libc_call", Type: jfr.Native},
		{Title: "kernel_syscall", Type: jfr.Kernel},
	}
	got := deepestNonNativeTitle(frames, true)
	if got != "kernel_syscall" {
		t.Errorf("deepestNonNativeTitle = %q, want the leaf frame when every frame is native-like", got)
	}
}

func TestBuildFlameGraphFromCollapsedEndToEnd(t *testing.T) {
	input := "a;b;c 5\nA;b;d 2\n"
	b, err := BuildFlameGraphFromCollapsed(strings.NewReader(input), flamegraph.Options{Title: "t"})
	if err != nil {
		t.Fatalf("BuildFlameGraphFromCollapsed: %v", err)
	}
	if b.RootTotal() != 7 {
		t.Errorf("RootTotal = %d, want 7", b.RootTotal())
	}

	var out bytes.Buffer
	if err := b.EmitCollapsed(&out); err != nil {
		t.Fatalf("EmitCollapsed: %v", err)
	}
	if out.Len() == 0 {
		t.Errorf("EmitCollapsed produced no output")
	}
}

func TestBuildFlameGraphFromCollapsedRendersHTML(t *testing.T) {
	b, err := BuildFlameGraphFromCollapsed(strings.NewReader("a;b 1\n"), flamegraph.Options{Title: "My Profile"})
	if err != nil {
		t.Fatalf("BuildFlameGraphFromCollapsed: %v", err)
	}
	html := b.Render()
	if !strings.Contains(html, "My Profile") {
		t.Errorf("rendered HTML missing page title")
	}
}
