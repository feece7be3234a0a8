// Package classify maps a stack trace to a fixed category (GC, JIT,
// Network, Filesystem, Java, Native) by matching the deepest non-native
// frame's method name against a static, first-match-wins rule table. The
// rules are data, loaded once from an embedded Starlark script rather than
// hard-coded as a Go literal or left user-configurable, per spec.md 4.4.
package classify

import (
	"embed"
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/jfrconv/jfrconv/internal/jfr"
)

//go:embed rules.star
var rulesSource embed.FS

// Rule is one (prefix, category, frameType) entry from rules.star.
type Rule struct {
	Prefix    string
	Category  string
	FrameType jfr.FrameType
}

var frameTypeByName = map[string]jfr.FrameType{
	"interpreted":  jfr.Interpreted,
	"jit_compiled": jfr.JitCompiled,
	"inlined":      jfr.Inlined,
	"native":       jfr.Native,
	"cpp":          jfr.Cpp,
	"kernel":       jfr.Kernel,
	"c1_compiled":  jfr.C1Compiled,
}

var rules []Rule

func init() {
	src, err := rulesSource.ReadFile("rules.star")
	if err != nil {
		panic(fmt.Sprintf("classify: embedded rules.star unreadable: %v", err))
	}
	thread := &starlark.Thread{Name: "classify-rules"}
	globals, err := starlark.ExecFile(thread, "rules.star", src, nil)
	if err != nil {
		panic(fmt.Sprintf("classify: rules.star: %v", err))
	}
	list, ok := globals["RULES"].(*starlark.List)
	if !ok {
		panic("classify: rules.star must define RULES as a list")
	}
	rules = make([]Rule, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		tup, ok := list.Index(i).(starlark.Tuple)
		if !ok || tup.Len() != 3 {
			panic(fmt.Sprintf("classify: RULES[%d] is not a 3-tuple", i))
		}
		prefix, _ := starlark.AsString(tup[0])
		category, _ := starlark.AsString(tup[1])
		ftName, _ := starlark.AsString(tup[2])
		ft, ok := frameTypeByName[ftName]
		if !ok {
			panic(fmt.Sprintf("classify: RULES[%d] unknown frame type %q", i, ftName))
		}
		rules = append(rules, Rule{Prefix: prefix, Category: category, FrameType: ft})
	}
}

// Classify returns the (title, FrameType) for the first rule whose prefix
// matches name, the deepest non-native frame's resolved method name, or
// ("Native", Native) if nothing matches.
func Classify(name string) (string, jfr.FrameType) {
	for _, r := range rules {
		if strings.HasPrefix(name, r.Prefix) {
			return r.Category, r.FrameType
		}
	}
	return "Native", jfr.Native
}
