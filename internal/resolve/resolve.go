// Package resolve maps the interned method/class/thread IDs a jfr.Reader
// owns into displayable names under configurable normalization rules.
package resolve

import (
	"fmt"
	"strings"

	"github.com/jfrconv/jfrconv/internal/jfr"
)

// source is the subset of *jfr.Reader the resolver needs; kept as an
// interface so tests can supply a fake dictionary without building a full
// chunked file.
type source interface {
	GetSymbol(jfr.SymbolID) (string, bool)
	GetClass(jfr.ClassID) (jfr.ClassRef, bool)
	GetMethod(jfr.MethodID) (jfr.MethodRef, bool)
	GetThreadName(jfr.ThreadID) (string, bool)
	NativeMeansC() bool
}

// Options controls the class-name transforms described in spec.md 4.2.
type Options struct {
	Norm   bool
	Simple bool
	Dot    bool
}

// Resolver borrows a reader's dictionaries and caches nothing itself; the
// name cache lives in internal/convert's frameCache, which calls
// ResolveMethodName once per frame of each distinct stack trace.
type Resolver struct {
	r   source
	opt Options
}

func New(r source, opt Options) *Resolver {
	return &Resolver{r: r, opt: opt}
}

// isNativeLike reports whether frameType should skip the ClassName.method
// formatting and return the raw method name instead.
func isNativeLike(ft jfr.FrameType, nativeMeansC bool) bool {
	if ft == jfr.Cpp || ft == jfr.Kernel {
		return true
	}
	if ft == jfr.Native && nativeMeansC {
		return true
	}
	return false
}

// ResolveMethodName implements spec.md 4.2's resolveMethodName.
func (r *Resolver) ResolveMethodName(id jfr.MethodID, frameType jfr.FrameType) string {
	m, ok := r.r.GetMethod(id)
	if !ok {
		return "unknown"
	}
	methodName, _ := r.r.GetSymbol(m.Name)

	if isNativeLike(frameType, r.r.NativeMeansC()) {
		return methodName
	}

	className := r.ResolveClassName(m.Class)
	if className == "" {
		return methodName
	}
	return className + "." + methodName
}

// ResolveClassName implements spec.md 4.2's resolveClassName: count leading
// '[' bytes as array depth, transform the element name, append "[]" per
// depth.
func (r *Resolver) ResolveClassName(id jfr.ClassID) string {
	c, ok := r.r.GetClass(id)
	if !ok {
		return "unknown"
	}
	raw, _ := r.r.GetSymbol(c.Name)

	depth := 0
	for depth < len(raw) && raw[depth] == '[' {
		depth++
	}
	name := r.ToJavaClassName(raw[depth:])
	return name + strings.Repeat("[]", depth)
}

// ResolveThreadName implements spec.md 4.2's resolveThreadName.
func (r *Resolver) ResolveThreadName(tid jfr.ThreadID) string {
	name, ok := r.r.GetThreadName(tid)
	if !ok || name == "" {
		return fmt.Sprintf("[tid=%d]", tid)
	}
	return fmt.Sprintf("[%s tid=%d]", name, tid)
}

var primitiveNames = map[byte]string{
	'B': "byte",
	'C': "char",
	'S': "short",
	'I': "int",
	'J': "long",
	'Z': "boolean",
	'F': "float",
	'D': "double",
}

// ToJavaClassName implements spec.md 4.2's toJavaClassName: descriptor
// stripping followed by --norm/--simple/--dot transforms, in that order.
func (r *Resolver) ToJavaClassName(name string) string {
	name = stripDescriptor(name)
	if r.opt.Norm {
		name = normalizeHiddenOrLambda(name)
	}
	if r.opt.Simple {
		name = simplifyPath(name)
	}
	if r.opt.Dot {
		name = strings.ReplaceAll(name, "/", ".")
	}
	return name
}

func stripDescriptor(name string) string {
	if name == "" {
		return name
	}
	if prim, ok := primitiveNames[name[0]]; ok && len(name) == 1 {
		return prim
	}
	if name[0] == 'L' && strings.HasSuffix(name, ";") {
		return name[1 : len(name)-1]
	}
	return name
}

// normalizeHiddenOrLambda truncates the "…/<digits>" or "…\.<digits>" tail
// a hidden-class or lambda name carries, and additionally strips the
// "$$Lambda+0xADDR" shape when a "+0" marker appears in the preceding 19
// bytes of the slash.
func normalizeHiddenOrLambda(name string) string {
	cut := trailingDigitsSeparatorIndex(name)
	if cut < 0 {
		return name
	}
	if cut >= 19 {
		window := name[cut-19 : cut]
		if idx := strings.LastIndex(window, "+0"); idx >= 0 {
			return name[:cut-19+idx]
		}
	}
	return name[:cut]
}

// trailingDigitsSeparatorIndex returns the index of the last '/' or '.'
// such that everything after it is ASCII digits, or -1 if the name doesn't
// have that shape.
func trailingDigitsSeparatorIndex(name string) int {
	i := len(name)
	for i > 0 && isDigit(name[i-1]) {
		i--
	}
	if i == len(name) || i == 0 {
		return -1
	}
	sep := name[i-1]
	if sep != '/' && sep != '.' {
		return -1
	}
	return i - 1
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// simplifyPath strips any path prefix up to the last '/' that is not
// followed by a digit.
func simplifyPath(name string) string {
	last := -1
	for i := 0; i < len(name); i++ {
		if name[i] != '/' {
			continue
		}
		if i+1 < len(name) && isDigit(name[i+1]) {
			continue
		}
		last = i
	}
	if last < 0 {
		return name
	}
	return name[last+1:]
}
