package trans

import (
	"fmt"
	"strings"
)

// Options selects which protections apply during lowering.
type Options struct {
	Virtualization      bool
	ConstantObfuscation bool
	Seed                int64
}

// SnippetProvider supplies the per-opcode output templates. Lowering fills a
// property map and asks for the snippet by name; the provider owns the
// actual target-source text.
type SnippetProvider interface {
	Snippet(name string, props map[string]string) string
}

// SnippetFunc adapts a function to SnippetProvider.
type SnippetFunc func(name string, props map[string]string) string

func (f SnippetFunc) Snippet(name string, props map[string]string) string {
	return f(name, props)
}

// ClassCaches holds the dense-id pools shared by every method of one output
// unit. Ids are stable across methods so the emitted runtime tables line up.
type ClassCaches struct {
	Classes *Cache[string]
	Strings *Cache[string]
	Fields  *Cache[SymbolRef]
	Methods *Cache[SymbolRef]
	Pool    *StringPool
}

// NewClassCaches returns empty pools.
func NewClassCaches() *ClassCaches {
	return &ClassCaches{
		Classes: NewCache[string](),
		Strings: NewCache[string](),
		Fields:  NewCache[SymbolRef](),
		Methods: NewCache[SymbolRef](),
		Pool:    NewStringPool(),
	}
}

// MethodContext carries everything one method's lowering needs: the
// instruction list, the shared caches, the output buffer with its tracked
// stack pointer, and the seeded generator. One context per method; contexts
// are not shared between goroutines.
type MethodContext struct {
	Method      *Method
	ClassIndex  int
	MethodIndex int
	Opts        Options

	Rand *Rand
	Enc  *Encoder

	Caches      *ClassCaches
	Trampolines *TrampolinePool
	Snippets    SnippetProvider

	// FailGuard is the target-source fragment appended after any runtime
	// call that can leave a pending exception. It routes control to the
	// method's dispatch of active try regions.
	FailGuard string

	Out  strings.Builder
	SP   int
	Line int

	labels map[*Label]int

	// Transient enum-switch rewrite state, maintained by the dispatch loop.
	enumMapOnStack bool
	enumOrdinalTop bool
}

// NewMethodContext builds a context for m. The generator is seeded from the
// global seed, the class index and the method index so a rebuild with the
// same inputs reproduces identical output.
func NewMethodContext(m *Method, classIndex, methodIndex int, opts Options, caches *ClassCaches, pool *TrampolinePool, snippets SnippetProvider) *MethodContext {
	rnd := NewRand(opts.Seed ^ int64(classIndex)<<32 ^ int64(methodIndex))
	return &MethodContext{
		Method:      m,
		ClassIndex:  classIndex,
		MethodIndex: methodIndex,
		Opts:        opts,
		Rand:        rnd,
		Enc:         &Encoder{Rand: rnd, MID: methodIndex, CID: classIndex},
		Caches:      caches,
		Trampolines: pool,
		Snippets:    snippets,
		FailGuard:   "if (env->ExceptionCheck()) { goto handle_pending; }",
	}
}

// Emit appends formatted target source to the method body.
func (ctx *MethodContext) Emit(format string, args ...any) {
	fmt.Fprintf(&ctx.Out, format, args...)
}

// EmitSnippet renders the named snippet with props and appends it.
func (ctx *MethodContext) EmitSnippet(name string, props map[string]string) {
	ctx.Out.WriteString(ctx.Snippets.Snippet(name, props))
	ctx.Out.WriteByte('\n')
}

// StackSlot names the jvalue slot at depth sp.
func StackSlot(sp int) string {
	return fmt.Sprintf("cstack%d", sp)
}

// LocalSlot names the jvalue slot of local variable idx.
func LocalSlot(idx int) string {
	return fmt.Sprintf("clocal%d", idx)
}
