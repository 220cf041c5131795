// Package pipeline drives whole methods through lowering: it picks the
// protection strategy per method, emits the native function around the
// lowered body, and collects the shared tables the output unit needs.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/nclabs/nativegen/microvm"
	"github.com/nclabs/nativegen/trans"
)

var log = commonlog.GetLogger("nativegen.trans")

// Result is one processed method.
type Result struct {
	// Name is the emitted native function name. It is what the
	// registration table binds to the original method.
	Name string

	// Source is the complete emitted function, signature to closing brace.
	Source string

	// Program is set when the method body was virtualized instead of
	// lowered instruction by instruction.
	Program *microvm.Program
}

// Pipeline processes the methods of one output unit against shared caches.
// Methods of independent classes may be processed from different goroutines;
// the caches synchronize internally and ids stay stable.
type Pipeline struct {
	Opts        trans.Options
	Caches      *trans.ClassCaches
	Trampolines *trans.TrampolinePool
	Snippets    trans.SnippetProvider

	translator microvm.Translator
}

// BridgeOwner is the synthetic class that receives invokedynamic bridge
// methods. It is emitted into the output unit alongside the processed
// classes.
const BridgeOwner = "ngen/Bridges"

// New creates a pipeline with fresh caches.
func New(opts trans.Options, snippets trans.SnippetProvider) *Pipeline {
	return &Pipeline{
		Opts:        opts,
		Caches:      trans.NewClassCaches(),
		Trampolines: trans.NewTrampolinePool(BridgeOwner),
		Snippets:    snippets,
	}
}

// ProcessMethod lowers m into a native function. Virtualization is attempted
// first when enabled; methods the micro-vm cannot express fall back to
// instruction-by-instruction lowering. A nil result with a nil error never
// happens: every method either lowers or errors.
func (p *Pipeline) ProcessMethod(m *trans.Method, classIndex, methodIndex int) (*Result, error) {
	md, err := trans.ParseMethodDesc(m.Desc)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s.%s%s: %w", m.Owner, m.Name, m.Desc, err)
	}

	ctx := trans.NewMethodContext(m, classIndex, methodIndex, p.Opts, p.Caches, p.Trampolines, p.Snippets)
	name := functionName(classIndex, methodIndex)

	if prog := p.tryVirtualize(ctx, m); prog != nil {
		src := emitVirtualized(m, md, name, prog)
		return &Result{Name: name, Source: src, Program: prog}, nil
	}

	src, err := emitLowered(ctx, m, md, name)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %s.%s%s: %w", m.Owner, m.Name, m.Desc, err)
	}
	return &Result{Name: name, Source: src}, nil
}

// tryVirtualize returns a program when the method can and should run on the
// micro-vm, nil otherwise. Interface methods are skipped outright: their
// receiver resolution happens through itable dispatch the vm does not model.
// Methods whose translated stream still performs method calls are also
// rejected; calling back out of the vm would expose the plain call sites the
// protection is meant to hide.
func (p *Pipeline) tryVirtualize(ctx *trans.MethodContext, m *trans.Method) *microvm.Program {
	if !p.Opts.Virtualization || m.Interface {
		return nil
	}
	key := ctx.Rand.Int64()
	prog, err := p.translator.Translate(m, key)
	if err != nil {
		if errors.Is(err, microvm.ErrUnsupported) {
			log.Debugf("vm fallback for %s.%s%s: %s", m.Owner, m.Name, m.Desc, err)
			return nil
		}
		log.Errorf("vm translation of %s.%s%s: %s", m.Owner, m.Name, m.Desc, err)
		return nil
	}
	if len(prog.Methods) > 0 {
		log.Debugf("vm fallback for %s.%s%s: %d outgoing calls", m.Owner, m.Name, m.Desc, len(prog.Methods))
		return nil
	}
	return prog
}

func functionName(classIndex, methodIndex int) string {
	return fmt.Sprintf("__ngen_m%d_%d", classIndex, methodIndex)
}

// EmitTables renders the shared declarations every emitted function indexes
// into: the weak class table with its guards, the member-id tables, the
// interned jstring table and the raw string pool. Call it once after every
// method of the unit has been processed, since processing assigns the ids.
func (p *Pipeline) EmitTables() string {
	var out strings.Builder

	nc := p.Caches.Classes.Len()
	if nc > 0 {
		fmt.Fprintf(&out, "static jclass cclasses[%d];\n", nc)
		fmt.Fprintf(&out, "static std::mutex cclasses_mtx[%d];\n", nc)
		fmt.Fprintf(&out, "static std::atomic<bool> cclasses_initialized[%d];\n", nc)
	}
	if n := p.Caches.Fields.Len(); n > 0 {
		fmt.Fprintf(&out, "static jfieldID cfields[%d];\n", n)
		fmt.Fprintf(&out, "static std::once_flag cfields_init[%d];\n", n)
	}
	if n := p.Caches.Methods.Len(); n > 0 {
		fmt.Fprintf(&out, "static jmethodID cmethods[%d];\n", n)
		fmt.Fprintf(&out, "static std::once_flag cmethods_init[%d];\n", n)
	}
	if n := p.Caches.Strings.Len(); n > 0 {
		fmt.Fprintf(&out, "static jstring cstrings[%d];\n", n)
	}

	// Interned jstrings resolve from pool data, so their UTF bytes must be
	// in the pool before it is rendered.
	var strInit strings.Builder
	if keys := p.Caches.Strings.Keys(); len(keys) > 0 {
		strInit.WriteString("static void __ngen_init_strings(JNIEnv *env) {\n")
		for i, s := range keys {
			fmt.Fprintf(&strInit, "    cstrings[%d] = (jstring) env->NewGlobalRef(env->NewStringUTF(%s));\n",
				i, p.Caches.Pool.Get(s))
		}
		strInit.WriteString("}\n")
	}

	out.WriteString("static const unsigned char string_pool[] = {")
	for i, b := range p.Caches.Pool.Bytes() {
		if i%16 == 0 {
			out.WriteString("\n   ")
		}
		fmt.Fprintf(&out, " 0x%02x,", b)
	}
	out.WriteString("\n};\n")
	out.WriteString(strInit.String())
	return out.String()
}

// signature emits the function header up to the opening brace. Static
// methods receive the class directly; instance methods receive the object
// and look the class up themselves.
func signature(out *strings.Builder, m *trans.Method, md trans.MethodDesc, name string) {
	ret := md.ReturnSort().CType()
	fmt.Fprintf(out, "// %s.%s%s\n", m.Owner, m.Name, m.Desc)
	fmt.Fprintf(out, "static %s JNICALL %s(JNIEnv *env, ", ret, name)
	if m.Static {
		out.WriteString("jclass clazz")
	} else {
		out.WriteString("jobject obj")
	}
	for i, arg := range md.Args {
		fmt.Fprintf(out, ", %s arg%d", trans.SortOf(arg).CType(), i)
	}
	out.WriteString(") {\n")
}

// zeroReturn is the statement leaving the function with a neutral value of
// the declared return type. The pending exception, if any, travels with it.
func zeroReturn(md trans.MethodDesc) string {
	s := md.ReturnSort()
	if s == trans.SortVoid {
		return "return;"
	}
	return fmt.Sprintf("return (%s) 0;", s.CType())
}

// emitLowered produces the instruction-by-instruction rendition of m.
func emitLowered(ctx *trans.MethodContext, m *trans.Method, md trans.MethodDesc, name string) (string, error) {
	var out strings.Builder
	signature(&out, m, md, name)

	if !m.Static {
		out.WriteString("    jclass clazz = env->GetObjectClass(obj);\n")
	}
	fmt.Fprintf(&out, "    jobject classloader = ngen::get_classloader(env, clazz);\n")
	fmt.Fprintf(&out, "    if (classloader == nullptr) { env->FatalError(%s); }\n",
		ctx.Caches.Pool.Get("classloader is null"))

	for i := 0; i < m.MaxStack; i++ {
		fmt.Fprintf(&out, "    jvalue %s; %s.j = 0;\n", trans.StackSlot(i), trans.StackSlot(i))
	}
	for i := 0; i < m.MaxLocals; i++ {
		fmt.Fprintf(&out, "    jvalue %s; %s.j = 0;\n", trans.LocalSlot(i), trans.LocalSlot(i))
	}

	slot := 0
	if !m.Static {
		fmt.Fprintf(&out, "    %s.l = obj;\n", trans.LocalSlot(0))
		slot = 1
	}
	for i, arg := range md.Args {
		props := map[string]string{
			"index": fmt.Sprintf("%d", slot),
			"arg":   fmt.Sprintf("arg%d", i),
		}
		out.WriteString(ctx.Snippets.Snippet(fmt.Sprintf("LOCAL_LOAD_ARG_%d", trans.SortOf(arg)), props))
		out.WriteByte('\n')
		slot += trans.TypeSlots(arg)
	}

	if len(m.Instructions) == 0 {
		fmt.Fprintf(&out, "    %s\n}\n", zeroReturn(md))
		return out.String(), nil
	}

	if err := trans.LowerBody(ctx); err != nil {
		return "", err
	}
	out.WriteString(ctx.Out.String())

	fmt.Fprintf(&out, "    %s\n", zeroReturn(md))
	fmt.Fprintf(&out, "handle_pending:\n    %s\n}\n", zeroReturn(md))
	return out.String(), nil
}

// emitVirtualized produces the thin host function that hands the method body
// to the embedded micro-vm. The program travels as its serialized form; the
// instruction words inside it are already masked with the per-method key.
func emitVirtualized(m *trans.Method, md trans.MethodDesc, name string, prog *microvm.Program) string {
	var out strings.Builder
	signature(&out, m, md, name)

	blob, err := microvm.MarshalProgram(prog)
	if err != nil {
		// Canonical encoding of a freshly built program cannot fail.
		panic(err)
	}
	out.WriteString("    static const unsigned char program[] = {")
	for i, b := range blob {
		if i%16 == 0 {
			out.WriteString("\n       ")
		}
		fmt.Fprintf(&out, " 0x%02x,", b)
	}
	out.WriteString("\n    };\n")

	nlocals := md.ArgSlots()
	if !m.Static {
		nlocals++
	}
	if nlocals < m.MaxLocals {
		nlocals = m.MaxLocals
	}
	fmt.Fprintf(&out, "    jlong vmlocals[%d];\n", nlocals)
	fmt.Fprintf(&out, "    memset(vmlocals, 0, sizeof(vmlocals));\n")

	slot := 0
	if !m.Static {
		out.WriteString("    vmlocals[0] = (jlong) (intptr_t) obj;\n")
		slot = 1
	}
	for i, arg := range md.Args {
		emitVMArg(&out, trans.SortOf(arg), slot, i)
		slot += trans.TypeSlots(arg)
	}

	fmt.Fprintf(&out, "    jlong vmret = ngen::vm::execute(env, program, sizeof(program), vmlocals, %d);\n", nlocals)
	fmt.Fprintf(&out, "    if (env->ExceptionCheck()) { %s }\n", zeroReturn(md))
	out.WriteString(emitVMReturn(md))
	out.WriteString("}\n")
	return out.String()
}

// emitVMArg transfers one declared argument into its vm local slot. Float
// and double cross over by bit pattern, never by value conversion.
func emitVMArg(out *strings.Builder, s trans.Sort, slot, arg int) {
	switch s {
	case trans.SortFloat:
		fmt.Fprintf(out, "    { jint bits; memcpy(&bits, &arg%d, sizeof(jint)); vmlocals[%d] = (jlong) bits; }\n", arg, slot)
	case trans.SortDouble:
		fmt.Fprintf(out, "    memcpy(&vmlocals[%d], &arg%d, sizeof(jlong));\n", slot, arg)
	case trans.SortLong:
		fmt.Fprintf(out, "    vmlocals[%d] = arg%d;\n", slot, arg)
	case trans.SortObject, trans.SortArray:
		fmt.Fprintf(out, "    vmlocals[%d] = (jlong) (intptr_t) arg%d;\n", slot, arg)
	default:
		fmt.Fprintf(out, "    vmlocals[%d] = (jlong) (jint) arg%d;\n", slot, arg)
	}
}

func emitVMReturn(md trans.MethodDesc) string {
	s := md.ReturnSort()
	switch s {
	case trans.SortVoid:
		return "    (void) vmret;\n    return;\n"
	case trans.SortFloat:
		return "    jfloat fret; { jint bits = (jint) vmret; memcpy(&fret, &bits, sizeof(jfloat)); }\n    return fret;\n"
	case trans.SortDouble:
		return "    jdouble dret; memcpy(&dret, &vmret, sizeof(jdouble));\n    return dret;\n"
	case trans.SortLong:
		return "    return (jlong) vmret;\n"
	case trans.SortObject, trans.SortArray:
		return fmt.Sprintf("    return (%s) (intptr_t) vmret;\n", s.CType())
	case trans.SortInt:
		return "    return (jint) vmret;\n"
	default:
		return fmt.Sprintf("    return (%s) (jint) vmret;\n", s.CType())
	}
}
