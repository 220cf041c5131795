package trans

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrStackMismatch reports a tracked stack pointer leaving the method's
// declared bounds. Lowering stops immediately; emitting past a bad pointer
// would index slots that do not exist.
var ErrStackMismatch = errors.New("trans: stack depth out of bounds")

type handlerFunc func(ctx *MethodContext, in *Instruction) error

var handlers [kindCount]handlerFunc

func init() {
	handlers[KindInsn] = handleInsn
	handlers[KindInt] = handleInt
	handlers[KindVar] = handleVar
	handlers[KindType] = handleType
	handlers[KindField] = handleField
	handlers[KindMethod] = handleMethod
	handlers[KindDynamic] = handleDynamic
	handlers[KindJump] = handleJump
	handlers[KindLabel] = handleLabel
	handlers[KindLdc] = handleLdc
	handlers[KindIinc] = handleIinc
	handlers[KindTableSwitch] = handleTableSwitch
	handlers[KindLookupSwitch] = handleLookupSwitch
	handlers[KindMultiArray] = handleMultiArray
	handlers[KindLine] = handleLine
	handlers[KindFrame] = handleFrame
}

// LowerBody lowers every instruction of the context's method in order,
// tracking the operand-stack pointer between instructions. The tracked
// pointer feeds slot names into every handler, so a delta that walks out of
// [0, MaxStack] poisons all code after it and fails the method.
func LowerBody(ctx *MethodContext) error {
	for idx, in := range ctx.Method.Instructions {
		if !in.Pseudo() {
			ctx.Emit("    // %s; Stack: %d\n", in, ctx.SP)
		}
		if err := handlers[in.Kind](ctx, in); err != nil {
			return fmt.Errorf("instruction %d (%s): %w", idx, in, err)
		}

		delta, err := StackDelta(in)
		if err != nil {
			return fmt.Errorf("instruction %d (%s): %w", idx, in, err)
		}
		sp := ctx.SP + delta
		if sp < 0 || sp > ctx.Method.MaxStack {
			return fmt.Errorf("%w: %d after %s (max %d)", ErrStackMismatch, sp, in, ctx.Method.MaxStack)
		}
		ctx.SP = sp

		updateEnumFlags(ctx, in)
	}
	return nil
}

// updateEnumFlags maintains the transient switch-map rewrite state. The
// pattern is GETSTATIC of the mapping array, a reference load, the ordinal
// call, then IALOAD. Any instruction outside the pattern clears both flags
// so an interrupted prefix never rewrites a later array load.
func updateEnumFlags(ctx *MethodContext, in *Instruction) {
	switch {
	case IsSwitchMapLoad(in.Op, in.Sym):
		ctx.enumMapOnStack = true
		ctx.enumOrdinalTop = false
	case in.Kind == KindVar && in.Op == ALOAD:
		// reference load keeps the pattern alive
	case in.Pseudo():
		// labels, line numbers and frames are transparent
	case isOrdinalCall(in) && ctx.enumMapOnStack && !ctx.enumOrdinalTop:
		ctx.enumOrdinalTop = true
	default:
		ctx.enumMapOnStack = false
		ctx.enumOrdinalTop = false
	}
}

func isOrdinalCall(in *Instruction) bool {
	return in.Kind == KindMethod && in.Op == INVOKEVIRTUAL &&
		in.Sym.Name == "ordinal" && in.Sym.Desc == "()I"
}

func (ctx *MethodContext) baseProps() map[string]string {
	return map[string]string{
		"stackindex":      strconv.Itoa(ctx.SP),
		"stackindexm1":    strconv.Itoa(ctx.SP - 1),
		"stackindexm2":    strconv.Itoa(ctx.SP - 2),
		"trycatchhandler": ctx.FailGuard,
	}
}

// LabelName returns the stable emitted name of l within this method.
func (ctx *MethodContext) LabelName(l *Label) string {
	if ctx.labels == nil {
		ctx.labels = make(map[*Label]int)
	}
	id, ok := ctx.labels[l]
	if !ok {
		id = len(ctx.labels)
		ctx.labels[l] = id
	}
	return fmt.Sprintf("L%d", id)
}

func handleInsn(ctx *MethodContext, in *Instruction) error {
	if in.Op == IALOAD && ctx.enumMapOnStack && ctx.enumOrdinalTop {
		// Switch-map rewrite: the mapped value is computed as ordinal+1
		// instead of read from the array, sidestepping mapping contents
		// that vary between compilers. The null check on the array
		// reference is preserved.
		m1 := StackSlot(ctx.SP - 1)
		m2 := StackSlot(ctx.SP - 2)
		ctx.Emit("    if (%s.l == nullptr) ngen::throw_re(env, \"java/lang/NullPointerException\", \"IALOAD\", %d); "+
			"else { %s.i = (jint) (%s.i + 1); } %s\n",
			m2, ctx.Line, m2, m1, ctx.FailGuard)
		ctx.enumMapOnStack = false
		ctx.enumOrdinalTop = false
		return nil
	}
	if ctx.lowerArith(in.Op) {
		return nil
	}
	ctx.EmitSnippet(in.Op.Name(), ctx.baseProps())
	return nil
}

func handleInt(ctx *MethodContext, in *Instruction) error {
	props := ctx.baseProps()
	props["value"] = strconv.Itoa(in.Var)
	ctx.EmitSnippet(in.Op.Name(), props)
	return nil
}

func handleVar(ctx *MethodContext, in *Instruction) error {
	props := ctx.baseProps()
	props["local"] = LocalSlot(in.Var)
	ctx.EmitSnippet(in.Op.Name(), props)
	return nil
}

func handleType(ctx *MethodContext, in *Instruction) error {
	props := ctx.baseProps()
	props["desc"] = in.Sym.Owner
	props["desc_ptr"] = ctx.EnsureClass(in.Sym.Owner)
	ctx.EmitSnippet(in.Op.Name(), props)
	return nil
}

func handleField(ctx *MethodContext, in *Instruction) error {
	static := in.Op == GETSTATIC || in.Op == PUTSTATIC
	sym := in.Sym
	sym.Static = static

	classPtr := ctx.ClassRef(sym.Owner, static)

	props := ctx.baseProps()
	if static {
		props["class_ptr"] = classPtr
	}
	props["fieldid"] = ctx.ResolveField(sym, classPtr)
	ctx.EmitSnippet(fmt.Sprintf("%s_%d", in.Op.Name(), SortOf(sym.Desc)), props)
	return nil
}

func handleMethod(ctx *MethodContext, in *Instruction) error {
	if IsHandleInvoke(in.Op, in.Sym) {
		t, err := ctx.Trampolines.Invoke(in.Sym.Desc)
		if err != nil {
			return err
		}
		rerouted := &Instruction{Op: INVOKESTATIC, Kind: KindMethod, Sym: t.Sym}
		return lowerInvoke(ctx, rerouted)
	}
	return lowerInvoke(ctx, in)
}

// lowerInvoke emits the call described by in. When a site was rerouted
// through a bridge, in already carries the bridge descriptor; the handle
// that used to be the receiver is loaded as the bridge's first argument.
func lowerInvoke(ctx *MethodContext, in *Instruction) error {
	static := in.Op == INVOKESTATIC
	sym := in.Sym
	sym.Static = static

	md, err := ParseMethodDesc(in.Sym.Desc)
	if err != nil {
		return err
	}

	classPtr := ctx.ClassRef(sym.Owner, static)
	props := ctx.baseProps()
	if static || in.Op == INVOKESPECIAL {
		props["class_ptr"] = classPtr
	}
	props["methodid"] = ctx.ResolveMethod(sym, classPtr)

	// Arguments sit above the receiver; offsets walk up from the first.
	argBase := ctx.SP - md.ArgSlots()
	args := ""
	off := argBase
	for _, a := range md.Args {
		args += ", " + ctx.Snippets.Snippet(fmt.Sprintf("INVOKE_ARG_%d", SortOf(a)),
			map[string]string{"index": strconv.Itoa(off)})
		off += TypeSlots(a)
	}
	props["args"] = args

	objIndex := argBase
	if !static {
		objIndex = argBase - 1
	}
	props["objectstackindex"] = strconv.Itoa(objIndex)
	props["returnstackindex"] = strconv.Itoa(objIndex)

	ctx.EmitSnippet(fmt.Sprintf("%s_%d", in.Op.Name(), md.ReturnSort()), props)
	return nil
}

// handleDynamic lowers a dynamic call site by resolving its bootstrap at
// translation time. Sites whose bootstrap cannot produce a concrete static
// target are not lowered.
func handleDynamic(ctx *MethodContext, in *Instruction) error {
	if in.Bootstrap == nil {
		return fmt.Errorf("%w: dynamic call site %s.%s without bootstrap", ErrUnsupportedOpcode, in.Sym.Name, in.Sym.Desc)
	}
	target, err := in.Bootstrap()
	if err != nil {
		return fmt.Errorf("%w: bootstrap for %s%s: %v", ErrUnsupportedOpcode, in.Sym.Name, in.Sym.Desc, err)
	}
	target.Static = true
	resolved := &Instruction{Op: INVOKESTATIC, Kind: KindMethod, Sym: target}
	return lowerInvoke(ctx, resolved)
}

func handleJump(ctx *MethodContext, in *Instruction) error {
	props := ctx.baseProps()
	props["label"] = ctx.LabelName(in.Target)
	ctx.EmitSnippet(in.Op.Name(), props)
	return nil
}

func handleLabel(ctx *MethodContext, in *Instruction) error {
	ctx.Emit("%s:;\n", ctx.LabelName(in.Label))
	return nil
}

func handleLdc(ctx *MethodContext, in *Instruction) error {
	props := ctx.baseProps()
	c := in.Const
	switch c.Kind {
	case ConstString:
		props["cst_ptr"] = ctx.CachedString(c.S)
		ctx.EmitSnippet("LDC_STRING", props)
	case ConstInt:
		if ctx.Opts.ConstantObfuscation {
			putEncodedInt32(props, ctx.Enc.Int32(c.I))
			ctx.EmitSnippet("LDC_INT", props)
		} else {
			props["value"] = IntLiteral(c.I)
			ctx.EmitSnippet("LDC_INT_RAW", props)
		}
	case ConstLong:
		if ctx.Opts.ConstantObfuscation {
			putEncodedInt64(props, ctx.Enc.Int64(c.L))
			ctx.EmitSnippet("LDC_LONG", props)
		} else {
			props["value"] = LongLiteral(c.L)
			ctx.EmitSnippet("LDC_LONG_RAW", props)
		}
	case ConstFloat:
		if ctx.Opts.ConstantObfuscation {
			putEncodedInt32(props, ctx.Enc.Float32(c.F))
			ctx.EmitSnippet("LDC_FLOAT", props)
		} else {
			props["value"] = FloatLiteral(c.F)
			ctx.EmitSnippet("LDC_FLOAT_RAW", props)
		}
	case ConstDouble:
		if ctx.Opts.ConstantObfuscation {
			putEncodedInt64(props, ctx.Enc.Float64(c.D))
			ctx.EmitSnippet("LDC_DOUBLE", props)
		} else {
			props["value"] = DoubleLiteral(c.D)
			ctx.EmitSnippet("LDC_DOUBLE_RAW", props)
		}
	case ConstClass:
		props["class_ptr"] = ctx.EnsureClass(c.S)
		ctx.EmitSnippet("LDC_CLASS", props)
	default:
		return fmt.Errorf("%w: LDC of unknown constant kind %d", ErrUnsupportedOpcode, c.Kind)
	}
	return nil
}

func putEncodedInt32(props map[string]string, e EncodedInt32) {
	props["enc"] = IntLiteral(e.Enc)
	props["key"] = IntLiteral(e.Key)
	props["mid"] = strconv.Itoa(e.MID)
	props["cid"] = strconv.Itoa(e.CID)
	props["seed"] = IntLiteral(e.Seed)
}

func putEncodedInt64(props map[string]string, e EncodedInt64) {
	props["enc"] = LongLiteral(e.Enc)
	props["key"] = LongLiteral(e.Key)
	props["mid"] = strconv.Itoa(e.MID)
	props["cid"] = strconv.Itoa(e.CID)
	props["seed"] = IntLiteral(e.Seed)
}

func handleIinc(ctx *MethodContext, in *Instruction) error {
	props := ctx.baseProps()
	props["local"] = LocalSlot(in.Var)
	props["incr"] = strconv.Itoa(in.Incr)
	ctx.EmitSnippet("IINC", props)
	return nil
}

func handleTableSwitch(ctx *MethodContext, in *Instruction) error {
	t := in.Table
	ctx.EmitSnippet("TABLESWITCH_START", ctx.baseProps())
	for i, target := range t.Targets {
		ctx.EmitSnippet("TABLESWITCH_PART", map[string]string{
			"index": strconv.FormatInt(int64(t.Low)+int64(i), 10),
			"label": ctx.LabelName(target),
		})
	}
	ctx.EmitSnippet("TABLESWITCH_DEFAULT", map[string]string{
		"label": ctx.LabelName(t.Default),
	})
	ctx.Emit("    }\n")
	return nil
}

func handleLookupSwitch(ctx *MethodContext, in *Instruction) error {
	l := in.Lookup
	ctx.EmitSnippet("LOOKUPSWITCH_START", ctx.baseProps())
	for i, key := range l.Keys {
		ctx.EmitSnippet("LOOKUPSWITCH_PART", map[string]string{
			"index": strconv.FormatInt(int64(key), 10),
			"label": ctx.LabelName(l.Targets[i]),
		})
	}
	ctx.EmitSnippet("LOOKUPSWITCH_DEFAULT", map[string]string{
		"label": ctx.LabelName(l.Default),
	})
	ctx.Emit("    }\n")
	return nil
}

func handleMultiArray(ctx *MethodContext, in *Instruction) error {
	props := ctx.baseProps()
	props["desc_ptr"] = ctx.EnsureClass(in.Sym.Owner)
	props["count"] = strconv.Itoa(in.Dims)
	ctx.EmitSnippet("MULTIANEWARRAY", props)
	return nil
}

func handleLine(ctx *MethodContext, in *Instruction) error {
	ctx.Line = in.Line
	return nil
}

func handleFrame(ctx *MethodContext, in *Instruction) error {
	return nil
}
