package trans

import "fmt"

// Integer arithmetic lowers through one of three mutually exclusive
// strategies. With virtualization on, the operation becomes a call into the
// runtime arithmetic VM, optionally preceded by a junk VM call on a coin
// flip. With constant obfuscation on, the plain operation runs but its
// result round-trips through the mask codec so the raw value never rests in
// the slot unencoded. Otherwise the caller falls through to the direct
// snippet.

type arithInfo struct {
	vmOp  string
	unary bool
	wide  bool // result is a jlong
	junk  bool // eligible for a junk-call prefix
	expr  func(a, b string) string
}

var arithOps = map[Opcode]arithInfo{
	IADD: {vmOp: "OP_ADD", junk: true, expr: func(a, b string) string { return fmt.Sprintf("(%s.i + %s.i)", a, b) }},
	ISUB: {vmOp: "OP_SUB", junk: true, expr: func(a, b string) string { return fmt.Sprintf("(%s.i - %s.i)", a, b) }},
	IMUL: {vmOp: "OP_MUL", junk: true, expr: func(a, b string) string { return fmt.Sprintf("(%s.i * %s.i)", a, b) }},
	IDIV: {vmOp: "OP_DIV", junk: true}, // encoded path has its own guards
	IAND: {vmOp: "OP_AND", junk: true, expr: func(a, b string) string { return fmt.Sprintf("(%s.i & %s.i)", a, b) }},
	IOR:  {vmOp: "OP_OR", junk: true, expr: func(a, b string) string { return fmt.Sprintf("(%s.i | %s.i)", a, b) }},
	IXOR: {vmOp: "OP_XOR", junk: true, expr: func(a, b string) string { return fmt.Sprintf("(%s.i ^ %s.i)", a, b) }},
	ISHL: {vmOp: "OP_SHL", expr: func(a, b string) string { return fmt.Sprintf("(%s.i << (0x1f & %s.i))", a, b) }},
	ISHR: {vmOp: "OP_SHR", expr: func(a, b string) string { return fmt.Sprintf("(%s.i >> (0x1f & %s.i))", a, b) }},
	IUSHR: {vmOp: "OP_USHR", expr: func(a, b string) string {
		return fmt.Sprintf("((jint)(((uint32_t) %s.i) >> (((uint32_t) %s.i) & 0x1f)))", a, b)
	}},
	INEG: {vmOp: "OP_NEG", unary: true, expr: func(a, _ string) string { return fmt.Sprintf("(-%s.i)", a) }},
	I2B:  {vmOp: "OP_I2B", unary: true, expr: func(a, _ string) string { return fmt.Sprintf("((jint)(jbyte) %s.i)", a) }},
	I2C:  {vmOp: "OP_I2C", unary: true, expr: func(a, _ string) string { return fmt.Sprintf("((jint)(jchar) %s.i)", a) }},
	I2S:  {vmOp: "OP_I2S", unary: true, expr: func(a, _ string) string { return fmt.Sprintf("((jint)(jshort) %s.i)", a) }},
	I2L:  {vmOp: "OP_I2L", unary: true, wide: true, expr: func(a, _ string) string { return fmt.Sprintf("((jlong) %s.i)", a) }},
}

// lowerArith handles op if a protected strategy applies. It returns false
// when the direct snippet should run instead.
func (ctx *MethodContext) lowerArith(op Opcode) bool {
	info, ok := arithOps[op]
	if !ok {
		return false
	}
	m1 := StackSlot(ctx.SP - 1)
	m2 := StackSlot(ctx.SP - 2)
	switch {
	case ctx.Opts.Virtualization:
		ctx.emitArithVM(op, info, m1, m2)
	case ctx.Opts.ConstantObfuscation:
		if op == IDIV {
			ctx.emitEncodedIntDiv(m2, m1)
			return true
		}
		target := m2
		a, b := m2, m1
		if info.unary {
			target, a = m1, m1
		}
		if info.wide {
			ctx.emitEncodedLongResult(target, info.expr(a, b))
		} else {
			ctx.emitEncodedIntResult(target, info.expr(a, b))
		}
	default:
		return false
	}
	return true
}

func (ctx *MethodContext) emitArithVM(op Opcode, info arithInfo, m1, m2 string) {
	seed := ctx.Rand.Int64()
	if info.junk && ctx.Rand.Bool() {
		junkSeed := ctx.Rand.Int64()
		junkIdx := 1
		if ctx.Rand.Bool() {
			junkIdx = 2
		}
		ctx.Emit("    ngen::vm::run_arith(env, ngen::vm::OP_JUNK%d, 0, 0, %dLL); %s\n",
			junkIdx, junkSeed, ctx.FailGuard)
	}
	if info.unary {
		target := m1 + ".i"
		cast := "(jint) "
		if info.wide {
			target = m1 + ".j"
			cast = ""
		}
		ctx.Emit("    %s = %sngen::vm::run_unary(env, ngen::vm::%s, %s.i, %dLL); %s\n",
			target, cast, info.vmOp, m1, seed, ctx.FailGuard)
		return
	}
	ctx.Emit("    %s.i = (jint) ngen::vm::run_arith(env, ngen::vm::%s, %s.i, %s.i, %dLL); %s\n",
		m2, info.vmOp, m2, m1, seed, ctx.FailGuard)
}

// emitEncodedIntResult stores expr into target via an encode/decode pair so
// the plain result value never persists in emitted state.
func (ctx *MethodContext) emitEncodedIntResult(target, expr string) {
	key := ctx.Rand.Int32()
	seed := ctx.Rand.Int32()
	keyLit, seedLit := IntLiteral(key), IntLiteral(seed)
	ctx.Emit("    { jint __ng_res = %s; jint __ng_mix = ngen::decode_i32(0, %s, %d, %d, %s); "+
		"jint __ng_enc = __ng_res ^ __ng_mix; %s.i = ngen::decode_i32(__ng_enc, %s, %d, %d, %s); } %s\n",
		expr, keyLit, ctx.MethodIndex, ctx.ClassIndex, seedLit,
		target, keyLit, ctx.MethodIndex, ctx.ClassIndex, seedLit, ctx.FailGuard)
}

func (ctx *MethodContext) emitEncodedLongResult(target, expr string) {
	key := ctx.Rand.Int64()
	seed := ctx.Rand.Int32()
	keyLit, seedLit := LongLiteral(key), IntLiteral(seed)
	ctx.Emit("    { jlong __ng_res = %s; jlong __ng_mix = ngen::decode_i64(0LL, %s, %d, %d, %s); "+
		"jlong __ng_enc = __ng_res ^ __ng_mix; %s.j = ngen::decode_i64(__ng_enc, %s, %d, %d, %s); } %s\n",
		expr, keyLit, ctx.MethodIndex, ctx.ClassIndex, seedLit,
		target, keyLit, ctx.MethodIndex, ctx.ClassIndex, seedLit, ctx.FailGuard)
}

// emitEncodedIntDiv is IDIV with the two guards the plain operation needs:
// dividing the minimum int by -1 short-circuits, leaving the dividend slot
// untouched since the wrapped result is already sitting there, and a zero
// divisor throws before any division runs.
func (ctx *MethodContext) emitEncodedIntDiv(dividend, divisor string) {
	key := ctx.Rand.Int32()
	seed := ctx.Rand.Int32()
	keyLit, seedLit := IntLiteral(key), IntLiteral(seed)
	ctx.Emit("    if (%s.i == -1 && %s.i == ((jint) 2147483648U)) { } else { "+
		"if (%s.i == 0) { ngen::throw_re(env, \"java/lang/ArithmeticException\", \"/ by zero\", %d); %s } else { "+
		"jint __ng_res = %s.i / %s.i; jint __ng_mix = ngen::decode_i32(0, %s, %d, %d, %s); "+
		"jint __ng_enc = __ng_res ^ __ng_mix; %s.i = ngen::decode_i32(__ng_enc, %s, %d, %d, %s); } } %s\n",
		divisor, dividend,
		divisor, ctx.Line, ctx.FailGuard,
		dividend, divisor, keyLit, ctx.MethodIndex, ctx.ClassIndex, seedLit,
		dividend, keyLit, ctx.MethodIndex, ctx.ClassIndex, seedLit, ctx.FailGuard)
}
