package trans

import (
	"errors"
	"strings"
	"testing"
)

// recordingSnippets captures every snippet request so tests can assert on
// the lowering sequence without real output templates.
type recordingSnippets struct {
	names []string
	props []map[string]string
}

func (r *recordingSnippets) Snippet(name string, props map[string]string) string {
	r.names = append(r.names, name)
	cp := make(map[string]string, len(props))
	for k, v := range props {
		cp[k] = v
	}
	r.props = append(r.props, cp)
	return "    [" + name + "]"
}

func lowerMethod(t *testing.T, m *Method, opts Options) (*MethodContext, *recordingSnippets, error) {
	t.Helper()
	rec := &recordingSnippets{}
	ctx := NewMethodContext(m, 1, 2, opts, NewClassCaches(), NewTrampolinePool("hidden/Bridges"), rec)
	err := LowerBody(ctx)
	return ctx, rec, err
}

func TestLowerBody_TracksStackAndComments(t *testing.T) {
	m := &Method{
		Owner: "a/B", Name: "m", Desc: "()I", Static: true,
		MaxStack: 2, MaxLocals: 1,
		Instructions: []*Instruction{
			{Op: ICONST_2, Kind: KindInsn},
			{Op: ICONST_3, Kind: KindInsn},
			{Op: IADD, Kind: KindInsn},
			{Op: IRETURN, Kind: KindInsn},
		},
	}
	ctx, rec, err := lowerMethod(t, m, Options{})
	if err != nil {
		t.Fatalf("LowerBody: %v", err)
	}
	out := ctx.Out.String()
	if !strings.Contains(out, "// ICONST_2; Stack: 0") {
		t.Errorf("missing first stack comment:\n%s", out)
	}
	if !strings.Contains(out, "// IADD; Stack: 2") {
		t.Errorf("missing IADD stack comment:\n%s", out)
	}
	if !strings.Contains(out, "// IRETURN; Stack: 1") {
		t.Errorf("missing IRETURN stack comment:\n%s", out)
	}
	want := []string{"ICONST_2", "ICONST_3", "IADD", "IRETURN"}
	if len(rec.names) != len(want) {
		t.Fatalf("snippets = %v, want %v", rec.names, want)
	}
	for i, n := range want {
		if rec.names[i] != n {
			t.Errorf("snippet %d = %s, want %s", i, rec.names[i], n)
		}
	}
}

func TestLowerBody_StackMismatch(t *testing.T) {
	m := &Method{
		Owner: "a/B", Name: "m", Desc: "()V", Static: true,
		MaxStack: 1, MaxLocals: 1,
		Instructions: []*Instruction{
			{Op: ICONST_0, Kind: KindInsn},
			{Op: ICONST_0, Kind: KindInsn},
		},
	}
	_, _, err := lowerMethod(t, m, Options{})
	if !errors.Is(err, ErrStackMismatch) {
		t.Errorf("got %v, want ErrStackMismatch", err)
	}

	m.Instructions = []*Instruction{{Op: POP, Kind: KindInsn}}
	_, _, err = lowerMethod(t, m, Options{})
	if !errors.Is(err, ErrStackMismatch) {
		t.Errorf("underflow: got %v, want ErrStackMismatch", err)
	}
}

func TestLowerBody_UnsupportedOpcodeFails(t *testing.T) {
	m := &Method{
		Owner: "a/B", Name: "m", Desc: "()V", Static: true,
		MaxStack: 1, MaxLocals: 1,
		Instructions: []*Instruction{{Op: JSR, Kind: KindInsn}},
	}
	_, _, err := lowerMethod(t, m, Options{})
	if !errors.Is(err, ErrUnsupportedOpcode) {
		t.Errorf("got %v, want ErrUnsupportedOpcode", err)
	}
}

func TestLowerBody_EncodedIDivGuards(t *testing.T) {
	m := &Method{
		Owner: "a/B", Name: "m", Desc: "(II)I", Static: true,
		MaxStack: 2, MaxLocals: 2,
		Instructions: []*Instruction{
			{Op: ILOAD, Kind: KindVar, Var: 0},
			{Op: ILOAD, Kind: KindVar, Var: 1},
			{Op: IDIV, Kind: KindInsn},
			{Op: IRETURN, Kind: KindInsn},
		},
	}
	ctx, _, err := lowerMethod(t, m, Options{ConstantObfuscation: true})
	if err != nil {
		t.Fatalf("LowerBody: %v", err)
	}
	out := ctx.Out.String()
	if !strings.Contains(out, "/ by zero") {
		t.Error("missing zero-divisor guard")
	}
	if !strings.Contains(out, "(jint) 2147483648U") {
		t.Error("missing min-int overflow guard")
	}
	if !strings.Contains(out, "ngen::decode_i32") {
		t.Error("division result is not masked")
	}
	// Zero check must come before the division runs.
	zero := strings.Index(out, "/ by zero")
	div := strings.Index(out, "cstack0.i / cstack1.i")
	if div < 0 {
		t.Fatalf("division expression not found:\n%s", out)
	}
	if zero > div {
		t.Error("zero-divisor check emitted after the division")
	}
}

func TestLowerBody_VirtualizedArith(t *testing.T) {
	m := &Method{
		Owner: "a/B", Name: "m", Desc: "(II)I", Static: true,
		MaxStack: 2, MaxLocals: 2,
		Instructions: []*Instruction{
			{Op: ILOAD, Kind: KindVar, Var: 0},
			{Op: ILOAD, Kind: KindVar, Var: 1},
			{Op: IXOR, Kind: KindInsn},
			{Op: IRETURN, Kind: KindInsn},
		},
	}
	ctx, _, err := lowerMethod(t, m, Options{Virtualization: true})
	if err != nil {
		t.Fatalf("LowerBody: %v", err)
	}
	out := ctx.Out.String()
	if !strings.Contains(out, "ngen::vm::run_arith(env, ngen::vm::OP_XOR, cstack0.i, cstack1.i") {
		t.Errorf("expected arithmetic vm call:\n%s", out)
	}
}

func TestLowerBody_EnumSwitchMapRewrite(t *testing.T) {
	m := &Method{
		Owner: "a/B", Name: "m", Desc: "(La/Color;)I", Static: true,
		MaxStack: 2, MaxLocals: 1,
		Instructions: []*Instruction{
			{Op: GETSTATIC, Kind: KindField, Sym: SymbolRef{Owner: "a/B$1", Name: "$SwitchMap$a$Color", Desc: "[I"}},
			{Op: ALOAD, Kind: KindVar, Var: 0},
			{Op: INVOKEVIRTUAL, Kind: KindMethod, Sym: SymbolRef{Owner: "a/Color", Name: "ordinal", Desc: "()I"}},
			{Op: IALOAD, Kind: KindInsn},
			{Op: IRETURN, Kind: KindInsn},
		},
	}
	ctx, rec, err := lowerMethod(t, m, Options{})
	if err != nil {
		t.Fatalf("LowerBody: %v", err)
	}
	out := ctx.Out.String()
	if !strings.Contains(out, "NullPointerException") {
		t.Error("rewrite must keep the null check on the map reference")
	}
	if !strings.Contains(out, "cstack1.i + 1") {
		t.Errorf("expected ordinal+1 rewrite:\n%s", out)
	}
	for _, n := range rec.names {
		if n == "IALOAD" {
			t.Error("IALOAD must not lower through its plain snippet here")
		}
	}
}

func TestLowerBody_InterruptedSwitchMapPattern(t *testing.T) {
	// An instruction between the map load and the ordinal call clears the
	// pattern; the IALOAD lowers normally.
	m := &Method{
		Owner: "a/B", Name: "m", Desc: "(La/Color;I)I", Static: true,
		MaxStack: 3, MaxLocals: 2,
		Instructions: []*Instruction{
			{Op: GETSTATIC, Kind: KindField, Sym: SymbolRef{Owner: "a/B$1", Name: "$SwitchMap$a$Color", Desc: "[I"}},
			{Op: ILOAD, Kind: KindVar, Var: 1},
			{Op: POP, Kind: KindInsn},
			{Op: ALOAD, Kind: KindVar, Var: 0},
			{Op: INVOKEVIRTUAL, Kind: KindMethod, Sym: SymbolRef{Owner: "a/Color", Name: "ordinal", Desc: "()I"}},
			{Op: IALOAD, Kind: KindInsn},
			{Op: IRETURN, Kind: KindInsn},
		},
	}
	_, rec, err := lowerMethod(t, m, Options{})
	if err != nil {
		t.Fatalf("LowerBody: %v", err)
	}
	found := false
	for _, n := range rec.names {
		if n == "IALOAD" {
			found = true
		}
	}
	if !found {
		t.Error("interrupted pattern should lower IALOAD through its snippet")
	}
}

func TestLowerBody_LdcStrategies(t *testing.T) {
	body := []*Instruction{
		{Op: LDC, Kind: KindLdc, Const: Constant{Kind: ConstInt, I: 1337}},
		{Op: POP, Kind: KindInsn},
	}
	m := &Method{Owner: "a/B", Name: "m", Desc: "()V", Static: true, MaxStack: 1, MaxLocals: 1, Instructions: body}

	_, rec, err := lowerMethod(t, m, Options{})
	if err != nil {
		t.Fatalf("raw: %v", err)
	}
	if rec.names[0] != "LDC_INT_RAW" {
		t.Errorf("raw strategy used %s", rec.names[0])
	}
	if rec.props[0]["value"] != "1337" {
		t.Errorf("raw value = %q", rec.props[0]["value"])
	}

	_, rec, err = lowerMethod(t, m, Options{ConstantObfuscation: true})
	if err != nil {
		t.Fatalf("obfuscated: %v", err)
	}
	if rec.names[0] != "LDC_INT" {
		t.Errorf("obfuscated strategy used %s", rec.names[0])
	}
	if rec.props[0]["enc"] == "1337" {
		t.Error("constant leaked unmasked into the encoded site")
	}
	if rec.props[0]["mid"] != "2" || rec.props[0]["cid"] != "1" {
		t.Errorf("site ids = %s/%s, want 2/1", rec.props[0]["mid"], rec.props[0]["cid"])
	}
}

func TestLowerBody_JumpAndLabelNames(t *testing.T) {
	l := &Label{}
	m := &Method{
		Owner: "a/B", Name: "m", Desc: "(I)V", Static: true,
		MaxStack: 1, MaxLocals: 1,
		Instructions: []*Instruction{
			{Op: ILOAD, Kind: KindVar, Var: 0},
			{Op: IFEQ, Kind: KindJump, Target: l},
			{Kind: KindLabel, Label: l},
			{Op: RETURN, Kind: KindInsn},
		},
	}
	ctx, rec, err := lowerMethod(t, m, Options{})
	if err != nil {
		t.Fatalf("LowerBody: %v", err)
	}
	var jumpProps map[string]string
	for i, n := range rec.names {
		if n == "IFEQ" {
			jumpProps = rec.props[i]
		}
	}
	if jumpProps == nil {
		t.Fatal("IFEQ never lowered")
	}
	if jumpProps["label"] != "L0" {
		t.Errorf("jump label = %q, want L0", jumpProps["label"])
	}
	if !strings.Contains(ctx.Out.String(), "L0:;") {
		t.Error("label definition missing from output")
	}
}

func TestLowerBody_TableSwitch(t *testing.T) {
	a, b, def := &Label{}, &Label{}, &Label{}
	m := &Method{
		Owner: "a/B", Name: "m", Desc: "(I)V", Static: true,
		MaxStack: 1, MaxLocals: 1,
		Instructions: []*Instruction{
			{Op: ILOAD, Kind: KindVar, Var: 0},
			{Op: TABLESWITCH, Kind: KindTableSwitch, Table: &TableSwitchOperand{
				Low: 10, High: 11, Default: def, Targets: []*Label{a, b},
			}},
			{Kind: KindLabel, Label: a},
			{Kind: KindLabel, Label: b},
			{Kind: KindLabel, Label: def},
			{Op: RETURN, Kind: KindInsn},
		},
	}
	_, rec, err := lowerMethod(t, m, Options{})
	if err != nil {
		t.Fatalf("LowerBody: %v", err)
	}
	var parts []map[string]string
	for i, n := range rec.names {
		if n == "TABLESWITCH_PART" {
			parts = append(parts, rec.props[i])
		}
	}
	if len(parts) != 2 {
		t.Fatalf("%d switch parts, want 2", len(parts))
	}
	if parts[0]["index"] != "10" || parts[1]["index"] != "11" {
		t.Errorf("case indices = %s, %s", parts[0]["index"], parts[1]["index"])
	}
}

func TestLowerBody_MethodHandleReroute(t *testing.T) {
	m := &Method{
		Owner: "a/B", Name: "m", Desc: "(Ljava/lang/invoke/MethodHandle;I)I", Static: true,
		MaxStack: 2, MaxLocals: 2,
		Instructions: []*Instruction{
			{Op: ALOAD, Kind: KindVar, Var: 0},
			{Op: ILOAD, Kind: KindVar, Var: 1},
			{Op: INVOKEVIRTUAL, Kind: KindMethod, Sym: SymbolRef{
				Owner: "java/lang/invoke/MethodHandle", Name: "invokeExact", Desc: "(I)I",
			}},
			{Op: IRETURN, Kind: KindInsn},
		},
	}
	ctx, rec, err := lowerMethod(t, m, Options{})
	if err != nil {
		t.Fatalf("LowerBody: %v", err)
	}
	call := -1
	for i, n := range rec.names {
		if n == "INVOKESTATIC_5" {
			call = i
		}
		if strings.HasPrefix(n, "INVOKEVIRTUAL") {
			t.Errorf("polymorphic call lowered as %s instead of a bridge call", n)
		}
	}
	if call < 0 {
		t.Fatal("rerouted call never lowered as INVOKESTATIC")
	}

	// The bridge takes the handle as its first argument, so the arg loop
	// and the result slot follow the bridge descriptor: handle at slot 0,
	// the int at slot 1, result back into the handle's slot.
	if call < 2 || rec.names[call-2] != "INVOKE_ARG_10" || rec.names[call-1] != "INVOKE_ARG_5" {
		t.Fatalf("bridge argument snippets around call = %v", rec.names)
	}
	if got := rec.props[call-2]["index"]; got != "0" {
		t.Errorf("handle argument index = %s, want 0", got)
	}
	if got := rec.props[call-1]["index"]; got != "1" {
		t.Errorf("int argument index = %s, want 1", got)
	}
	if got := rec.props[call]["returnstackindex"]; got != "0" {
		t.Errorf("returnstackindex = %s, want 0", got)
	}
	if got := rec.props[call]["objectstackindex"]; got != "0" {
		t.Errorf("objectstackindex = %s, want 0", got)
	}
	if len(ctx.Trampolines.All()) != 1 {
		t.Errorf("%d trampolines, want 1", len(ctx.Trampolines.All()))
	}
}
