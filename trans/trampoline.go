package trans

import (
	"fmt"
	"strings"
	"sync"
)

// Signature-polymorphic MethodHandle invocations cannot go through a plain
// jmethodID call: the callee is selected by the erased call-site descriptor.
// Lowering reroutes them through synthesized static bridge methods that stay
// in bytecode, where the invocation keeps its polymorphic linkage. Bridges
// are deduplicated by (kind, simplified descriptor) so each shape is
// synthesized once per output unit.

const methodHandleClass = "java/lang/invoke/MethodHandle"

// TrampolineKind distinguishes the two bridge shapes.
type TrampolineKind string

const (
	// TrampolineInvoke bridges MethodHandle.invoke/invokeExact with the
	// handle as the leading argument.
	TrampolineInvoke TrampolineKind = "mhinvoke"
	// TrampolineInvokeReverse bridges call sites that leave the handle on
	// top of the stack, above the arguments.
	TrampolineInvokeReverse TrampolineKind = "invokereverse"
)

// Trampoline is one synthesized bridge: the static symbol call sites are
// rewritten to target, and the bytecode body to add to the hidden class.
type Trampoline struct {
	Kind TrampolineKind
	Sym  SymbolRef
	Body *Method
}

// TrampolinePool dedupes bridges by kind and bridge descriptor.
type TrampolinePool struct {
	mu    sync.Mutex
	owner string
	byKey map[string]*Trampoline
	order []*Trampoline
}

// NewTrampolinePool creates a pool emitting bridges into the class named
// owner (an internal name, e.g. "native0/hidden/Bridges").
func NewTrampolinePool(owner string) *TrampolinePool {
	return &TrampolinePool{owner: owner, byKey: make(map[string]*Trampoline)}
}

// All returns the synthesized bridges in creation order.
func (p *TrampolinePool) All() []*Trampoline {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Trampoline, len(p.order))
	copy(out, p.order)
	return out
}

func (p *TrampolinePool) intern(kind TrampolineKind, bridgeDesc string, build func(name string) *Method) *Trampoline {
	key := string(kind) + bridgeDesc
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.byKey[key]; ok {
		return t
	}
	name := fmt.Sprintf("%s%d", kind, len(p.order))
	t := &Trampoline{
		Kind: kind,
		Sym:  SymbolRef{Owner: p.owner, Name: name, Desc: bridgeDesc, Static: true},
		Body: build(name),
	}
	p.byKey[key] = t
	p.order = append(p.order, t)
	return t
}

// Invoke returns the bridge for a MethodHandle.invoke/invokeExact call site
// with descriptor siteDesc. The bridge takes the handle first, then the
// simplified arguments.
func (p *TrampolinePool) Invoke(siteDesc string) (*Trampoline, error) {
	mhDesc, err := SimplifyDesc(siteDesc)
	if err != nil {
		return nil, err
	}
	md, err := ParseMethodDesc(mhDesc)
	if err != nil {
		return nil, err
	}
	bridge := MethodDesc{
		Args:   append([]string{"L" + methodHandleClass + ";"}, md.Args...),
		Return: md.Return,
	}
	return p.intern(TrampolineInvoke, bridge.String(), func(name string) *Method {
		return buildBridge(p.owner, name, bridge, md, 0)
	}), nil
}

// InvokeReverse returns the bridge for a reversed call site: the operand
// stack holds the arguments first and the handle on top, so the bridge takes
// the handle last.
func (p *TrampolinePool) InvokeReverse(siteDesc string) (*Trampoline, error) {
	simp, err := SimplifyDesc(siteDesc)
	if err != nil {
		return nil, err
	}
	md, err := ParseMethodDesc(simp)
	if err != nil {
		return nil, err
	}
	if len(md.Args) == 0 {
		return nil, fmt.Errorf("trans: reversed invoke site %q has no handle argument", siteDesc)
	}
	bridge := MethodDesc{
		Args:   append(append([]string{}, md.Args[:len(md.Args)-1]...), "L"+methodHandleClass+";"),
		Return: md.Return,
	}
	target := MethodDesc{Args: md.Args[:len(md.Args)-1], Return: md.Return}
	handleSlot := 0
	for _, a := range target.Args {
		handleSlot += TypeSlots(a)
	}
	return p.intern(TrampolineInvokeReverse, bridge.String(), func(name string) *Method {
		return buildBridge(p.owner, name, bridge, target, handleSlot)
	}), nil
}

// buildBridge synthesizes the bridge body: load the handle, load the target
// arguments from the leading locals, invoke, return.
func buildBridge(owner, name string, bridge, target MethodDesc, handleSlot int) *Method {
	var ins []*Instruction
	ins = append(ins, &Instruction{Op: ALOAD, Kind: KindVar, Var: handleSlot})
	slot := 0
	if handleSlot == 0 {
		slot = 1
	}
	for _, a := range target.Args {
		ins = append(ins, &Instruction{Op: loadOpcode(SortOf(a)), Kind: KindVar, Var: slot})
		slot += TypeSlots(a)
	}
	ins = append(ins, &Instruction{
		Op:   INVOKEVIRTUAL,
		Kind: KindMethod,
		Sym:  SymbolRef{Owner: methodHandleClass, Name: "invoke", Desc: target.String()},
	})
	ins = append(ins, &Instruction{Op: returnOpcode(SortOf(bridge.Return)), Kind: KindInsn})

	maxLocals := 0
	for _, a := range bridge.Args {
		maxLocals += TypeSlots(a)
	}
	maxStack := maxLocals
	if rs := TypeSlots(bridge.Return); maxStack < rs {
		maxStack = rs
	}
	return &Method{
		Owner:        owner,
		Name:         name,
		Desc:         bridge.String(),
		Static:       true,
		MaxStack:     maxStack,
		MaxLocals:    maxLocals,
		Instructions: ins,
	}
}

func loadOpcode(s Sort) Opcode {
	switch s {
	case SortLong:
		return LLOAD
	case SortFloat:
		return FLOAD
	case SortDouble:
		return DLOAD
	case SortObject, SortArray:
		return ALOAD
	}
	return ILOAD
}

func returnOpcode(s Sort) Opcode {
	switch s {
	case SortVoid:
		return RETURN
	case SortLong:
		return LRETURN
	case SortFloat:
		return FRETURN
	case SortDouble:
		return DRETURN
	case SortObject, SortArray:
		return ARETURN
	}
	return IRETURN
}

// IsHandleInvoke reports whether sym is a signature-polymorphic
// MethodHandle invocation that must be trampolined.
func IsHandleInvoke(op Opcode, sym SymbolRef) bool {
	return op == INVOKEVIRTUAL &&
		sym.Owner == methodHandleClass &&
		(sym.Name == "invoke" || sym.Name == "invokeExact")
}

// IsSwitchMapLoad reports whether a GETSTATIC loads a synthetic enum
// switch-map array. Heuristic: keyed on the compiler naming convention and
// the int-array descriptor, contents are not validated.
func IsSwitchMapLoad(op Opcode, sym SymbolRef) bool {
	return op == GETSTATIC && sym.Desc == "[I" && strings.HasPrefix(sym.Name, "$SwitchMap$")
}
