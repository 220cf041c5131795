package trans

import "fmt"

// ---------------------------------------------------------------------------
// Instruction model
// ---------------------------------------------------------------------------

// Kind classifies an instruction node by its operand shape. The lowering
// dispatcher indexes its handler table by Kind.
type Kind int

const (
	KindInsn         Kind = iota // no operands
	KindInt                      // immediate int operand (BIPUSH, SIPUSH, NEWARRAY)
	KindVar                      // local variable index
	KindType                     // symbolic class reference
	KindField                    // symbolic field reference
	KindMethod                   // symbolic method reference
	KindDynamic                  // dynamic call site
	KindJump                     // branch with one target label
	KindLabel                    // label pseudo-instruction
	KindLdc                      // constant load
	KindIinc                     // local increment
	KindTableSwitch              // contiguous-range switch
	KindLookupSwitch             // sparse-key switch
	KindMultiArray               // multi-dimensional array allocation
	KindLine                     // line number pseudo-instruction
	KindFrame                    // stack-frame metadata pseudo-instruction

	kindCount
)

// Label identifies a branch target. Identity is pointer identity; the
// dispatcher and the micro-VM translator both resolve labels positionally.
type Label struct {
	name string
}

// NewLabel creates a fresh, unnamed label.
func NewLabel() *Label {
	return &Label{}
}

// ConstKind tags the payload of a loaded constant.
type ConstKind int

const (
	ConstInt ConstKind = iota
	ConstLong
	ConstFloat
	ConstDouble
	ConstString
	ConstClass
)

// Constant is a loaded literal: a 32/64-bit integer, a float/double, a
// string, or a class reference.
type Constant struct {
	Kind  ConstKind
	I     int32
	L     int64
	F     float32
	D     float64
	S     string // string payload or class internal name
}

// Slots returns the number of operand-stack slots the constant occupies.
func (c Constant) Slots() int {
	switch c.Kind {
	case ConstLong, ConstDouble:
		return 2
	}
	return 1
}

// SymbolRef is the structural identity of a referenced class member.
// Two references with identical tuples denote the same symbol.
type SymbolRef struct {
	Owner  string
	Name   string
	Desc   string
	Static bool
}

func (r SymbolRef) String() string {
	return fmt.Sprintf("%s.%s%s", r.Owner, r.Name, r.Desc)
}

// BootstrapResolver eagerly resolves a dynamic call site to a single
// concrete static target. It is invoked during translation; an error means
// the call site cannot be pre-bound and the containing method cannot be
// virtualized.
type BootstrapResolver func() (SymbolRef, error)

// TableSwitchOperand describes a contiguous-range switch.
type TableSwitchOperand struct {
	Low     int32
	High    int32
	Default *Label
	Targets []*Label
}

// LookupSwitchOperand describes a sparse-key switch. Keys are sorted.
type LookupSwitchOperand struct {
	Default *Label
	Keys    []int32
	Targets []*Label
}

// Instruction is one bytecode operation: an opcode plus the typed operands
// its Kind implies. Instances are immutable inputs produced by the external
// class reader.
type Instruction struct {
	Op   Opcode
	Kind Kind

	Var       int                  // KindVar local index, KindInt immediate
	Const     Constant             // KindLdc
	Sym       SymbolRef            // KindField, KindMethod, KindType (Owner only)
	Bootstrap BootstrapResolver    // KindDynamic
	Target    *Label               // KindJump
	Label     *Label               // KindLabel
	Incr      int                  // KindIinc increment (Var holds the index)
	Dims      int                  // KindMultiArray dimension count (Sym.Owner holds the descriptor)
	Table     *TableSwitchOperand  // KindTableSwitch
	Lookup    *LookupSwitchOperand // KindLookupSwitch
	Line      int                  // KindLine
}

// Pseudo reports whether the instruction carries no runtime operation
// (labels, line numbers, frame metadata).
func (in *Instruction) Pseudo() bool {
	switch in.Kind {
	case KindLabel, KindLine, KindFrame:
		return true
	}
	return false
}

// String renders the instruction for diagnostics and emitted comments.
func (in *Instruction) String() string {
	switch in.Kind {
	case KindInt, KindVar:
		return fmt.Sprintf("%s %d", in.Op, in.Var)
	case KindType:
		return fmt.Sprintf("%s %s", in.Op, in.Sym.Owner)
	case KindField:
		return fmt.Sprintf("%s %s.%s %s", in.Op, in.Sym.Owner, in.Sym.Name, in.Sym.Desc)
	case KindMethod, KindDynamic:
		return fmt.Sprintf("%s %s.%s%s", in.Op, in.Sym.Owner, in.Sym.Name, in.Sym.Desc)
	case KindLdc:
		return fmt.Sprintf("LDC %v", in.Const)
	case KindIinc:
		return fmt.Sprintf("IINC %d %d", in.Var, in.Incr)
	case KindMultiArray:
		return fmt.Sprintf("MULTIANEWARRAY %s %d", in.Sym.Owner, in.Dims)
	case KindLabel:
		return "LABEL"
	case KindLine:
		return fmt.Sprintf("LINE %d", in.Line)
	case KindFrame:
		return "FRAME"
	default:
		return in.Op.Name()
	}
}

// Method is one parsed method body handed to the translator by the external
// class reader. Instructions are in program order.
type Method struct {
	Owner        string // internal name of the declaring class
	Name         string
	Desc         string
	Static       bool
	Interface    bool // declaring class is an interface
	Enum         bool // declaring class is an enum
	MaxStack     int
	MaxLocals    int
	Instructions []*Instruction
}
