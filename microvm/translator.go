package microvm

import (
	"errors"
	"fmt"
	"math"

	"github.com/nclabs/nativegen/trans"
)

// ErrUnsupported signals that a method contains a construct outside the
// interpreter's instruction set. It is a routing sentinel, not a failure:
// the caller lowers the method per instruction instead. No partial stream
// is ever returned alongside it.
var ErrUnsupported = errors.New("microvm: method not translatable")

// Translator builds interpreter programs from method bodies. It holds no
// state between methods; every Translate call interns fresh per-method
// reference tables.
type Translator struct{}

// Translate converts m into a complete interpreter program keyed with key.
// Any instruction without a stream equivalent aborts the whole method with
// ErrUnsupported.
func (t *Translator) Translate(m *trans.Method, key int64) (*Program, error) {
	ins := m.Instructions
	if len(ins) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnsupported)
	}

	// Labels resolve to the stream index of the next real instruction.
	labelIDs := make(map[*trans.Label]int)
	idx := 0
	for _, in := range ins {
		if in.Kind == trans.KindLabel {
			labelIDs[in.Label] = idx
		} else if !in.Pseudo() {
			idx++
		}
	}

	widths := analyzeWidths(m)

	p := &Program{Key: key}
	b := &builder{p: p, labels: labelIDs, classIDs: make(map[string]int), fieldIDs: make(map[trans.SymbolRef]int), methodIDs: make(map[string]int)}

	for i, in := range ins {
		var top int8
		if widths != nil && i < len(widths) && len(widths[i]) > 0 {
			top = widths[i][len(widths[i])-1]
		}
		if err := b.translate(in, top); err != nil {
			return nil, err
		}
	}
	if len(p.Code) == 0 {
		return nil, fmt.Errorf("%w: no translatable instructions", ErrUnsupported)
	}
	return p, nil
}

type builder struct {
	p         *Program
	labels    map[*trans.Label]int
	classIDs  map[string]int
	fieldIDs  map[trans.SymbolRef]int
	methodIDs map[string]int
}

func (b *builder) emit(op Op, operand int64) {
	b.p.Code = append(b.p.Code, Instruction{Op: op, Operand: operand})
}

func (b *builder) classID(desc string) int64 {
	id, ok := b.classIDs[desc]
	if !ok {
		id = len(b.p.Classes)
		b.classIDs[desc] = id
		b.p.Classes = append(b.p.Classes, desc)
	}
	return int64(id)
}

func (b *builder) fieldID(sym trans.SymbolRef) int64 {
	sym.Static = false // identity is (owner, name, desc)
	id, ok := b.fieldIDs[sym]
	if !ok {
		id = len(b.p.Fields)
		b.fieldIDs[sym] = id
		b.p.Fields = append(b.p.Fields, FieldRef{Owner: sym.Owner, Name: sym.Name, Desc: sym.Desc})
	}
	return int64(id)
}

func (b *builder) methodID(owner, name, desc string) int64 {
	key := owner + "." + name + desc
	id, ok := b.methodIDs[key]
	if !ok {
		id = len(b.p.Methods)
		b.methodIDs[key] = id
		b.p.Methods = append(b.p.Methods, MethodRef{Owner: owner, Name: name, Desc: desc})
	}
	return int64(id)
}

func (b *builder) target(l *trans.Label) (int64, error) {
	id, ok := b.labels[l]
	if !ok {
		return 0, fmt.Errorf("%w: branch to unknown label", ErrUnsupported)
	}
	return int64(id), nil
}

func (b *builder) translate(in *trans.Instruction, topWidth int8) error {
	switch in.Kind {
	case trans.KindLabel, trans.KindLine, trans.KindFrame:
		return nil

	case trans.KindInsn:
		return b.translatePlain(in.Op, topWidth)

	case trans.KindInt:
		switch in.Op {
		case trans.BIPUSH, trans.SIPUSH:
			b.emit(OpPush, int64(in.Var))
		case trans.NEWARRAY:
			b.emit(OpNewArray, int64(in.Var))
		default:
			return unsupported(in)
		}
		return nil

	case trans.KindVar:
		var op Op
		switch in.Op {
		case trans.ILOAD:
			op = OpLoad
		case trans.LLOAD:
			op = OpLLoad
		case trans.FLOAD:
			op = OpFLoad
		case trans.DLOAD:
			op = OpDLoad
		case trans.ALOAD:
			op = OpALoad
		case trans.ISTORE:
			op = OpStore
		case trans.LSTORE:
			op = OpLStore
		case trans.FSTORE:
			op = OpFStore
		case trans.DSTORE:
			op = OpDStore
		case trans.ASTORE:
			op = OpAStore
		default:
			return unsupported(in)
		}
		b.emit(op, int64(in.Var))
		return nil

	case trans.KindType:
		var op Op
		switch in.Op {
		case trans.NEW:
			op = OpNew
		case trans.ANEWARRAY:
			op = OpANewArray
		case trans.CHECKCAST:
			op = OpCheckCast
		case trans.INSTANCEOF:
			op = OpInstanceOf
		default:
			return unsupported(in)
		}
		b.emit(op, b.classID(in.Sym.Owner))
		return nil

	case trans.KindField:
		var op Op
		switch in.Op {
		case trans.GETSTATIC:
			op = OpGetStatic
		case trans.PUTSTATIC:
			op = OpPutStatic
		case trans.GETFIELD:
			op = OpGetField
		case trans.PUTFIELD:
			op = OpPutField
		default:
			return unsupported(in)
		}
		b.emit(op, b.fieldID(in.Sym))
		return nil

	case trans.KindMethod:
		var op Op
		switch in.Op {
		case trans.INVOKEVIRTUAL:
			op = OpInvokeVirtual
		case trans.INVOKESPECIAL:
			op = OpInvokeSpecial
		case trans.INVOKEINTERFACE:
			op = OpInvokeIface
		case trans.INVOKESTATIC:
			op = OpInvokeStatic
		default:
			return unsupported(in)
		}
		b.emit(op, b.methodID(in.Sym.Owner, in.Sym.Name, in.Sym.Desc))
		return nil

	case trans.KindDynamic:
		// Dynamic sites are admitted only when their bootstrap pre-binds
		// to one concrete target at translation time.
		if in.Bootstrap == nil {
			return unsupported(in)
		}
		target, err := in.Bootstrap()
		if err != nil {
			return fmt.Errorf("%w: bootstrap of %s%s: %v", ErrUnsupported, in.Sym.Name, in.Sym.Desc, err)
		}
		b.emit(OpInvokeDynamic, b.methodID(target.Owner, target.Name, target.Desc))
		return nil

	case trans.KindJump:
		var op Op
		switch in.Op {
		case trans.GOTO:
			op = OpGoto
		case trans.GOTO_W:
			op = OpGotoW
		case trans.IF_ICMPEQ:
			op = OpIfICmpEq
		case trans.IF_ICMPNE:
			op = OpIfICmpNe
		case trans.IF_ICMPLT:
			op = OpIfICmpLt
		case trans.IF_ICMPLE:
			op = OpIfICmpLe
		case trans.IF_ICMPGT:
			op = OpIfICmpGt
		case trans.IF_ICMPGE:
			op = OpIfICmpGe
		case trans.IFNULL:
			op = OpIfNull
		case trans.IFNONNULL:
			op = OpIfNonNull
		case trans.IF_ACMPEQ:
			op = OpIfACmpEq
		case trans.IF_ACMPNE:
			op = OpIfACmpNe
		default:
			return unsupported(in)
		}
		t, err := b.target(in.Target)
		if err != nil {
			return err
		}
		b.emit(op, t)
		return nil

	case trans.KindLdc:
		switch in.Const.Kind {
		case trans.ConstInt:
			b.emit(OpLdc, int64(in.Const.I))
		case trans.ConstFloat:
			b.emit(OpLdc, int64(int32(math.Float32bits(in.Const.F))))
		case trans.ConstLong:
			b.emit(OpLdc2W, in.Const.L)
		case trans.ConstDouble:
			b.emit(OpLdc2W, int64(math.Float64bits(in.Const.D)))
		default:
			return unsupported(in)
		}
		return nil

	case trans.KindIinc:
		b.emit(OpIinc, int64(in.Incr)<<32|int64(uint32(in.Var)))
		return nil

	case trans.KindTableSwitch:
		t := in.Table
		def, err := b.target(t.Default)
		if err != nil {
			return err
		}
		rec := TableSwitch{Default: int(def), Low: t.Low, High: t.High}
		for _, l := range t.Targets {
			ti, err := b.target(l)
			if err != nil {
				return err
			}
			rec.Targets = append(rec.Targets, int(ti))
		}
		b.p.TableSwitches = append(b.p.TableSwitches, rec)
		b.emit(OpTableSwitch, int64(len(b.p.TableSwitches)-1))
		return nil

	case trans.KindLookupSwitch:
		l := in.Lookup
		def, err := b.target(l.Default)
		if err != nil {
			return err
		}
		rec := LookupSwitch{Default: int(def), Keys: append([]int32{}, l.Keys...)}
		for _, tl := range l.Targets {
			ti, err := b.target(tl)
			if err != nil {
				return err
			}
			rec.Targets = append(rec.Targets, int(ti))
		}
		b.p.LookupSwitches = append(b.p.LookupSwitches, rec)
		b.emit(OpLookupSwitch, int64(len(b.p.LookupSwitches)-1))
		return nil

	case trans.KindMultiArray:
		b.emit(OpMultiANewArr, b.classID(in.Sym.Owner)<<32|int64(uint32(in.Dims)))
		return nil
	}
	return unsupported(in)
}

func (b *builder) translatePlain(op trans.Opcode, topWidth int8) error {
	switch op {
	case trans.POP:
		b.emit(OpPop, 0)
	case trans.POP2:
		// One category-2 value pops as a single unit.
		if topWidth == 2 {
			b.emit(OpPop, 0)
		} else {
			b.emit(OpPop2, 0)
		}
	case trans.DUP:
		b.emit(OpDup, 0)
	case trans.DUP_X1:
		b.emit(OpDupX1, 0)
	case trans.DUP_X2:
		b.emit(OpDupX2, 0)
	case trans.DUP2:
		if topWidth == 2 {
			b.emit(OpDup, 0)
		} else {
			b.emit(OpDup2, 0)
		}
	case trans.DUP2_X1:
		b.emit(OpDup2X1, 0)
	case trans.DUP2_X2:
		b.emit(OpDup2X2, 0)
	case trans.SWAP:
		b.emit(OpSwap, 0)

	case trans.ACONST_NULL:
		b.emit(OpPush, 0)
	case trans.ICONST_M1:
		b.emit(OpPush, -1)
	case trans.ICONST_0, trans.ICONST_1, trans.ICONST_2, trans.ICONST_3, trans.ICONST_4, trans.ICONST_5:
		b.emit(OpPush, int64(op-trans.ICONST_0))
	case trans.LCONST_0:
		b.emit(OpLConst0, 0)
	case trans.LCONST_1:
		b.emit(OpLConst1, 0)
	case trans.FCONST_0:
		b.emit(OpFConst0, 0)
	case trans.FCONST_1:
		b.emit(OpFConst1, 0)
	case trans.FCONST_2:
		b.emit(OpFConst2, 0)
	case trans.DCONST_0:
		b.emit(OpDConst0, 0)
	case trans.DCONST_1:
		b.emit(OpDConst1, 0)

	case trans.IADD:
		b.emit(OpAdd, 0)
	case trans.ISUB:
		b.emit(OpSub, 0)
	case trans.IMUL:
		b.emit(OpMul, 0)
	case trans.IDIV:
		b.emit(OpDiv, 0)
	case trans.IAND:
		b.emit(OpAnd, 0)
	case trans.IOR:
		b.emit(OpOr, 0)
	case trans.IXOR:
		b.emit(OpXor, 0)
	case trans.ISHL:
		b.emit(OpShl, 0)
	case trans.ISHR:
		b.emit(OpShr, 0)
	case trans.IUSHR:
		b.emit(OpUshr, 0)
	case trans.LADD:
		b.emit(OpLAdd, 0)
	case trans.LSUB:
		b.emit(OpLSub, 0)
	case trans.LMUL:
		b.emit(OpLMul, 0)
	case trans.LDIV:
		b.emit(OpLDiv, 0)
	case trans.LAND:
		b.emit(OpLAnd, 0)
	case trans.LOR:
		b.emit(OpLOr, 0)
	case trans.LXOR:
		b.emit(OpLXor, 0)
	case trans.LSHL:
		b.emit(OpLShl, 0)
	case trans.LSHR:
		b.emit(OpLShr, 0)
	case trans.LUSHR:
		b.emit(OpLUshr, 0)
	case trans.FADD:
		b.emit(OpFAdd, 0)
	case trans.FSUB:
		b.emit(OpFSub, 0)
	case trans.FMUL:
		b.emit(OpFMul, 0)
	case trans.FDIV:
		b.emit(OpFDiv, 0)
	case trans.DADD:
		b.emit(OpDAdd, 0)
	case trans.DSUB:
		b.emit(OpDSub, 0)
	case trans.DMUL:
		b.emit(OpDMul, 0)
	case trans.DDIV:
		b.emit(OpDDiv, 0)
	case trans.INEG:
		b.emit(OpNeg, 0)

	case trans.I2L:
		b.emit(OpI2L, 0)
	case trans.I2B:
		b.emit(OpI2B, 0)
	case trans.I2C:
		b.emit(OpI2C, 0)
	case trans.I2S:
		b.emit(OpI2S, 0)
	case trans.I2F:
		b.emit(OpI2F, 0)
	case trans.I2D:
		b.emit(OpI2D, 0)
	case trans.L2I:
		b.emit(OpL2I, 0)
	case trans.L2F:
		b.emit(OpL2F, 0)
	case trans.L2D:
		b.emit(OpL2D, 0)
	case trans.F2I:
		b.emit(OpF2I, 0)
	case trans.F2L:
		b.emit(OpF2L, 0)
	case trans.F2D:
		b.emit(OpF2D, 0)
	case trans.D2I:
		b.emit(OpD2I, 0)
	case trans.D2L:
		b.emit(OpD2L, 0)
	case trans.D2F:
		b.emit(OpD2F, 0)

	case trans.IALOAD:
		b.emit(OpIALoad, 0)
	case trans.BALOAD:
		b.emit(OpBALoad, 0)
	case trans.CALOAD:
		b.emit(OpCALoad, 0)
	case trans.SALOAD:
		b.emit(OpSALoad, 0)
	case trans.AALOAD:
		b.emit(OpAALoad, 0)
	case trans.IASTORE:
		b.emit(OpIAStore, 0)
	case trans.BASTORE:
		b.emit(OpBAStore, 0)
	case trans.CASTORE:
		b.emit(OpCAStore, 0)
	case trans.SASTORE:
		b.emit(OpSAStore, 0)
	case trans.AASTORE:
		b.emit(OpAAStore, 0)

	case trans.IRETURN, trans.LRETURN, trans.FRETURN, trans.DRETURN, trans.ARETURN:
		b.emit(OpHalt, 0)

	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, op)
	}
	return nil
}

func unsupported(in *trans.Instruction) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, in)
}
