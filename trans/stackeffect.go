package trans

import (
	"errors"
	"fmt"
)

// ErrUnsupportedOpcode reports an instruction outside the supported set.
// For per-instruction lowering this is fatal: the opcode table must be total
// over everything the class walker can produce.
var ErrUnsupportedOpcode = errors.New("trans: unsupported opcode")

// StackDelta returns the signed change a single instruction applies to the
// operand-stack pointer. Category-2 values (long, double) count as two
// slots. The function is pure and total over the supported instruction set;
// an unmapped opcode yields ErrUnsupportedOpcode, never a silent zero.
func StackDelta(in *Instruction) (int, error) {
	switch in.Kind {
	case KindLabel, KindLine, KindFrame:
		return 0, nil

	case KindInsn:
		return plainDelta(in.Op)

	case KindInt:
		switch in.Op {
		case BIPUSH, SIPUSH:
			return 1, nil
		case NEWARRAY:
			return 0, nil
		}

	case KindVar:
		switch in.Op {
		case ILOAD, FLOAD, ALOAD:
			return 1, nil
		case LLOAD, DLOAD:
			return 2, nil
		case ISTORE, FSTORE, ASTORE:
			return -1, nil
		case LSTORE, DSTORE:
			return -2, nil
		}

	case KindType:
		switch in.Op {
		case NEW:
			return 1, nil
		case ANEWARRAY, CHECKCAST, INSTANCEOF:
			return 0, nil
		}

	case KindField:
		d := 0
		if in.Op == GETFIELD || in.Op == PUTFIELD {
			d -= 1
		}
		switch in.Op {
		case GETSTATIC, GETFIELD:
			d += TypeSlots(in.Sym.Desc)
		case PUTSTATIC, PUTFIELD:
			d -= TypeSlots(in.Sym.Desc)
		}
		return d, nil

	case KindMethod:
		md, err := ParseMethodDesc(in.Sym.Desc)
		if err != nil {
			return 0, err
		}
		d := -md.ArgSlots() + md.ReturnSlots()
		if in.Op != INVOKESTATIC {
			d -= 1 // receiver
		}
		return d, nil

	case KindDynamic:
		md, err := ParseMethodDesc(in.Sym.Desc)
		if err != nil {
			return 0, err
		}
		return -md.ArgSlots() + md.ReturnSlots(), nil

	case KindJump:
		switch in.Op {
		case GOTO, GOTO_W:
			return 0, nil
		case IFEQ, IFNE, IFLT, IFGE, IFGT, IFLE, IFNULL, IFNONNULL:
			return -1, nil
		case IF_ICMPEQ, IF_ICMPNE, IF_ICMPLT, IF_ICMPGE, IF_ICMPGT, IF_ICMPLE,
			IF_ACMPEQ, IF_ACMPNE:
			return -2, nil
		}

	case KindLdc:
		return in.Const.Slots(), nil

	case KindIinc:
		return 0, nil

	case KindTableSwitch, KindLookupSwitch:
		return -1, nil

	case KindMultiArray:
		return 1 - in.Dims, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, in.Op)
}

// plainDelta covers the zero-operand instructions.
func plainDelta(op Opcode) (int, error) {
	switch op {
	case NOP, ARRAYLENGTH, RETURN,
		I2S, I2C, I2B, D2L, F2I, L2D, I2F,
		DNEG, FNEG, LNEG, INEG,
		SWAP, LALOAD, DALOAD:
		return 0, nil

	case ACONST_NULL, F2D, F2L, I2D, I2L,
		DUP_X1, DUP_X2, DUP,
		FCONST_0, FCONST_1, FCONST_2,
		ICONST_M1, ICONST_0, ICONST_1, ICONST_2, ICONST_3, ICONST_4, ICONST_5:
		return 1, nil

	case LCONST_0, LCONST_1, DCONST_0, DCONST_1,
		DUP2, DUP2_X1, DUP2_X2:
		return 2, nil

	case IALOAD, FALOAD, AALOAD, BALOAD, CALOAD, SALOAD,
		MONITORENTER, MONITOREXIT,
		IRETURN, FRETURN, ARETURN,
		FCMPG, FCMPL, D2F, D2I, L2F, L2I,
		IADD, ISUB, IMUL, IDIV, IREM,
		FADD, FSUB, FMUL, FDIV, FREM,
		ISHL, ISHR, IUSHR, LSHL, LSHR, LUSHR,
		IAND, IOR, IXOR,
		POP, ATHROW:
		return -1, nil

	case POP2, LRETURN, DRETURN,
		LADD, LSUB, LMUL, LDIV, LREM,
		DADD, DSUB, DMUL, DDIV, DREM,
		LAND, LOR, LXOR:
		return -2, nil

	case IASTORE, FASTORE, AASTORE, BASTORE, CASTORE, SASTORE,
		LCMP, DCMPG, DCMPL:
		return -3, nil

	case LASTORE, DASTORE:
		return -4, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedOpcode, op)
}
