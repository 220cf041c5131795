package microvm

import (
	"github.com/nclabs/nativegen/trans"
)

// The untyped stack instructions POP2 and DUP2 mean different things
// depending on whether the top of the stack is one category-2 value or two
// category-1 values. A small forward dataflow over slot widths recovers that
// distinction. The analysis is best effort: when it cannot model the method
// it returns nil and the translator emits the raw two-slot forms, which the
// interpreter executes slot-wise.

// analyzeWidths returns, for each instruction index, the width stack before
// that instruction executes, or nil when analysis fails.
func analyzeWidths(m *trans.Method) [][]int8 {
	ins := m.Instructions
	n := len(ins)
	states := make([][]int8, n)
	seen := make([]bool, n)

	// Branch targets by label identity.
	targets := make(map[*trans.Label]int, n)
	for i, in := range ins {
		if in.Kind == trans.KindLabel {
			targets[in.Label] = i
		}
	}

	work := []int{0}
	if n == 0 {
		return states
	}
	states[0] = []int8{}
	seen[0] = true

	push := func(idx int, st []int8) bool {
		if idx < 0 || idx >= n {
			return false
		}
		if !seen[idx] {
			seen[idx] = true
			states[idx] = st
			work = append(work, idx)
			return true
		}
		return sameWidths(states[idx], st)
	}

	for len(work) > 0 {
		idx := work[len(work)-1]
		work = work[:len(work)-1]
		in := ins[idx]
		st := states[idx]

		next, branches, fall, ok := widthTransfer(in, st)
		if !ok {
			return nil
		}
		for _, l := range branches {
			ti, found := targets[l]
			if !found || !push(ti, next) {
				return nil
			}
		}
		if fall {
			if !push(idx+1, next) {
				return nil
			}
		}
	}
	return states
}

func sameWidths(a, b []int8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// widthTransfer applies one instruction to a width stack. It returns the
// resulting stack, any branch target labels, and whether control falls
// through to the next instruction.
func widthTransfer(in *trans.Instruction, st []int8) (out []int8, branches []*trans.Label, fall bool, ok bool) {
	pop := func(k int) bool {
		slots := 0
		for slots < k {
			if len(st) == 0 {
				return false
			}
			slots += int(st[len(st)-1])
			st = st[:len(st)-1]
		}
		return slots == k
	}
	pushW := func(w int8) { st = append(st, w) }
	st = append([]int8{}, st...)

	fall = true
	ok = true

	switch in.Kind {
	case trans.KindLabel, trans.KindLine, trans.KindFrame:
		// transparent

	case trans.KindInt:
		switch in.Op {
		case trans.BIPUSH, trans.SIPUSH:
			pushW(1)
		case trans.NEWARRAY:
			ok = pop(1)
			pushW(1)
		}

	case trans.KindVar:
		switch in.Op {
		case trans.ILOAD, trans.FLOAD, trans.ALOAD:
			pushW(1)
		case trans.LLOAD, trans.DLOAD:
			pushW(2)
		case trans.ISTORE, trans.FSTORE, trans.ASTORE:
			ok = pop(1)
		case trans.LSTORE, trans.DSTORE:
			ok = pop(2)
		}

	case trans.KindType:
		switch in.Op {
		case trans.NEW:
			pushW(1)
		case trans.ANEWARRAY, trans.CHECKCAST, trans.INSTANCEOF:
			ok = pop(1)
			pushW(1)
		}

	case trans.KindField:
		w := int8(trans.TypeSlots(in.Sym.Desc))
		switch in.Op {
		case trans.GETSTATIC:
			pushW(w)
		case trans.PUTSTATIC:
			ok = pop(int(w))
		case trans.GETFIELD:
			ok = pop(1)
			pushW(w)
		case trans.PUTFIELD:
			ok = pop(int(w)) && pop(1)
		}

	case trans.KindMethod, trans.KindDynamic:
		md, err := trans.ParseMethodDesc(in.Sym.Desc)
		if err != nil {
			return nil, nil, false, false
		}
		for i := len(md.Args) - 1; i >= 0; i-- {
			if !pop(trans.TypeSlots(md.Args[i])) {
				return nil, nil, false, false
			}
		}
		if in.Kind == trans.KindMethod && in.Op != trans.INVOKESTATIC {
			if !pop(1) {
				return nil, nil, false, false
			}
		}
		if rs := md.ReturnSlots(); rs > 0 {
			pushW(int8(rs))
		}

	case trans.KindJump:
		switch in.Op {
		case trans.GOTO, trans.GOTO_W:
			fall = false
		case trans.IFEQ, trans.IFNE, trans.IFLT, trans.IFGE, trans.IFGT, trans.IFLE,
			trans.IFNULL, trans.IFNONNULL:
			ok = pop(1)
		default:
			ok = pop(2)
		}
		branches = []*trans.Label{in.Target}

	case trans.KindLdc:
		pushW(int8(in.Const.Slots()))

	case trans.KindIinc:
		// locals only

	case trans.KindTableSwitch:
		ok = pop(1)
		fall = false
		branches = append([]*trans.Label{in.Table.Default}, in.Table.Targets...)

	case trans.KindLookupSwitch:
		ok = pop(1)
		fall = false
		branches = append([]*trans.Label{in.Lookup.Default}, in.Lookup.Targets...)

	case trans.KindMultiArray:
		ok = pop(in.Dims)
		pushW(1)

	case trans.KindInsn:
		out, fall, ok = plainWidthTransfer(in.Op, st)
		return out, nil, fall, ok

	default:
		ok = false
	}
	return st, branches, fall, ok
}

func plainWidthTransfer(op trans.Opcode, st []int8) (out []int8, fall bool, ok bool) {
	pop := func(k int) bool {
		slots := 0
		for slots < k {
			if len(st) == 0 {
				return false
			}
			slots += int(st[len(st)-1])
			st = st[:len(st)-1]
		}
		return slots == k
	}
	pushW := func(w int8) { st = append(st, w) }
	fall = true
	ok = true

	switch op {
	case trans.NOP:
	case trans.ACONST_NULL:
		pushW(1)
	case trans.ICONST_M1, trans.ICONST_0, trans.ICONST_1, trans.ICONST_2,
		trans.ICONST_3, trans.ICONST_4, trans.ICONST_5,
		trans.FCONST_0, trans.FCONST_1, trans.FCONST_2:
		pushW(1)
	case trans.LCONST_0, trans.LCONST_1, trans.DCONST_0, trans.DCONST_1:
		pushW(2)

	case trans.IALOAD, trans.FALOAD, trans.AALOAD, trans.BALOAD, trans.CALOAD, trans.SALOAD:
		ok = pop(2)
		pushW(1)
	case trans.LALOAD, trans.DALOAD:
		ok = pop(2)
		pushW(2)
	case trans.IASTORE, trans.FASTORE, trans.AASTORE, trans.BASTORE, trans.CASTORE, trans.SASTORE:
		ok = pop(3)
	case trans.LASTORE, trans.DASTORE:
		ok = pop(4)

	case trans.POP:
		ok = len(st) > 0 && st[len(st)-1] == 1 && pop(1)
	case trans.POP2:
		ok = pop(2)
	case trans.DUP:
		if len(st) == 0 || st[len(st)-1] != 1 {
			return nil, false, false
		}
		pushW(1)
	case trans.DUP_X1:
		if len(st) < 2 || st[len(st)-1] != 1 || st[len(st)-2] != 1 {
			return nil, false, false
		}
		v := st[len(st)-1]
		st = append(st[:len(st)-2], v, st[len(st)-2], v)
	case trans.DUP_X2, trans.DUP2, trans.DUP2_X1, trans.DUP2_X2:
		// Model only the slot count; the translator just needs top widths.
		switch op {
		case trans.DUP_X2:
			if len(st) == 0 || st[len(st)-1] != 1 {
				return nil, false, false
			}
			st = insertBelow(st, 2, 1)
		case trans.DUP2:
			if top2(st) {
				pushW(2)
			} else if len(st) >= 2 && st[len(st)-1] == 1 && st[len(st)-2] == 1 {
				st = append(st, st[len(st)-2], st[len(st)-1])
			} else {
				return nil, false, false
			}
		case trans.DUP2_X1:
			if top2(st) {
				st = insertBelow(st, 1, 2)
			} else {
				st = insertTwoBelow(st, 1)
			}
		case trans.DUP2_X2:
			if top2(st) {
				st = insertBelow(st, 2, 2)
			} else {
				st = insertTwoBelow(st, 2)
			}
		}
		if st == nil {
			return nil, false, false
		}
	case trans.SWAP:
		if len(st) < 2 || st[len(st)-1] != 1 || st[len(st)-2] != 1 {
			return nil, false, false
		}
		st[len(st)-1], st[len(st)-2] = st[len(st)-2], st[len(st)-1]

	case trans.IADD, trans.ISUB, trans.IMUL, trans.IDIV, trans.IREM,
		trans.FADD, trans.FSUB, trans.FMUL, trans.FDIV, trans.FREM,
		trans.IAND, trans.IOR, trans.IXOR,
		trans.ISHL, trans.ISHR, trans.IUSHR:
		ok = pop(2)
		pushW(1)
	case trans.LADD, trans.LSUB, trans.LMUL, trans.LDIV, trans.LREM,
		trans.DADD, trans.DSUB, trans.DMUL, trans.DDIV, trans.DREM,
		trans.LAND, trans.LOR, trans.LXOR:
		ok = pop(4)
		pushW(2)
	case trans.LSHL, trans.LSHR, trans.LUSHR:
		ok = pop(3)
		pushW(2)
	case trans.INEG, trans.FNEG, trans.I2B, trans.I2C, trans.I2S, trans.I2F, trans.F2I:
		ok = pop(1)
		pushW(1)
	case trans.LNEG, trans.DNEG, trans.L2D, trans.D2L:
		ok = pop(2)
		pushW(2)
	case trans.I2L, trans.I2D, trans.F2L, trans.F2D:
		ok = pop(1)
		pushW(2)
	case trans.L2I, trans.L2F, trans.D2I, trans.D2F:
		ok = pop(2)
		pushW(1)
	case trans.LCMP, trans.DCMPL, trans.DCMPG:
		ok = pop(4)
		pushW(1)
	case trans.FCMPL, trans.FCMPG:
		ok = pop(2)
		pushW(1)

	case trans.ARRAYLENGTH:
		ok = pop(1)
		pushW(1)
	case trans.MONITORENTER, trans.MONITOREXIT:
		ok = pop(1)

	case trans.IRETURN, trans.FRETURN, trans.ARETURN:
		ok = pop(1)
		fall = false
	case trans.LRETURN, trans.DRETURN:
		ok = pop(2)
		fall = false
	case trans.RETURN:
		fall = false
	case trans.ATHROW:
		ok = pop(1)
		fall = false

	default:
		return nil, false, false
	}
	if !ok {
		return nil, false, false
	}
	return st, fall, true
}

func top2(st []int8) bool {
	return len(st) > 0 && st[len(st)-1] == 2
}

// insertBelow copies the top w-wide value below depth slots of values.
func insertBelow(st []int8, depth int, w int8) []int8 {
	if len(st) == 0 || st[len(st)-1] != w {
		return nil
	}
	rest := st[:len(st)-1]
	slots := 0
	cut := len(rest)
	for slots < depth {
		if cut == 0 {
			return nil
		}
		cut--
		slots += int(rest[cut])
	}
	if slots != depth {
		return nil
	}
	out := append([]int8{}, rest[:cut]...)
	out = append(out, w)
	out = append(out, rest[cut:]...)
	return append(out, w)
}

// insertTwoBelow copies the top two single-slot values below depth slots.
func insertTwoBelow(st []int8, depth int) []int8 {
	if len(st) < 2 || st[len(st)-1] != 1 || st[len(st)-2] != 1 {
		return nil
	}
	rest := st[:len(st)-2]
	slots := 0
	cut := len(rest)
	for slots < depth {
		if cut == 0 {
			return nil
		}
		cut--
		slots += int(rest[cut])
	}
	if slots != depth {
		return nil
	}
	out := append([]int8{}, rest[:cut]...)
	out = append(out, 1, 1)
	out = append(out, rest[cut:]...)
	return append(out, 1, 1)
}
