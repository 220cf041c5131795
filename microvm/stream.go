// Package microvm translates whole method bodies into the flat instruction
// set of the embedded runtime interpreter. Translation is all or nothing: a
// method either becomes a complete stream plus its side tables, or the
// caller falls back to per-instruction lowering.
package microvm

import (
	"fmt"
	"strings"
)

// Op is a runtime interpreter opcode. Values are part of the wire contract
// with the embedded interpreter and never change meaning.
type Op int

const (
	OpPush          Op = 0
	OpAdd           Op = 1
	OpSub           Op = 2
	OpMul           Op = 3
	OpDiv           Op = 4
	OpPrint         Op = 5
	OpHalt          Op = 6
	OpNop           Op = 7
	OpJunk1         Op = 8
	OpJunk2         Op = 9
	OpSwap          Op = 10
	OpDup           Op = 11
	OpLoad          Op = 12
	OpIfICmpEq      Op = 13
	OpIfICmpNe      Op = 14
	OpGoto          Op = 15
	OpStore         Op = 16
	OpAnd           Op = 17
	OpOr            Op = 18
	OpXor           Op = 19
	OpShl           Op = 20
	OpShr           Op = 21
	OpUshr          Op = 22
	OpIfICmpLt      Op = 23
	OpIfICmpLe      Op = 24
	OpIfICmpGt      Op = 25
	OpIfICmpGe      Op = 26
	OpI2L           Op = 27
	OpI2B           Op = 28
	OpI2C           Op = 29
	OpI2S           Op = 30
	OpNeg           Op = 31
	OpALoad         Op = 32
	OpAStore        Op = 33
	OpAALoad        Op = 34
	OpAAStore       Op = 35
	OpInvokeStatic  Op = 36
	OpLLoad         Op = 37
	OpFLoad         Op = 38
	OpDLoad         Op = 39
	OpLStore        Op = 40
	OpFStore        Op = 41
	OpDStore        Op = 42
	OpLAdd          Op = 43
	OpLSub          Op = 44
	OpLMul          Op = 45
	OpLDiv          Op = 46
	OpFAdd          Op = 47
	OpFSub          Op = 48
	OpFMul          Op = 49
	OpFDiv          Op = 50
	OpDAdd          Op = 51
	OpDSub          Op = 52
	OpDMul          Op = 53
	OpDDiv          Op = 54
	OpLdc           Op = 55
	OpLdcW          Op = 56
	OpLdc2W         Op = 57
	OpFConst0       Op = 58
	OpFConst1       Op = 59
	OpFConst2       Op = 60
	OpDConst0       Op = 61
	OpDConst1       Op = 62
	OpLConst0       Op = 63
	OpLConst1       Op = 64
	OpIinc          Op = 65
	OpLAnd          Op = 66
	OpLOr           Op = 67
	OpLXor          Op = 68
	OpLShl          Op = 69
	OpLShr          Op = 70
	OpLUshr         Op = 71
	OpI2F           Op = 72
	OpI2D           Op = 73
	OpL2I           Op = 74
	OpL2F           Op = 75
	OpL2D           Op = 76
	OpF2I           Op = 77
	OpF2L           Op = 78
	OpF2D           Op = 79
	OpD2I           Op = 80
	OpD2L           Op = 81
	OpD2F           Op = 82
	OpIALoad        Op = 83
	OpBALoad        Op = 84
	OpCALoad        Op = 85
	OpSALoad        Op = 86
	OpIAStore       Op = 87
	OpBAStore       Op = 88
	OpCAStore       Op = 89
	OpSAStore       Op = 90
	OpNew           Op = 91
	OpANewArray     Op = 92
	OpNewArray      Op = 93
	OpMultiANewArr  Op = 94
	OpCheckCast     Op = 95
	OpInstanceOf    Op = 96
	OpGetStatic     Op = 97
	OpPutStatic     Op = 98
	OpGetField      Op = 99
	OpPutField      Op = 100
	OpInvokeVirtual Op = 101
	OpInvokeSpecial Op = 102
	OpInvokeIface   Op = 103
	OpInvokeDynamic Op = 104
	OpIfNull        Op = 105
	OpIfNonNull     Op = 106
	OpIfACmpEq      Op = 107
	OpIfACmpNe      Op = 108
	OpTableSwitch   Op = 109
	OpLookupSwitch  Op = 110
	OpGotoW         Op = 111
	OpIfNullW       Op = 112
	OpIfNonNullW    Op = 113
	OpIfACmpEqW     Op = 114
	OpIfACmpNeW     Op = 115
	OpIfICmpEqW     Op = 116
	OpIfICmpNeW     Op = 117
	OpIfICmpLtW     Op = 118
	OpIfICmpLeW     Op = 119
	OpIfICmpGtW     Op = 120
	OpIfICmpGeW     Op = 121
	OpPop           Op = 122
	OpPop2          Op = 123
	OpDupX1         Op = 124
	OpDupX2         Op = 125
	OpDup2          Op = 126
	OpDup2X1        Op = 127
	OpDup2X2        Op = 128
)

// Instruction is one interpreter record: opcode, one 64-bit operand and a
// reserved word the runtime uses as scratch.
type Instruction struct {
	Op      Op    `cbor:"1,keyasint"`
	Operand int64 `cbor:"2,keyasint"`
}

// FieldRef identifies a field the stream touches, by index into the
// program's field table.
type FieldRef struct {
	Owner string `cbor:"1,keyasint"`
	Name  string `cbor:"2,keyasint"`
	Desc  string `cbor:"3,keyasint"`
}

// MethodRef identifies a method the stream calls.
type MethodRef struct {
	Owner string `cbor:"1,keyasint"`
	Name  string `cbor:"2,keyasint"`
	Desc  string `cbor:"3,keyasint"`
}

// TableSwitch is the side-table record for one contiguous-range switch.
// Targets are instruction indices.
type TableSwitch struct {
	Default int   `cbor:"1,keyasint"`
	Low     int32 `cbor:"2,keyasint"`
	High    int32 `cbor:"3,keyasint"`
	Targets []int `cbor:"4,keyasint"`
}

// LookupSwitch is the side-table record for one sparse-key switch.
type LookupSwitch struct {
	Default int     `cbor:"1,keyasint"`
	Keys    []int32 `cbor:"2,keyasint"`
	Targets []int   `cbor:"3,keyasint"`
}

// Program is one fully translated method: the instruction stream, the
// per-method reference tables its operands index, and the stream key.
type Program struct {
	Key            int64          `cbor:"1,keyasint"`
	Code           []Instruction  `cbor:"2,keyasint"`
	Classes        []string       `cbor:"3,keyasint"`
	Fields         []FieldRef     `cbor:"4,keyasint"`
	Methods        []MethodRef    `cbor:"5,keyasint"`
	TableSwitches  []TableSwitch  `cbor:"6,keyasint"`
	LookupSwitches []LookupSwitch `cbor:"7,keyasint"`
}

// Serialize renders the instruction stream as a target-source array
// initializer.
func (p *Program) Serialize() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, ins := range p.Code {
		fmt.Fprintf(&sb, "{ %d, %d, 0ULL }", ins.Op, ins.Operand)
		if i+1 < len(p.Code) {
			sb.WriteString(", ")
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
