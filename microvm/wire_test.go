package microvm

import (
	"bytes"
	"strings"
	"testing"
)

func sampleProgram() *Program {
	return &Program{
		Key: -42,
		Code: []Instruction{
			{Op: OpPush, Operand: 1},
			{Op: OpLoad, Operand: 0},
			{Op: OpAdd},
			{Op: OpHalt},
		},
		Classes: []string{"a/C"},
		Fields:  []FieldRef{{Owner: "a/C", Name: "x", Desc: "I"}},
		Methods: []MethodRef{{Owner: "a/C", Name: "f", Desc: "(I)I"}},
		TableSwitches: []TableSwitch{
			{Default: 3, Low: 0, High: 1, Targets: []int{1, 2}},
		},
		LookupSwitches: []LookupSwitch{
			{Default: 3, Keys: []int32{-5, 9}, Targets: []int{1, 2}},
		},
	}
}

func TestProgram_CBORRoundTrip(t *testing.T) {
	p := sampleProgram()
	data, err := MarshalProgram(p)
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	got, err := UnmarshalProgram(data)
	if err != nil {
		t.Fatalf("UnmarshalProgram: %v", err)
	}
	if got.Key != p.Key {
		t.Error("Key mismatch")
	}
	if len(got.Code) != 4 || got.Code[0] != p.Code[0] || got.Code[3].Op != OpHalt {
		t.Errorf("Code mismatch: %v", got.Code)
	}
	if len(got.Classes) != 1 || got.Classes[0] != "a/C" {
		t.Error("Classes mismatch")
	}
	if len(got.Fields) != 1 || got.Fields[0] != p.Fields[0] {
		t.Error("Fields mismatch")
	}
	if len(got.Methods) != 1 || got.Methods[0] != p.Methods[0] {
		t.Error("Methods mismatch")
	}
	if len(got.TableSwitches) != 1 || got.TableSwitches[0].High != 1 {
		t.Error("TableSwitches mismatch")
	}
	if len(got.LookupSwitches) != 1 || got.LookupSwitches[0].Keys[0] != -5 {
		t.Error("LookupSwitches mismatch")
	}
}

func TestMarshalProgram_Deterministic(t *testing.T) {
	a, err := MarshalProgram(sampleProgram())
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	b, err := MarshalProgram(sampleProgram())
	if err != nil {
		t.Fatalf("MarshalProgram: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("identical programs encoded differently")
	}
}

func TestUnmarshalProgram_Garbage(t *testing.T) {
	if _, err := UnmarshalProgram([]byte{0xFF, 0x00, 0x01}); err == nil {
		t.Error("garbage bytes should not decode")
	}
}

func TestProgram_Serialize(t *testing.T) {
	p := &Program{Code: []Instruction{{Op: OpPush, Operand: 7}, {Op: OpHalt}}}
	got := p.Serialize()
	want := "{{ 0, 7, 0ULL }, { 6, 0, 0ULL }}"
	if got != want {
		t.Errorf("Serialize() = %q, want %q", got, want)
	}
	if strings.Count(got, "{") != 3 {
		t.Errorf("unexpected initializer shape: %q", got)
	}
}
