package trans

import "testing"

func TestParseMethodDesc(t *testing.T) {
	tests := []struct {
		desc     string
		args     int
		argSlots int
		ret      string
	}{
		{"()V", 0, 0, "V"},
		{"(I)I", 1, 1, "I"},
		{"(IJ)V", 2, 3, "V"},
		{"(Ljava/lang/String;[IJ)D", 3, 4, "D"},
		{"([[Ljava/lang/Object;)[I", 1, 1, "[I"},
	}
	for _, tt := range tests {
		md, err := ParseMethodDesc(tt.desc)
		if err != nil {
			t.Errorf("ParseMethodDesc(%q): %v", tt.desc, err)
			continue
		}
		if len(md.Args) != tt.args {
			t.Errorf("%q: %d args, want %d", tt.desc, len(md.Args), tt.args)
		}
		if md.ArgSlots() != tt.argSlots {
			t.Errorf("%q: %d arg slots, want %d", tt.desc, md.ArgSlots(), tt.argSlots)
		}
		if md.Return != tt.ret {
			t.Errorf("%q: return %q, want %q", tt.desc, md.Return, tt.ret)
		}
		if md.String() != tt.desc {
			t.Errorf("%q: String() = %q", tt.desc, md.String())
		}
	}
}

func TestParseMethodDesc_Malformed(t *testing.T) {
	for _, desc := range []string{"", "I", "(I", "(Ljava/lang/String)V", "()"} {
		if _, err := ParseMethodDesc(desc); err == nil {
			t.Errorf("ParseMethodDesc(%q) should fail", desc)
		}
	}
}

func TestSimplifyDesc(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"()V", "()V"},
		{"(IJ)I", "(IJ)I"},
		{"(Ljava/lang/String;)V", "(Ljava/lang/Object;)V"},
		{"([I[Ljava/lang/String;)Ljava/util/List;", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;"},
	}
	for _, tt := range tests {
		got, err := SimplifyDesc(tt.in)
		if err != nil {
			t.Errorf("SimplifyDesc(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SimplifyDesc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSortOf(t *testing.T) {
	tests := []struct {
		desc string
		want Sort
	}{
		{"I", SortInt}, {"J", SortLong}, {"D", SortDouble}, {"F", SortFloat},
		{"Z", SortBoolean}, {"B", SortByte}, {"C", SortChar}, {"S", SortShort},
		{"V", SortVoid}, {"[I", SortArray}, {"Ljava/lang/String;", SortObject},
	}
	for _, tt := range tests {
		if got := SortOf(tt.desc); got != tt.want {
			t.Errorf("SortOf(%q) = %v, want %v", tt.desc, got, tt.want)
		}
	}
	if TypeSlots("J") != 2 || TypeSlots("I") != 1 || TypeSlots("V") != 0 {
		t.Error("TypeSlots category mapping wrong")
	}
}
