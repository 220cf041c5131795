package trans

import "fmt"

// ---------------------------------------------------------------------------
// Descriptor parsing
// ---------------------------------------------------------------------------

// Sort classifies a JVM type descriptor by value category.
type Sort int

const (
	SortVoid Sort = iota
	SortBoolean
	SortChar
	SortByte
	SortShort
	SortInt
	SortFloat
	SortLong
	SortDouble
	SortArray
	SortObject
)

// cTypes maps a Sort to the C-level type used in emitted code.
var cTypes = [...]string{
	SortVoid:    "void",
	SortBoolean: "jboolean",
	SortChar:    "jchar",
	SortByte:    "jbyte",
	SortShort:   "jshort",
	SortInt:     "jint",
	SortFloat:   "jfloat",
	SortLong:    "jlong",
	SortDouble:  "jdouble",
	SortArray:   "jarray",
	SortObject:  "jobject",
}

// CType returns the emitted C type name for this sort.
func (s Sort) CType() string {
	return cTypes[s]
}

// Slots returns the number of operand-stack slots a value of this sort
// occupies. Long and double are category-2 and take two slots.
func (s Sort) Slots() int {
	switch s {
	case SortVoid:
		return 0
	case SortLong, SortDouble:
		return 2
	default:
		return 1
	}
}

// SortOf classifies a single field descriptor.
func SortOf(desc string) Sort {
	if desc == "" {
		return SortVoid
	}
	switch desc[0] {
	case 'V':
		return SortVoid
	case 'Z':
		return SortBoolean
	case 'C':
		return SortChar
	case 'B':
		return SortByte
	case 'S':
		return SortShort
	case 'I':
		return SortInt
	case 'F':
		return SortFloat
	case 'J':
		return SortLong
	case 'D':
		return SortDouble
	case '[':
		return SortArray
	default:
		return SortObject
	}
}

// TypeSlots returns the stack-slot count for a single field descriptor.
func TypeSlots(desc string) int {
	return SortOf(desc).Slots()
}

// MethodDesc is a parsed method descriptor.
type MethodDesc struct {
	Args   []string
	Return string
}

// ParseMethodDesc splits a descriptor of the form "(args)ret" into its
// argument descriptors and return descriptor.
func ParseMethodDesc(desc string) (MethodDesc, error) {
	if len(desc) < 3 || desc[0] != '(' {
		return MethodDesc{}, fmt.Errorf("trans: malformed method descriptor %q", desc)
	}
	var args []string
	i := 1
	for i < len(desc) && desc[i] != ')' {
		start := i
		for i < len(desc) && desc[i] == '[' {
			i++
		}
		if i >= len(desc) {
			return MethodDesc{}, fmt.Errorf("trans: malformed method descriptor %q", desc)
		}
		if desc[i] == 'L' {
			for i < len(desc) && desc[i] != ';' {
				i++
			}
			if i >= len(desc) {
				return MethodDesc{}, fmt.Errorf("trans: malformed method descriptor %q", desc)
			}
		}
		i++
		args = append(args, desc[start:i])
	}
	if i >= len(desc) || desc[i] != ')' {
		return MethodDesc{}, fmt.Errorf("trans: malformed method descriptor %q", desc)
	}
	return MethodDesc{Args: args, Return: desc[i+1:]}, nil
}

// ArgSlots returns the total operand-stack slots consumed by the arguments.
func (d MethodDesc) ArgSlots() int {
	n := 0
	for _, a := range d.Args {
		n += TypeSlots(a)
	}
	return n
}

// ReturnSlots returns the operand-stack slots produced by the return value.
func (d MethodDesc) ReturnSlots() int {
	return TypeSlots(d.Return)
}

// ReturnSort returns the value category of the return type.
func (d MethodDesc) ReturnSort() Sort {
	return SortOf(d.Return)
}

// String reassembles the descriptor.
func (d MethodDesc) String() string {
	s := "("
	for _, a := range d.Args {
		s += a
	}
	return s + ")" + d.Return
}

// simplifyType collapses reference and array descriptors to the root object
// type. Trampoline descriptors only need value categories, not exact types.
func simplifyType(desc string) string {
	switch SortOf(desc) {
	case SortObject, SortArray:
		return "Ljava/lang/Object;"
	default:
		return desc
	}
}

// SimplifyDesc rewrites a method descriptor with every reference type
// collapsed to java/lang/Object.
func SimplifyDesc(desc string) (string, error) {
	d, err := ParseMethodDesc(desc)
	if err != nil {
		return "", err
	}
	out := MethodDesc{Return: simplifyType(d.Return)}
	for _, a := range d.Args {
		out.Args = append(out.Args, simplifyType(a))
	}
	return out.String(), nil
}
