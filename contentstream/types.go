package contentstream

import (
	"strconv"
	"strings"
)

// Operand is a single PDF object appearing before an operator.
type Operand interface {
	Type() string
}

type NumberOperand struct{ Value float64 }

func (NumberOperand) Type() string { return "number" }

type NameOperand struct{ Value string }

func (NameOperand) Type() string { return "name" }

// StringOperand holds decoded string bytes. Hex is set for <...> strings.
type StringOperand struct {
	Value []byte
	Hex   bool
}

func (StringOperand) Type() string { return "string" }

type ArrayOperand struct{ Values []Operand }

func (ArrayOperand) Type() string { return "array" }

type DictOperand struct{ Values map[string]Operand }

func (DictOperand) Type() string { return "dict" }

type BoolOperand struct{ Value bool }

func (BoolOperand) Type() string { return "bool" }

type NullOperand struct{}

func (NullOperand) Type() string { return "null" }

// Operation is an operator together with the operands that preceded it.
type Operation struct {
	Operator string
	Operands []Operand
}

func (op Operation) String() string {
	var b strings.Builder
	for _, o := range op.Operands {
		b.WriteString(operandString(o))
		b.WriteByte(' ')
	}
	b.WriteString(op.Operator)
	return b.String()
}

func operandString(o Operand) string {
	switch v := o.(type) {
	case NumberOperand:
		return strconv.FormatFloat(v.Value, 'f', -1, 64)
	case NameOperand:
		return "/" + v.Value
	case StringOperand:
		return "(" + string(v.Value) + ")"
	case ArrayOperand:
		parts := make([]string, len(v.Values))
		for i, e := range v.Values {
			parts[i] = operandString(e)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case DictOperand:
		return "<<...>>"
	case BoolOperand:
		return strconv.FormatBool(v.Value)
	default:
		return "null"
	}
}

func operandToFloat(op Operand) float64 {
	if n, ok := op.(NumberOperand); ok {
		return n.Value
	}
	return 0
}
