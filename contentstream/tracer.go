package contentstream

import (
	"context"
	"errors"

	"github.com/wudi/pdfimages/coords"
)

// Placement is one image XObject painted by a Do operator.
type Placement struct {
	Name    string
	Xref    int
	OpIndex int
	// Rect is the unit square mapped through CTM, in user space.
	Rect coords.Rect
	CTM  coords.Matrix
}

// Tracer follows q/Q/cm and records where image XObjects are painted.
type Tracer struct {
	// Base is the CTM in effect when the stream starts.
	Base coords.Matrix
}

func NewTracer() *Tracer {
	return &Tracer{Base: coords.Identity()}
}

// ImagePlacements returns the placement of every Do whose resource name is
// a key of images (name -> xref), in painting order. An unbalanced Q is
// ignored. On a syntax error the placements found so far are returned with
// the error.
func (t *Tracer) ImagePlacements(ctx context.Context, content []byte, images map[string]int) ([]Placement, error) {
	var out []Placement
	gs := &GraphicsState{CTM: t.Base}

	p := NewProcessor()
	p.RegisterHandler("q", HandlerFunc(func(ec *ExecutionContext, _ []Operand) error {
		ec.GraphicsState.Save()
		return nil
	}))
	p.RegisterHandler("Q", HandlerFunc(func(ec *ExecutionContext, _ []Operand) error {
		if err := ec.GraphicsState.Restore(); err != nil && !errors.Is(err, ErrStateStackEmpty) {
			return err
		}
		return nil
	}))
	p.RegisterHandler("cm", HandlerFunc(func(ec *ExecutionContext, operands []Operand) error {
		if len(operands) == 6 {
			m := operandToMatrix(operands)
			ec.GraphicsState.CTM = m.Multiply(ec.GraphicsState.CTM)
		}
		return nil
	}))
	p.RegisterHandler("Do", HandlerFunc(func(ec *ExecutionContext, operands []Operand) error {
		if len(operands) != 1 {
			return nil
		}
		name, ok := operands[0].(NameOperand)
		if !ok {
			return nil
		}
		xref, ok := images[name.Value]
		if !ok {
			return nil
		}
		ctm := ec.GraphicsState.CTM
		out = append(out, Placement{
			Name:    name.Value,
			Xref:    xref,
			OpIndex: ec.OpIndex,
			Rect:    coords.Rect{X0: 0, Y0: 0, X1: 1, Y1: 1}.Transform(ctm),
			CTM:     ctm,
		})
		return nil
	}))

	err := p.Process(ctx, content, gs)
	if errors.Is(err, ErrDanglingOperands) {
		err = nil
	}
	return out, err
}

// ImageRects groups placements by xref. An image painted several times has
// one rect per placement.
func ImageRects(placements []Placement) map[int][]coords.Rect {
	out := make(map[int][]coords.Rect)
	for _, pl := range placements {
		out[pl.Xref] = append(out[pl.Xref], pl.Rect)
	}
	return out
}

func operandToMatrix(ops []Operand) coords.Matrix {
	return coords.Matrix{
		operandToFloat(ops[0]),
		operandToFloat(ops[1]),
		operandToFloat(ops[2]),
		operandToFloat(ops[3]),
		operandToFloat(ops[4]),
		operandToFloat(ops[5]),
	}
}
