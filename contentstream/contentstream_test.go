package contentstream

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/wudi/pdfimages/coords"
)

type testHandler struct {
	calls int
	last  []string
}

func (h *testHandler) Handle(_ *ExecutionContext, operands []Operand) error {
	h.calls++
	h.last = make([]string, len(operands))
	for i, op := range operands {
		h.last[i] = op.Type()
	}
	return nil
}

func TestProcessorDispatchesOperators(t *testing.T) {
	p := NewProcessor()
	h := &testHandler{}
	p.RegisterHandler("Tj", h)

	state := NewGraphicsState()
	err := p.Process(context.Background(), []byte("(Hello) Tj"), state)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if h.calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", h.calls)
	}
	if len(h.last) != 1 || h.last[0] != "string" {
		t.Fatalf("unexpected operand types: %v", h.last)
	}
}

func TestProcessorHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewProcessor().Process(ctx, []byte("q Q"), NewGraphicsState())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseOperands(t *testing.T) {
	src := []byte(`% comment
/F1 12 Tf
(a \(nested\) \101 string) Tj
<48 65 6c6c 6f> Tj
[(A) -120 (B)] TJ
/Im#201 Do
<< /MCID 3 /Flag true /Arr [1 2] >> BDC
-.5 +2 3. d0`)

	ops, err := Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"Tf", "Tj", "Tj", "TJ", "Do", "BDC", "d0"}
	if len(ops) != len(want) {
		t.Fatalf("got %d ops, want %d: %v", len(ops), len(want), ops)
	}
	for i, op := range ops {
		if op.Operator != want[i] {
			t.Fatalf("op %d = %s, want %s", i, op.Operator, want[i])
		}
	}

	if s := ops[1].Operands[0].(StringOperand); string(s.Value) != "a (nested) A string" {
		t.Fatalf("literal string = %q", s.Value)
	}
	if s := ops[2].Operands[0].(StringOperand); string(s.Value) != "Hello" || !s.Hex {
		t.Fatalf("hex string = %q hex=%v", s.Value, s.Hex)
	}
	if arr := ops[3].Operands[0].(ArrayOperand); len(arr.Values) != 3 {
		t.Fatalf("TJ array = %v", arr.Values)
	}
	if n := ops[4].Operands[0].(NameOperand); n.Value != "Im 1" {
		t.Fatalf("name escape = %q", n.Value)
	}
	d := ops[5].Operands[0].(DictOperand)
	if d.Values["MCID"] != (NumberOperand{Value: 3}) || d.Values["Flag"] != (BoolOperand{Value: true}) {
		t.Fatalf("dict = %v", d.Values)
	}
	nums := ops[6].Operands
	if operandToFloat(nums[0]) != -0.5 || operandToFloat(nums[1]) != 2 || operandToFloat(nums[2]) != 3 {
		t.Fatalf("numbers = %v", nums)
	}
}

func TestParseSkipsInlineImage(t *testing.T) {
	data := []byte("q BI /W 2 /H 1 /CS /G /BPC 8 ID \x00EI\xff EI Q")
	ops, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ops) != 3 || ops[0].Operator != "q" || ops[1].Operator != "BI" || ops[2].Operator != "Q" {
		t.Fatalf("unexpected ops: %v", ops)
	}
	d := ops[1].Operands[0].(DictOperand)
	if d.Values["W"] != (NumberOperand{Value: 2}) {
		t.Fatalf("inline dict = %v", d.Values)
	}
	if raw := ops[1].Operands[1].(StringOperand).Value; !bytes.Equal(raw, []byte("\x00EI\xff")) {
		t.Fatalf("inline data = %q", raw)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse([]byte("(open Tj")); !errors.Is(err, ErrUnterminatedString) {
		t.Fatalf("expected ErrUnterminatedString, got %v", err)
	}
	ops, err := Parse([]byte("q 1 2"))
	if !errors.Is(err, ErrDanglingOperands) {
		t.Fatalf("expected ErrDanglingOperands, got %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected preceding ops to be returned, got %v", ops)
	}
}

func rectNear(a, b coords.Rect) bool {
	const eps = 1e-9
	return math.Abs(a.X0-b.X0) < eps && math.Abs(a.Y0-b.Y0) < eps &&
		math.Abs(a.X1-b.X1) < eps && math.Abs(a.Y1-b.Y1) < eps
}

func TestTracerImagePlacements(t *testing.T) {
	content := []byte(`
q 200 0 0 100 50 600 cm /Im0 Do Q
q 1 0 0 1 100 100 cm
  q 50 0 0 50 0 0 cm /Im1 Do Q
  /Fm0 Do
Q
Q
q 0 1 -1 0 300 300 cm 20 0 0 10 0 0 cm /Im0 Do Q`)

	placements, err := NewTracer().ImagePlacements(context.Background(), content, map[string]int{"Im0": 7, "Im1": 9})
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	if len(placements) != 3 {
		t.Fatalf("expected 3 placements, got %d", len(placements))
	}

	want := []struct {
		xref int
		rect coords.Rect
	}{
		{7, coords.Rect{X0: 50, Y0: 600, X1: 250, Y1: 700}},
		{9, coords.Rect{X0: 100, Y0: 100, X1: 150, Y1: 150}},
		// 20x10 scaled then rotated 90 degrees about the origin, then moved to 300,300.
		{7, coords.Rect{X0: 290, Y0: 300, X1: 300, Y1: 320}},
	}
	for i, w := range want {
		if placements[i].Xref != w.xref || !rectNear(placements[i].Rect, w.rect) {
			t.Fatalf("placement %d = %+v, want xref %d rect %+v", i, placements[i], w.xref, w.rect)
		}
	}

	rects := ImageRects(placements)
	if len(rects[7]) != 2 || len(rects[9]) != 1 {
		t.Fatalf("unexpected grouping: %v", rects)
	}
}

func TestTracerBaseMatrix(t *testing.T) {
	tr := NewTracer()
	tr.Base = coords.Translate(0, 10)
	placements, err := tr.ImagePlacements(context.Background(), []byte("5 0 0 5 0 0 cm /X Do"), map[string]int{"X": 1})
	if err != nil || len(placements) != 1 {
		t.Fatalf("trace: %v %v", placements, err)
	}
	if !rectNear(placements[0].Rect, coords.Rect{X0: 0, Y0: 10, X1: 5, Y1: 15}) {
		t.Fatalf("rect = %+v", placements[0].Rect)
	}
}
