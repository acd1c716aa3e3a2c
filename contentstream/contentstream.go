package contentstream

import (
	"context"
	"errors"

	"github.com/wudi/pdfimages/coords"
)

var ErrStateStackEmpty = errors.New("state stack empty")

type Processor interface {
	Process(ctx context.Context, stream []byte, state *GraphicsState) error
	RegisterHandler(op string, h OperatorHandler)
}

type OperatorHandler interface {
	Handle(ctx *ExecutionContext, operands []Operand) error
}

// HandlerFunc adapts a function to OperatorHandler.
type HandlerFunc func(ctx *ExecutionContext, operands []Operand) error

func (f HandlerFunc) Handle(ctx *ExecutionContext, operands []Operand) error { return f(ctx, operands) }

type ExecutionContext struct {
	GraphicsState *GraphicsState
	// OpIndex is the position of the current operation in the stream.
	OpIndex int
}

type GraphicsState struct {
	CTM   coords.Matrix
	stack []coords.Matrix
}

// NewGraphicsState returns a state with an identity CTM.
func NewGraphicsState() *GraphicsState { return &GraphicsState{CTM: coords.Identity()} }

func (gs *GraphicsState) Save() { gs.stack = append(gs.stack, gs.CTM) }
func (gs *GraphicsState) Restore() error {
	n := len(gs.stack)
	if n == 0 {
		return ErrStateStackEmpty
	}
	gs.CTM = gs.stack[n-1]
	gs.stack = gs.stack[:n-1]
	return nil
}

// Depth is the number of saved states.
func (gs *GraphicsState) Depth() int { return len(gs.stack) }

type simpleProcessor struct{ handlers map[string]OperatorHandler }

func NewProcessor() Processor                                           { return &simpleProcessor{handlers: make(map[string]OperatorHandler)} }
func (p *simpleProcessor) RegisterHandler(op string, h OperatorHandler) { p.handlers[op] = h }

// Process dispatches every parsed operation to its handler. Operations
// without a handler are skipped. A parse error is returned after the
// operations preceding it were dispatched.
func (p *simpleProcessor) Process(ctx context.Context, stream []byte, state *GraphicsState) error {
	ops, parseErr := Parse(stream)
	ec := &ExecutionContext{GraphicsState: state}

	for i, op := range ops {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		h, ok := p.handlers[op.Operator]
		if !ok {
			continue
		}
		ec.OpIndex = i
		if err := h.Handle(ec, op.Operands); err != nil {
			return err
		}
	}
	return parseErr
}
