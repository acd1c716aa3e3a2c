// Package scripting evaluates user supplied label expressions.
package scripting

import (
	"context"
)

// Engine represents a scripting engine (e.g., JavaScript).
type Engine interface {
	// Execute runs a script and returns its exported result.
	Execute(ctx context.Context, script string) (interface{}, error)

	// Bind exposes the image being labelled to subsequent scripts.
	Bind(vars Vars) error
}

// Vars are the globals visible to a label expression.
type Vars struct {
	Filename string
	Filepath string
	// Page is 1-based.
	Page   int
	Xref   int
	Width  int
	Height int
}

func (v Vars) globals() map[string]interface{} {
	return map[string]interface{}{
		"filename": v.Filename,
		"filepath": v.Filepath,
		"page":     v.Page,
		"xref":     v.Xref,
		"width":    v.Width,
		"height":   v.Height,
	}
}
