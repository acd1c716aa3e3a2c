package scripting

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGojaEngine_ContextCancellation(t *testing.T) {
	engine := NewEngine()

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	if _, err := engine.Execute(ctx, "while (true) {}"); err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}

	if _, err := engine.Execute(context.Background(), "1 + 1"); err != nil {
		t.Fatalf("engine should recover after cancellation, got %v", err)
	}
}

func TestGojaEngine_ImmediateCancel(t *testing.T) {
	engine := NewEngine()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := engine.Execute(ctx, "42"); err == nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

func TestGojaEngine_Label(t *testing.T) {
	engine := NewEngine()
	vars := Vars{Filename: "img00012.png", Filepath: "out/images/page_2/img00012.png", Page: 2, Xref: 12, Width: 640, Height: 480}

	tests := []struct {
		expr string
		want string
	}{
		{"filename", "img00012.png"},
		{"filename + ' p' + page", "img00012.png p2"},
		{"width + 'x' + height", "640x480"},
		{"xref * 2", "24"},
		{"filepath.split('/').length", "4"},
		{"undefined", ""},
		{"null", ""},
	}
	for _, tc := range tests {
		got, err := engine.Label(context.Background(), tc.expr, vars)
		if err != nil {
			t.Fatalf("%q: %v", tc.expr, err)
		}
		if got != tc.want {
			t.Errorf("%q = %q, want %q", tc.expr, got, tc.want)
		}
	}

	// Globals are rebound per call.
	got, err := engine.Label(context.Background(), "page", Vars{Page: 7})
	if err != nil || got != "7" {
		t.Fatalf("rebind: %q %v", got, err)
	}
}

func TestGojaEngine_LabelErrors(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.Label(context.Background(), "", Vars{}); !errors.Is(err, ErrEmptyExpression) {
		t.Fatalf("expected ErrEmptyExpression, got %v", err)
	}
	if _, err := engine.Label(context.Background(), "missing.field", Vars{}); err == nil {
		t.Fatalf("expected reference error")
	}
	if err := Compile("filename +"); err == nil {
		t.Fatalf("expected syntax error")
	}
	if err := Compile("filename + '!'"); err != nil {
		t.Fatalf("compile: %v", err)
	}
}
