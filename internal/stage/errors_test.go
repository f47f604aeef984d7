package stage

import (
	"errors"
	"testing"
)

// TestAttribute tests node attribution of stage errors.
func TestAttribute(t *testing.T) {
	t.Parallel()

	t.Run("user config error keeps its type", func(t *testing.T) {
		t.Parallel()

		err := Attribute(NewUserConfigError("bad bounds"), 4, "Crop")

		var uce *UserConfigError
		if !errors.As(err, &uce) {
			t.Fatalf("expected *UserConfigError, got %T", err)
		}
		if uce.NodeID != 4 || uce.DisplayName != "Crop" {
			t.Errorf("unexpected attribution: %+v", uce)
		}
		if err.Error() != "node 4 (Crop): bad bounds" {
			t.Errorf("unexpected message %q", err.Error())
		}
	})

	t.Run("other errors become node errors", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("disk on fire")
		err := Attribute(cause, 2, "Writer")

		if errors.Is(err, ErrUserConfig) {
			t.Error("fatal error must not match ErrUserConfig")
		}
		if !errors.Is(err, cause) {
			t.Error("expected wrapped cause")
		}
		if id, ok := FailedNode(err); !ok || id != 2 {
			t.Errorf("expected node 2, got %d (%v)", id, ok)
		}
	})

	t.Run("innermost attribution wins", func(t *testing.T) {
		t.Parallel()

		err := Attribute(Attribute(errors.New("x"), 1, "A"), 0, "Root")
		if id, _ := FailedNode(err); id != 1 {
			t.Errorf("expected node 1, got %d", id)
		}
	})

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()
		if Attribute(nil, 1, "A") != nil {
			t.Error("expected nil")
		}
	})
}

// TestShape tests shape helpers.
func TestShape(t *testing.T) {
	t.Parallel()

	if UnknownShape(2).Known() {
		t.Error("unknown shape reported as known")
	}
	if !(Shape{3, 4}).Known() {
		t.Error("known shape reported as unknown")
	}
	if got := (Shape{3, -1}).String(); got != "(3, -1)" {
		t.Errorf("unexpected string %q", got)
	}
	if UnknownShape(-1) != nil {
		t.Error("negative ndim must yield nil")
	}
}
