package stage

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zclconf/go-cty/cty"
)

func testSpecs(t *testing.T) []ParamSpec {
	t.Helper()
	listType, err := ParseType("list(number)")
	if err != nil {
		t.Fatalf("ParseType: %v", err)
	}
	return []ParamSpec{
		{Name: "factor", Type: cty.Number, Default: cty.NumberIntVal(2), AffectsShape: false},
		{Name: "label", Type: cty.String},
		{Name: "enabled", Type: cty.Bool, Default: cty.True},
		{Name: "bounds", Type: listType, AffectsShape: true},
	}
}

// TestParseType tests parsing of HCL type expressions.
func TestParseType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr string
		want cty.Type
	}{
		{"number", cty.Number},
		{"string", cty.String},
		{"bool", cty.Bool},
		{"list(number)", cty.List(cty.Number)},
		{"any", cty.DynamicPseudoType},
		{"", cty.DynamicPseudoType},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			t.Parallel()
			got, err := ParseType(tt.expr)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equals(tt.want) {
				t.Errorf("got %s, want %s", got.FriendlyName(), tt.want.FriendlyName())
			}
		})
	}

	t.Run("rejects garbage", func(t *testing.T) {
		t.Parallel()
		if _, err := ParseType("list(("); err == nil {
			t.Error("expected error for malformed type")
		}
	})
}

// TestParams tests default handling, conversion and export.
func TestParams(t *testing.T) {
	t.Parallel()

	t.Run("defaults are applied", func(t *testing.T) {
		t.Parallel()
		p := NewParams(testSpecs(t))

		f, err := p.Float("factor")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f != 2 {
			t.Errorf("expected factor 2, got %v", f)
		}
		if p.Get("label") != nil {
			t.Errorf("expected unset label, got %v", p.Get("label"))
		}
	})

	t.Run("unset parameter is a user config error", func(t *testing.T) {
		t.Parallel()
		p := NewParams(testSpecs(t))

		_, err := p.String("label")
		if !errors.Is(err, ErrUserConfig) {
			t.Errorf("expected ErrUserConfig, got %v", err)
		}
	})

	t.Run("converts compatible values", func(t *testing.T) {
		t.Parallel()
		p := NewParams(testSpecs(t))

		if err := p.Set("factor", "2.5"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f, _ := p.Float("factor")
		if f != 2.5 {
			t.Errorf("expected 2.5, got %v", f)
		}

		if err := p.Set("bounds", []any{1, 4}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff([]any{1, 4}, p.Get("bounds")); diff != "" {
			t.Errorf("bounds mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects incompatible values", func(t *testing.T) {
		t.Parallel()
		p := NewParams(testSpecs(t))

		err := p.Set("enabled", "not-a-bool")
		if !errors.Is(err, ErrUserConfig) {
			t.Errorf("expected ErrUserConfig, got %v", err)
		}
	})

	t.Run("rejects NaN", func(t *testing.T) {
		t.Parallel()
		p := NewParams(testSpecs(t))

		if err := p.Set("factor", math.NaN()); !errors.Is(err, ErrUserConfig) {
			t.Errorf("expected ErrUserConfig, got %v", err)
		}
		if err := p.Set("bounds", []any{1.0, math.NaN()}); !errors.Is(err, ErrUserConfig) {
			t.Errorf("expected ErrUserConfig for NaN element, got %v", err)
		}
		if f, _ := p.Float("factor"); f != 2 {
			t.Errorf("factor changed to %v", f)
		}
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		t.Parallel()
		p := NewParams(testSpecs(t))

		if err := p.Set("nope", 1); !errors.Is(err, ErrUserConfig) {
			t.Errorf("expected ErrUserConfig, got %v", err)
		}
	})

	t.Run("export keeps schema order", func(t *testing.T) {
		t.Parallel()
		p := NewParams(testSpecs(t))
		_ = p.Set("label", "a")

		want := []Pair{
			{Key: "factor", Value: 2},
			{Key: "label", Value: "a"},
			{Key: "enabled", Value: true},
			{Key: "bounds", Value: nil},
		}
		if diff := cmp.Diff(want, p.Export()); diff != "" {
			t.Errorf("export mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("clone is independent", func(t *testing.T) {
		t.Parallel()
		p := NewParams(testSpecs(t))
		c := p.Clone()
		_ = c.Set("factor", 10)

		if f, _ := p.Float("factor"); f != 2 {
			t.Errorf("original changed to %v", f)
		}
	})
}

// TestToGo tests conversion of cty values to plain Go values.
func TestToGo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   cty.Value
		want any
	}{
		{"int", cty.NumberIntVal(3), 3},
		{"float", cty.NumberFloatVal(0.5), 0.5},
		{"string", cty.StringVal("x"), "x"},
		{"null", cty.NullVal(cty.String), nil},
		{"list", cty.ListVal([]cty.Value{cty.NumberIntVal(1)}), []any{1}},
		{"object", cty.ObjectVal(map[string]cty.Value{"a": cty.True}), map[string]any{"a": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if diff := cmp.Diff(tt.want, ToGo(tt.in)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
