package stage

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// ParamSpec declares one parameter of a stage class.
type ParamSpec struct {
	Name string

	// Type is the cty type constraint values are converted to.
	// cty.DynamicPseudoType accepts any value.
	Type cty.Type

	// Default is the initial value. A null default leaves the parameter
	// unset until it is assigned.
	Default cty.Value

	Description string

	// AffectsShape marks parameters whose change alters the result shape of
	// the stage. Setting one through a tree marks the tree changed.
	AffectsShape bool
}

// TypeName returns the type constraint in HCL notation.
func (s ParamSpec) TypeName() string {
	return typeexpr.TypeString(s.Type)
}

// ParseType parses an HCL type expression such as "number" or
// "list(number)".
func ParseType(expr string) (cty.Type, error) {
	if expr == "" {
		return cty.DynamicPseudoType, nil
	}
	parsed, diags := hclsyntax.ParseExpression([]byte(expr), "type", hcl.InitialPos)
	if diags.HasErrors() {
		return cty.NilType, fmt.Errorf("invalid type expression %q: %s", expr, diags.Error())
	}
	ty, diags := typeexpr.TypeConstraint(parsed)
	if diags.HasErrors() {
		return cty.NilType, fmt.Errorf("invalid type expression %q: %s", expr, diags.Error())
	}
	return ty, nil
}

// Params holds the parameter values of one stage instance, validated
// against the schema of its class.
type Params struct {
	specs  []ParamSpec
	values map[string]cty.Value
}

// NewParams creates a parameter set initialized to the schema defaults.
// Defaults that cannot be converted to their declared type are left unset.
func NewParams(specs []ParamSpec) *Params {
	p := &Params{
		specs:  specs,
		values: make(map[string]cty.Value, len(specs)),
	}
	for _, spec := range specs {
		v := cty.NullVal(spec.Type)
		if !spec.Default.IsNull() {
			if converted, err := convert.Convert(spec.Default, spec.Type); err == nil {
				v = converted
			}
		}
		p.values[spec.Name] = v
	}
	return p
}

// Spec returns the schema entry for key.
func (p *Params) Spec(key string) (ParamSpec, bool) {
	for _, s := range p.specs {
		if s.Name == key {
			return s, true
		}
	}
	return ParamSpec{}, false
}

// Keys returns the parameter names in schema order.
func (p *Params) Keys() []string {
	keys := make([]string, len(p.specs))
	for i, s := range p.specs {
		keys[i] = s.Name
	}
	return keys
}

// Set assigns a Go value to a parameter after converting it to the declared
// type. Unknown keys and unconvertible values yield a *UserConfigError.
func (p *Params) Set(key string, value any) error {
	v, err := FromGo(value)
	if err != nil {
		return NewUserConfigError("parameter %q: %v", key, err)
	}
	return p.SetValue(key, v)
}

// SetValue assigns a cty value to a parameter.
func (p *Params) SetValue(key string, value cty.Value) error {
	spec, ok := p.Spec(key)
	if !ok {
		return NewUserConfigError("unknown parameter %q", key)
	}
	if value.IsNull() {
		p.values[key] = cty.NullVal(spec.Type)
		return nil
	}
	converted, err := convert.Convert(value, spec.Type)
	if err != nil {
		return NewUserConfigError("parameter %q: expected %s: %v", key, spec.TypeName(), err)
	}
	p.values[key] = converted
	return nil
}

// Value returns the raw cty value of a parameter.
func (p *Params) Value(key string) (cty.Value, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Get returns the parameter as a plain Go value (nil when unset).
func (p *Params) Get(key string) any {
	v, ok := p.values[key]
	if !ok {
		return nil
	}
	return ToGo(v)
}

// Float returns a numeric parameter.
func (p *Params) Float(key string) (float64, error) {
	var f float64
	return f, p.decode(key, &f)
}

// Int returns a whole-number parameter.
func (p *Params) Int(key string) (int, error) {
	var i int
	return i, p.decode(key, &i)
}

// String returns a string parameter.
func (p *Params) String(key string) (string, error) {
	var s string
	return s, p.decode(key, &s)
}

// Bool returns a boolean parameter.
func (p *Params) Bool(key string) (bool, error) {
	var b bool
	return b, p.decode(key, &b)
}

// decode converts a set parameter into target, reporting unset or
// mistyped values as *UserConfigError.
func (p *Params) decode(key string, target any) error {
	v, ok := p.values[key]
	if !ok {
		return NewUserConfigError("unknown parameter %q", key)
	}
	if v.IsNull() {
		return NewUserConfigError("parameter %q is not set", key)
	}
	if err := gocty.FromCtyValue(v, target); err != nil {
		return NewUserConfigError("parameter %q: %v", key, err)
	}
	return nil
}

// Pair is one exported parameter value.
type Pair struct {
	Key   string `yaml:"key" json:"key"`
	Value any    `yaml:"value" json:"value"`
}

// Export returns all parameters as key/value pairs in schema order.
func (p *Params) Export() []Pair {
	pairs := make([]Pair, 0, len(p.specs))
	for _, s := range p.specs {
		pairs = append(pairs, Pair{Key: s.Name, Value: ToGo(p.values[s.Name])})
	}
	return pairs
}

// Clone returns an independent copy. cty values are immutable, so copying
// the map is enough.
func (p *Params) Clone() *Params {
	c := &Params{
		specs:  p.specs,
		values: make(map[string]cty.Value, len(p.values)),
	}
	for k, v := range p.values {
		c.values[k] = v
	}
	return c
}

// FromGo converts a plain Go value (as produced by YAML or JSON decoding)
// into a cty value. Slices become tuples and string-keyed maps become
// objects so that conversion to the declared type can pick the final shape.
func FromGo(value any) (cty.Value, error) {
	if value == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	if v, ok := value.(cty.Value); ok {
		return v, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Bool:
		return cty.BoolVal(rv.Bool()), nil
	case reflect.String:
		return cty.StringVal(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cty.NumberIntVal(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return cty.NumberUIntVal(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		if math.IsNaN(rv.Float()) {
			return cty.NilVal, errors.New("NaN is not a number value")
		}
		return cty.NumberFloatVal(rv.Float()), nil
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, rv.Len())
		for i := range elems {
			ev, err := FromGo(rv.Index(i).Interface())
			if err != nil {
				return cty.NilVal, fmt.Errorf("element %d: %w", i, err)
			}
			elems[i] = ev
		}
		return cty.TupleVal(elems), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return cty.NilVal, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		if rv.Len() == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			ev, err := FromGo(iter.Value().Interface())
			if err != nil {
				return cty.NilVal, fmt.Errorf("key %q: %w", iter.Key().String(), err)
			}
			attrs[iter.Key().String()] = ev
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported value type %T", value)
	}
}

// ToGo converts a cty value back into plain Go values. Whole numbers that
// fit become int, other numbers float64.
func ToGo(v cty.Value) any {
	if v.IsNull() || !v.IsKnown() {
		return nil
	}
	ty := v.Type()
	switch {
	case ty.Equals(cty.String):
		return v.AsString()
	case ty.Equals(cty.Bool):
		return v.True()
	case ty.Equals(cty.Number):
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return int(i)
			}
		}
		f, _ := bf.Float64()
		return f
	case ty.IsListType() || ty.IsSetType() || ty.IsTupleType():
		elems := v.AsValueSlice()
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = ToGo(e)
		}
		return out
	case ty.IsMapType() || ty.IsObjectType():
		m := v.AsValueMap()
		out := make(map[string]any, len(m))
		for k, e := range m {
			out[k] = ToGo(e)
		}
		return out
	default:
		return nil
	}
}
