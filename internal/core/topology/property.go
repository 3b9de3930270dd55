package topology

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Property Errors
// =============================================================================

var (
	ErrPropertyNotFound   = errors.New("property not found")
	ErrPropertyNotNumeric = errors.New("property is not numeric")
	ErrPropertyNotText    = errors.New("property is not a scalar")
)

// =============================================================================
// Property Values
// =============================================================================

// PropertyKind identifies which variant a PropertyValue holds.
type PropertyKind int

const (
	KindScalar PropertyKind = iota
	KindList
	KindMap
	KindFunction
)

func (k PropertyKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindFunction:
		return "function"
	default:
		return "unknown"
	}
}

// PropertyValue is a typed property value. Scalars keep their raw textual
// form; numeric interpretation happens in the fallible accessors.
type PropertyValue struct {
	Kind     PropertyKind             `json:"kind"`
	Scalar   string                   `json:"scalar,omitempty"`
	List     []PropertyValue          `json:"list,omitempty"`
	Map      map[string]PropertyValue `json:"map,omitempty"`
	Function *Function                `json:"function,omitempty"`
}

// Function is an unresolved reference expression such as
// get_input: [port] or get_property: [SELF, port].
type Function struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// Scalar builds a scalar value.
func Scalar(v string) PropertyValue {
	return PropertyValue{Kind: KindScalar, Scalar: v}
}

// List builds a list value.
func List(items ...PropertyValue) PropertyValue {
	return PropertyValue{Kind: KindList, List: items}
}

// Ref builds a function value.
func Ref(name string, args ...string) PropertyValue {
	return PropertyValue{Kind: KindFunction, Function: &Function{Name: name, Args: args}}
}

// Text returns the scalar text of the value without surrounding whitespace.
func (v PropertyValue) Text() (string, error) {
	if v.Kind != KindScalar {
		return "", fmt.Errorf("%w: got %s", ErrPropertyNotText, v.Kind)
	}
	return strings.TrimSpace(v.Scalar), nil
}

// Number parses the value as a floating point number.
func (v PropertyValue) Number() (float64, error) {
	if v.Kind != KindScalar {
		return 0, fmt.Errorf("%w: got %s", ErrPropertyNotNumeric, v.Kind)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.Scalar), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrPropertyNotNumeric, v.Scalar)
	}
	return f, nil
}

// Int parses the value as an integer.
func (v PropertyValue) Int() (int, error) {
	if v.Kind != KindScalar {
		return 0, fmt.Errorf("%w: got %s", ErrPropertyNotNumeric, v.Kind)
	}
	i, err := strconv.Atoi(strings.TrimSpace(v.Scalar))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrPropertyNotNumeric, v.Scalar)
	}
	return i, nil
}

// =============================================================================
// Properties
// =============================================================================

// Properties maps property names to values.
type Properties map[string]PropertyValue

// Has reports whether the property is declared.
func (p Properties) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Get returns a declared property.
func (p Properties) Get(name string) (PropertyValue, error) {
	v, ok := p[name]
	if !ok {
		return PropertyValue{}, fmt.Errorf("%w: %s", ErrPropertyNotFound, name)
	}
	return v, nil
}

// Number returns a declared property parsed as a number.
func (p Properties) Number(name string) (float64, error) {
	v, err := p.Get(name)
	if err != nil {
		return 0, err
	}
	return v.Number()
}

// Int returns a declared property parsed as an integer.
func (p Properties) Int(name string) (int, error) {
	v, err := p.Get(name)
	if err != nil {
		return 0, err
	}
	return v.Int()
}
