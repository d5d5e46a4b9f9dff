package iface

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"evgenkit/pkg/object"
)

// Number is the set of scalar types a Parameter can hold.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Limits selects which bounds a Parameter enforces.
type Limits uint8

// Limit policies.
const (
	NoLimits Limits = 0
	LowerLim Limits = 1
	UpperLim Limits = 2
	Limited         = LowerLim | UpperLim
)

// Parameter exposes a numeric scalar. Values cross the text boundary divided
// by Unit and are stored multiplied by it.
type Parameter[T any, V Number] struct {
	owner
	Name        string
	Description string
	// Field addresses the member. Set and Get override it when present.
	Field func(T) *V
	Set   func(T, V) error
	Get   func(T) V

	Default   V
	DefaultFn func(T) V
	Min       V
	MinFn     func(T) V
	Max       V
	MaxFn     func(T) V
	Limits    Limits
	Unit      V

	ReadOnly       bool
	DependencySafe bool
	View           func(object.Entity) (T, bool)
}

// Info implements Descriptor.
func (p *Parameter[T, V]) Info() Info {
	detail := fmt.Sprintf("default=%v", p.Default/p.unit())
	if p.Limits&LowerLim != 0 && p.MinFn == nil {
		detail += fmt.Sprintf(" min=%v", p.Min/p.unit())
	}
	if p.Limits&UpperLim != 0 && p.MaxFn == nil {
		detail += fmt.Sprintf(" max=%v", p.Max/p.unit())
	}
	if p.Unit != 0 && p.Unit != 1 {
		detail += fmt.Sprintf(" unit=%v", p.Unit)
	}
	return Info{
		Name:           p.Name,
		Description:    p.Description,
		Class:          p.class,
		Kind:           KindParameter,
		ReadOnly:       p.ReadOnly,
		DependencySafe: p.DependencySafe,
		Detail:         detail,
	}
}

func (p *Parameter[T, V]) validate() error {
	if p.Name == "" {
		return errors.New("parameter without a name")
	}
	if p.Field == nil && (p.Get == nil || (p.Set == nil && !p.ReadOnly)) {
		return errors.New("parameter needs a field or a getter/setter pair")
	}
	if p.Limits == Limited && p.MinFn == nil && p.MaxFn == nil && p.Min > p.Max {
		return errors.New("parameter minimum exceeds maximum")
	}
	return nil
}

func (p *Parameter[T, V]) unit() V {
	if p.Unit == 0 {
		return 1
	}
	return p.Unit
}

func (p *Parameter[T, V]) get(t T) V {
	if p.Get != nil {
		return p.Get(t)
	}
	return *p.Field(t)
}

func (p *Parameter[T, V]) set(t T, v V) error {
	if p.Set != nil {
		return p.Set(t, v)
	}
	*p.Field(t) = v
	return nil
}

func (p *Parameter[T, V]) def(t T) V {
	if p.DefaultFn != nil {
		return p.DefaultFn(t)
	}
	return p.Default
}

func (p *Parameter[T, V]) min(t T) V {
	if p.MinFn != nil {
		return p.MinFn(t)
	}
	return p.Min
}

func (p *Parameter[T, V]) max(t T) V {
	if p.MaxFn != nil {
		return p.MaxFn(t)
	}
	return p.Max
}

func (p *Parameter[T, V]) check(t T, v V) error {
	u := p.unit()
	if v != v { // NaN
		return fmt.Errorf("value is not a number")
	}
	if p.Limits&LowerLim != 0 && v < p.min(t) {
		return fmt.Errorf("value %v is below the minimum %v", v/u, p.min(t)/u)
	}
	if p.Limits&UpperLim != 0 && v > p.max(t) {
		return fmt.Errorf("value %v is above the maximum %v", v/u, p.max(t)/u)
	}
	return nil
}

// Exec implements Descriptor.
func (p *Parameter[T, V]) Exec(_ Env, e object.Entity, call Call) (string, error) {
	t, ok := viewOf(p.View, e)
	if !ok {
		return "", notCarried(e, p.Name, call)
	}
	if err := checkScalar(e, p.Name, call); err != nil {
		return "", err
	}
	u := p.unit()
	switch call.Action {
	case ActionGet:
		return formatNumber(p.get(t) / u), nil
	case ActionDef:
		return formatNumber(p.def(t) / u), nil
	case ActionMin:
		if p.Limits&LowerLim == 0 {
			return "unlimited", nil
		}
		return formatNumber(p.min(t) / u), nil
	case ActionMax:
		if p.Limits&UpperLim == 0 {
			return "unlimited", nil
		}
		return formatNumber(p.max(t) / u), nil
	case ActionSet, ActionSetDef:
		if err := checkMutable(e, p.Name, call, p.ReadOnly); err != nil {
			return "", err
		}
		v := p.def(t)
		if call.Action == ActionSet {
			parsed, err := parseNumber[V](call.Args)
			if err != nil {
				return "", failure(e, p.Name, call, fmt.Sprintf("cannot parse %q", call.Args), err)
			}
			v = parsed * u
		}
		if err := p.check(t, v); err != nil {
			return "", failure(e, p.Name, call, err.Error(), nil)
		}
		if err := p.set(t, v); err != nil {
			return "", failure(e, p.Name, call, "value rejected", err)
		}
		touch(e, p.DependencySafe)
		return "", nil
	}
	return "", unknownAction(e, p.Name, call)
}

// StringParameter exposes a free-text scalar.
type StringParameter[T any] struct {
	owner
	Name        string
	Description string
	Field       func(T) *string
	Set         func(T, string) error
	Get         func(T) string
	Default     string

	ReadOnly       bool
	DependencySafe bool
	View           func(object.Entity) (T, bool)
}

// Info implements Descriptor.
func (p *StringParameter[T]) Info() Info {
	return Info{
		Name:           p.Name,
		Description:    p.Description,
		Class:          p.class,
		Kind:           KindParameter,
		ReadOnly:       p.ReadOnly,
		DependencySafe: p.DependencySafe,
		Detail:         fmt.Sprintf("default=%q", p.Default),
	}
}

func (p *StringParameter[T]) validate() error {
	if p.Name == "" {
		return errors.New("parameter without a name")
	}
	if p.Field == nil && (p.Get == nil || (p.Set == nil && !p.ReadOnly)) {
		return errors.New("parameter needs a field or a getter/setter pair")
	}
	return nil
}

// Exec implements Descriptor.
func (p *StringParameter[T]) Exec(_ Env, e object.Entity, call Call) (string, error) {
	t, ok := viewOf(p.View, e)
	if !ok {
		return "", notCarried(e, p.Name, call)
	}
	if err := checkScalar(e, p.Name, call); err != nil {
		return "", err
	}
	switch call.Action {
	case ActionGet:
		if p.Get != nil {
			return p.Get(t), nil
		}
		return *p.Field(t), nil
	case ActionDef:
		return p.Default, nil
	case ActionSet, ActionSetDef:
		if err := checkMutable(e, p.Name, call, p.ReadOnly); err != nil {
			return "", err
		}
		v := p.Default
		if call.Action == ActionSet {
			v = call.Args
		}
		if p.Set != nil {
			if err := p.Set(t, v); err != nil {
				return "", failure(e, p.Name, call, "value rejected", err)
			}
		} else {
			*p.Field(t) = v
		}
		touch(e, p.DependencySafe)
		return "", nil
	}
	return "", unknownAction(e, p.Name, call)
}

func parseNumber[V Number](s string) (V, error) {
	var v V
	s = strings.TrimSpace(s)
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, rv.Type().Bits())
		if err != nil {
			return v, err
		}
		rv.SetFloat(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 0, rv.Type().Bits())
		if err != nil {
			return v, err
		}
		rv.SetInt(i)
	default:
		u, err := strconv.ParseUint(s, 0, rv.Type().Bits())
		if err != nil {
			return v, err
		}
		rv.SetUint(u)
	}
	return v, nil
}

func formatNumber[V Number](v V) string {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, rv.Type().Bits())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	default:
		return strconv.FormatUint(rv.Uint(), 10)
	}
}
