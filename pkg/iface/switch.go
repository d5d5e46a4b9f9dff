package iface

import (
	"errors"
	"fmt"
	"strings"

	"evgenkit/pkg/object"
)

// Integer is the set of types a Switch can hold.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Option is one named value of a Switch.
type Option[V Integer] struct {
	Name        string
	Description string
	Value       V
}

// Switch exposes an integer restricted to a closed set of named options.
type Switch[T any, V Integer] struct {
	owner
	Name        string
	Description string
	Field       func(T) *V
	Set         func(T, V) error
	Get         func(T) V
	Default     V
	Options     []Option[V]

	ReadOnly       bool
	DependencySafe bool
	View           func(object.Entity) (T, bool)
}

// Info implements Descriptor.
func (s *Switch[T, V]) Info() Info {
	names := make([]string, len(s.Options))
	for i, o := range s.Options {
		names[i] = o.Name
	}
	return Info{
		Name:           s.Name,
		Description:    s.Description,
		Class:          s.class,
		Kind:           KindSwitch,
		ReadOnly:       s.ReadOnly,
		DependencySafe: s.DependencySafe,
		Detail:         "options=" + strings.Join(names, "|") + " default=" + s.label(s.Default),
	}
}

func (s *Switch[T, V]) validate() error {
	if s.Name == "" {
		return errors.New("switch without a name")
	}
	if s.Field == nil && (s.Get == nil || (s.Set == nil && !s.ReadOnly)) {
		return errors.New("switch needs a field or a getter/setter pair")
	}
	if len(s.Options) == 0 {
		return errors.New("switch without options")
	}
	names := make(map[string]bool, len(s.Options))
	values := make(map[V]bool, len(s.Options))
	for _, o := range s.Options {
		if o.Name == "" || names[o.Name] || values[o.Value] {
			return fmt.Errorf("switch option %q is empty or duplicated", o.Name)
		}
		names[o.Name] = true
		values[o.Value] = true
	}
	if !values[s.Default] {
		return errors.New("switch default is not an option")
	}
	return nil
}

func (s *Switch[T, V]) lookup(text string) (V, bool) {
	text = strings.TrimSpace(text)
	for _, o := range s.Options {
		if o.Name == text {
			return o.Value, true
		}
	}
	if v, err := parseNumber[V](text); err == nil {
		for _, o := range s.Options {
			if o.Value == v {
				return v, true
			}
		}
	}
	var zero V
	return zero, false
}

func (s *Switch[T, V]) label(v V) string {
	for _, o := range s.Options {
		if o.Value == v {
			return o.Name
		}
	}
	return formatNumber(v)
}

// Exec implements Descriptor.
func (s *Switch[T, V]) Exec(_ Env, e object.Entity, call Call) (string, error) {
	t, ok := viewOf(s.View, e)
	if !ok {
		return "", notCarried(e, s.Name, call)
	}
	if err := checkScalar(e, s.Name, call); err != nil {
		return "", err
	}
	switch call.Action {
	case ActionGet:
		if s.Get != nil {
			return s.label(s.Get(t)), nil
		}
		return s.label(*s.Field(t)), nil
	case ActionDef:
		return s.label(s.Default), nil
	case ActionMin, ActionMax:
		if len(s.Options) == 0 {
			return "", failure(e, s.Name, call, "no options declared", nil)
		}
		pick := s.Options[0].Value
		for _, o := range s.Options[1:] {
			if (call.Action == ActionMin && o.Value < pick) || (call.Action == ActionMax && o.Value > pick) {
				pick = o.Value
			}
		}
		return s.label(pick), nil
	case ActionSet, ActionSetDef:
		if err := checkMutable(e, s.Name, call, s.ReadOnly); err != nil {
			return "", err
		}
		v := s.Default
		if call.Action == ActionSet {
			var found bool
			if v, found = s.lookup(call.Args); !found {
				return "", failure(e, s.Name, call, fmt.Sprintf("%q is not a valid option", strings.TrimSpace(call.Args)), nil)
			}
		}
		if s.Set != nil {
			if err := s.Set(t, v); err != nil {
				return "", failure(e, s.Name, call, "value rejected", err)
			}
		} else {
			*s.Field(t) = v
		}
		touch(e, s.DependencySafe)
		return "", nil
	}
	return "", unknownAction(e, s.Name, call)
}
