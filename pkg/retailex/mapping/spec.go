// Package mapping resolves declarative field maps against hub entities.
//
// A FieldMap is an ordered list of target fields, each with a value spec:
//
//	Lit(v)                   literal value
//	Attr("code")             entity attribute
//	Call("{entity}", "m")    registered method m applied to the entity
//	Call("{parent}", "m")    registered method m applied to the parent entity
//	Call("code", "m")        registered method m applied to an attribute value
//	Call("", "m")            registered method m without arguments
//
// Specs may also be written in the compact shapes used by configuration
// files: a bare scalar, a one-element []string, or a one-entry
// map[string]string.
package mapping

import (
	"fmt"
	"strings"
)

const (
	ContextEntity = "{entity}"
	ContextParent = "{parent}"
)

// Entry is one target field of a FieldMap.
type Entry struct {
	Target string
	Spec   any
}

// FieldMap is resolved in order.
type FieldMap []Entry

// E is shorthand for building an Entry.
func E(target string, spec any) Entry {
	return Entry{Target: target, Spec: spec}
}

// Targets lists the target fields in order.
func (fm FieldMap) Targets() []string {
	out := make([]string, len(fm))
	for i, e := range fm {
		out[i] = e.Target
	}
	return out
}

// Without returns a copy of fm without the given targets.
func (fm FieldMap) Without(targets ...string) FieldMap {
	out := make(FieldMap, 0, len(fm))
next:
	for _, e := range fm {
		for _, t := range targets {
			if e.Target == t {
				continue next
			}
		}
		out = append(out, e)
	}
	return out
}

// Literal is a fixed value.
type Literal struct {
	Value any
}

// Attribute reads one attribute of the entity.
type Attribute struct {
	Code string
}

// Method invokes a registered method. Context is ContextEntity,
// ContextParent, "" or an attribute code.
type Method struct {
	Context string
	Name    string
}

func (m Method) String() string {
	return fmt.Sprintf("{%s: %s}", m.Context, m.Name)
}

func Lit(v any) Literal { return Literal{Value: v} }
func Attr(code string) Attribute { return Attribute{Code: code} }
func Call(ctx, name string) Method { return Method{Context: ctx, Name: name} }
func OnEntity(name string) Method { return Method{Context: ContextEntity, Name: name} }
func OnParent(name string) Method { return Method{Context: ContextParent, Name: name} }
func NoArgs(name string) Method { return Method{Name: name} }

// normalize turns a spec in any accepted shape into a typed spec.
func normalize(spec any) (any, error) {
	switch s := spec.(type) {
	case Literal, Attribute, Method:
		return s, nil
	case []string:
		if len(s) == 1 && s[0] != "" {
			return Attribute{Code: s[0]}, nil
		}
	case map[string]string:
		if len(s) == 1 {
			for ctx, name := range s {
				if strings.TrimSpace(name) == "" {
					break
				}
				return Method{Context: ctx, Name: name}, nil
			}
		}
	case nil, string, bool, int, int32, int64, float32, float64:
		return Literal{Value: s}, nil
	case fmt.Stringer:
		return Literal{Value: s}, nil
	}
	return nil, fmt.Errorf("unsupported mapping spec %T", spec)
}
