package mapping

import (
	"errors"
	"fmt"

	"github.com/natserract/retailex/pkg/hub"
	"github.com/natserract/retailex/pkg/retailex/soap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	ErrParentNotDefined = errors.New("parent is not defined")
	ErrUnknownMethod    = errors.New("mapping method does not exist")
)

// MappingError describes a field that could not be resolved.
type MappingError struct {
	Target string
	Spec   any
	Err    error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s (%v): %v", e.Target, e.Spec, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// Engine resolves FieldMaps. It never mutates the entities it reads.
type Engine struct {
	registry *Registry
	logger   *zap.Logger
}

func NewEngine(registry *Registry, logger *zap.Logger) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{registry: registry, logger: logger}
}

type resolveOptions struct {
	level zapcore.Level
}

type ResolveOption func(*resolveOptions)

// Optional logs resolution failures at debug level instead of error.
func Optional() ResolveOption {
	return func(o *resolveOptions) { o.level = zapcore.DebugLevel }
}

// Resolve produces the ordered payload for fm. Fields that fail are logged,
// returned as MappingErrors and left out; fields resolving to nil or "" are
// left out silently.
func (e *Engine) Resolve(fm FieldMap, entity, parent hub.Entity, opts ...ResolveOption) (soap.Fields, []*MappingError) {
	o := resolveOptions{level: zapcore.ErrorLevel}
	for _, opt := range opts {
		opt(&o)
	}

	out := make(soap.Fields, 0, len(fm))
	var errs []*MappingError
	for _, entry := range fm {
		value, err := e.resolve(entry.Spec, entity, parent)
		if err != nil {
			merr := &MappingError{Target: entry.Target, Spec: entry.Spec, Err: err}
			errs = append(errs, merr)
			if ce := e.logger.Check(o.level, "Field mapping failed"); ce != nil {
				ce.Write(
					zap.String("target", entry.Target),
					zap.String("spec", fmt.Sprint(entry.Spec)),
					zap.String("entity_type", typeOf(entity)),
					zap.String("unique_id", uniqueIDOf(entity)),
					zap.Error(err))
			}
			continue
		}
		if isEmpty(value) {
			continue
		}
		out = append(out, soap.F(entry.Target, value))
	}
	return out, errs
}

// Value resolves a single spec.
func (e *Engine) Value(spec any, entity, parent hub.Entity) (any, error) {
	return e.resolve(spec, entity, parent)
}

func (e *Engine) resolve(raw any, entity, parent hub.Entity) (value any, err error) {
	spec, err := normalize(raw)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("mapping method panicked: %v", r)
		}
	}()

	switch s := spec.(type) {
	case Literal:
		return s.Value, nil
	case Attribute:
		if entity == nil {
			return nil, fmt.Errorf("no entity to read %s from", s.Code)
		}
		return entity.Attribute(s.Code), nil
	case Method:
		return e.invoke(s, entity, parent)
	}
	return nil, fmt.Errorf("unsupported mapping spec %T", raw)
}

func (e *Engine) invoke(m Method, entity, parent hub.Entity) (any, error) {
	switch m.Context {
	case ContextParent:
		if parent == nil {
			return nil, ErrParentNotDefined
		}
		return e.callOn(m.Name, parent)
	case ContextEntity:
		if entity == nil {
			return nil, fmt.Errorf("no entity for %s", m.Name)
		}
		return e.callOn(m.Name, entity)
	case "":
		if fn, ok := e.registry.noArg[m.Name]; ok {
			return fn()
		}
	default:
		if fn, ok := e.registry.value[m.Name]; ok {
			var v any
			if entity != nil {
				v = entity.Attribute(m.Context)
			}
			return fn(v)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, m.Name)
}

func (e *Engine) callOn(name string, target hub.Entity) (any, error) {
	if fn, ok := e.registry.entity[name]; ok {
		return fn(target)
	}
	if mc, ok := target.(hub.MethodCaller); ok {
		if v, ok := mc.CallMethod(name); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func typeOf(e hub.Entity) string {
	if e == nil {
		return ""
	}
	return e.Type()
}

func uniqueIDOf(e hub.Entity) string {
	if e == nil {
		return ""
	}
	return e.UniqueID()
}
