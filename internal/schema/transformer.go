package schema

import (
	"fmt"
	"strings"
)

// CustomTransformFunc is a registered named transform callable, dispatched
// by a Custom{id} FieldTransform step (§4.F Transformer).
type CustomTransformFunc func(value map[string]any, args map[string]any) error

// ErrTransformFailed halts a Transformation at the failing step, yielding
// the pre-transform snapshot per §4.F Transformer.
type ErrTransformFailed struct {
	Step   int
	Field  string
	Detail string
}

func (e *ErrTransformFailed) Error() string {
	return fmt.Sprintf("schema: transform failed at step %d (field %q): %s", e.Step, e.Field, e.Detail)
}

// Transformer rewrites a stored value in place according to a
// Transformation. Transforms are applied deterministically and without
// side effects; a step's failure halts with ErrTransformFailed and returns
// the untouched pre-transform snapshot (§4.F Transformer).
type Transformer struct {
	custom map[string]CustomTransformFunc
}

func NewTransformer() *Transformer {
	return &Transformer{custom: make(map[string]CustomTransformFunc)}
}

// RegisterCustom registers a named transform callable for Custom{id} steps.
func (tr *Transformer) RegisterCustom(id string, fn CustomTransformFunc) {
	tr.custom[id] = fn
}

// Apply copies v, then applies t's steps in declared order. On success the
// returned map's schema_version should be set by the caller (the State
// Manager / Engine own that field, not the Transformer, since the
// Transformer operates on the bare field map).
func (tr *Transformer) Apply(v map[string]any, t Transformation) (map[string]any, error) {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = val
	}

	for i, step := range t.Steps {
		if err := tr.applyStep(out, step); err != nil {
			return v, &ErrTransformFailed{Step: i, Field: step.Field, Detail: err.Error()}
		}
	}
	return out, nil
}

func (tr *Transformer) applyStep(v map[string]any, step FieldTransform) error {
	switch step.Kind {
	case TransformDirect:
		if val, ok := v[step.From]; ok {
			v[step.To] = val
			delete(v, step.From)
		}
	case TransformCopy:
		if val, ok := v[step.From]; ok {
			v[step.To] = val
			if !step.Keep {
				delete(v, step.From)
			}
		}
	case TransformRename:
		if val, ok := v[step.From]; ok {
			v[step.To] = val
			delete(v, step.From)
		}
	case TransformCast:
		val, ok := v[step.Field]
		if !ok {
			return nil
		}
		cast, err := castValue(val, step.ToType)
		if err != nil {
			return err
		}
		v[step.Field] = cast
	case TransformDefault:
		if _, ok := v[step.Field]; !ok {
			v[step.Field] = step.Default
		}
	case TransformRemove:
		delete(v, step.Field)
	case TransformSplit:
		return tr.applySplit(v, step)
	case TransformMerge:
		return tr.applyMerge(v, step)
	case TransformCustom:
		fn, ok := tr.custom[step.CustomID]
		if !ok {
			return fmt.Errorf("no custom transform registered for id %q", step.CustomID)
		}
		return fn(v, step.Args)
	default:
		return fmt.Errorf("unknown transform kind %d", step.Kind)
	}
	return nil
}

// applySplit implements Split{from, to: [field], rule}. The only supported
// rule is "whitespace": the string value is split on runs of whitespace and
// the parts are assigned to the target fields in order ("" for a target with
// no part). Any other rule name is rejected as unsupported.
func (tr *Transformer) applySplit(v map[string]any, step FieldTransform) error {
	val, ok := v[step.From]
	if !ok {
		return nil
	}
	s, ok := val.(string)
	if !ok {
		return fmt.Errorf("split: field %q is not a string", step.From)
	}
	switch step.Rule {
	case "whitespace":
		parts := strings.Fields(s)
		for i, field := range step.Fields {
			if i < len(parts) {
				v[field] = parts[i]
			} else {
				v[field] = ""
			}
		}
	default:
		return fmt.Errorf("split: unsupported rule %q", step.Rule)
	}
	delete(v, step.From)
	return nil
}

// applyMerge implements Merge{from: [field], to, rule}.
func (tr *Transformer) applyMerge(v map[string]any, step FieldTransform) error {
	switch step.Rule {
	case "concat":
		var out string
		for i, f := range step.Fields {
			if i > 0 {
				out += " "
			}
			if s, ok := v[f].(string); ok {
				out += s
			}
			delete(v, f)
		}
		v[step.To] = out
	default:
		return fmt.Errorf("merge: unsupported rule %q", step.Rule)
	}
	return nil
}

func castValue(val any, to FieldType) (any, error) {
	switch to {
	case TypeString:
		switch x := val.(type) {
		case string:
			return x, nil
		case float64:
			return fmt.Sprintf("%g", x), nil
		case bool:
			return fmt.Sprintf("%t", x), nil
		default:
			return fmt.Sprintf("%v", x), nil
		}
	case TypeNumber:
		switch x := val.(type) {
		case float64:
			return x, nil
		case string:
			var f float64
			if _, err := fmt.Sscanf(x, "%g", &f); err != nil {
				return nil, fmt.Errorf("cannot cast %q to number", x)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot cast %T to number", x)
		}
	case TypeBool:
		if b, ok := val.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot cast %T to bool", val)
	case TypeAny:
		return val, nil
	default:
		return val, nil
	}
}
