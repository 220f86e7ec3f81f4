package form

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/roach88/evsync/internal/val"
)

// Evaluator compiles and runs field condition expressions. Compiled
// programs are cached by expression text. Safe for concurrent use.
type Evaluator struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// NewEvaluator creates an evaluator whose expressions see two variables:
// form (the declaration) and annotation.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("form", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("annotation", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &Evaluator{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Check compiles expr without evaluating it.
func (e *Evaluator) Check(expr string) error {
	_, err := e.program(expr)
	return err
}

// Eval evaluates a boolean condition against the given payloads.
func (e *Evaluator) Eval(expr string, declaration, annotation val.Object) (bool, error) {
	return e.eval(expr, map[string]any{
		"form":       val.ToGo(declaration),
		"annotation": val.ToGo(annotation),
	})
}

func (e *Evaluator) eval(expr string, vars map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: result is %T, not bool", expr, out.Value())
	}
	return b, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	e.prgCache[expr] = prg
	return prg, nil
}

// Strip removes every field whose SHOW or ENABLE condition evaluates false.
// Conditions are evaluated against the unstripped payloads. Fields not in
// the configuration pass through. The inputs are not modified; removed lists
// the stripped field ids in sorted order.
func (e *Evaluator) Strip(cfg EventConfig, declaration, annotation val.Object) (decl, ann val.Object, removed []string, err error) {
	return e.StripOver(cfg, nil, nil, declaration, annotation)
}

// StripOver is Strip for a payload applied on top of an event's current
// declaration and annotation. Conditions see the merged values, so a
// condition may reference a field set by an earlier action. Configured
// fields absent from both are null.
func (e *Evaluator) StripOver(cfg EventConfig, baseDecl, baseAnn, declaration, annotation val.Object) (decl, ann val.Object, removed []string, err error) {
	decl = val.CloneObject(declaration)
	ann = val.CloneObject(annotation)
	vars := map[string]any{
		"form":       conditionInput(cfg, KindDeclaration, val.DeepMerge(baseDecl, declaration)),
		"annotation": conditionInput(cfg, KindAnnotation, val.DeepMerge(baseAnn, annotation)),
	}

	for _, f := range cfg.Fields {
		if len(f.Conditions) == 0 {
			continue
		}
		target := decl
		if f.kind() == KindAnnotation {
			target = ann
		}
		if _, present := target[f.ID]; !present {
			continue
		}

		visible, err := e.visible(f, vars)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("field %s: %w", f.ID, err)
		}
		if !visible {
			delete(target, f.ID)
			removed = append(removed, f.ID)
		}
	}

	slices.Sort(removed)
	return decl, ann, removed, nil
}

// conditionInput converts values for a CEL activation, with every
// configured field of kind that has no value bound to null.
func conditionInput(cfg EventConfig, kind FieldKind, values val.Object) map[string]any {
	out := val.ToGo(values).(map[string]any)
	for _, f := range cfg.Fields {
		if f.kind() != kind {
			continue
		}
		if _, ok := out[f.ID]; !ok {
			out[f.ID] = nil
		}
	}
	return out
}

func (e *Evaluator) visible(f Field, vars map[string]any) (bool, error) {
	for _, c := range f.Conditions {
		switch c.Type {
		case ConditionShow, ConditionEnable:
		default:
			continue
		}
		ok, err := e.eval(c.Expr, vars)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
