package expr

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrNotSerializable marks an expression tree that cannot be re-evaluated
// outside the process that built it.
var ErrNotSerializable = errors.New("expression is not serializable")

// Validate structurally checks an expression tree: every node must be a
// member of the closed algebra with a compilable pattern, a named source,
// a known converter, and an in-range capture group. Raw nodes fail with
// ErrNotSerializable. The loader calls this before admitting a case to the
// run queue; an expression that validates here is safe to evaluate later,
// in this process or another.
func Validate(e Expr) error {
	if e == nil {
		return fmt.Errorf("nil expression")
	}
	switch n := e.(type) {
	case True:
		return nil
	case Found:
		return validateMatch(n.Pattern, n.Source, 0)
	case Not:
		return Validate(n.X)
	case All:
		return validateChildren(n.Of)
	case Any:
		return validateChildren(n.Of)
	case ExtractSingle:
		return validateExtract(n.Pattern, n.Source, n.Group, n.Conv)
	case ExtractAll:
		return validateExtract(n.Pattern, n.Source, n.Group, n.Conv)
	case Raw:
		return fmt.Errorf("raw expression: %w", ErrNotSerializable)
	default:
		return fmt.Errorf("unknown expression node %T: %w", e, ErrNotSerializable)
	}
}

func validateChildren(of []Expr) error {
	if len(of) == 0 {
		return fmt.Errorf("combinator has no sub-expressions")
	}
	for i, sub := range of {
		if err := Validate(sub); err != nil {
			return fmt.Errorf("sub-expression %d: %w", i, err)
		}
	}
	return nil
}

func validateExtract(pattern, source string, group int, conv Conv) error {
	switch conv {
	case ConvString, ConvInt, ConvFloat, "":
	default:
		return fmt.Errorf("unknown converter %q", conv)
	}
	return validateMatch(pattern, source, group)
}

func validateMatch(pattern, source string, group int) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	if source == "" {
		return fmt.Errorf("pattern %q has no source", pattern)
	}
	if group < 0 || group > re.NumSubexp() {
		return fmt.Errorf("pattern %q has no capture group %d", pattern, group)
	}
	return nil
}
