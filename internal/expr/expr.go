// Package expr implements the deferred expression algebra used for sanity
// and performance checks. Expressions are immutable trees built at
// definition time and evaluated only after a case's run phase has produced
// output. Evaluation is a pure function of the expression and the files in
// the case working directory.
//
// The algebra is closed: every node is one of the types in this package, so
// a tree can always be serialized and re-evaluated in whichever process
// performs the sanity or performance phase. The one escape hatch, Raw,
// wraps an arbitrary function and is rejected by structural validation
// before a case is admitted to the run queue.
package expr

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// Logical source names resolved against the case working directory.
const (
	SourceStdout = "stdout"
	SourceStderr = "stderr"
)

// Conv names a value converter applied to extracted text.
type Conv string

// Known converters.
const (
	ConvString Conv = "string"
	ConvInt    Conv = "int"
	ConvFloat  Conv = "float"
)

func (c Conv) convert(s string) (any, error) {
	switch c {
	case ConvString, "":
		return s, nil
	case ConvInt:
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("convert %q to int: %w", s, err)
		}
		return v, nil
	case ConvFloat:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("convert %q to float: %w", s, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown converter %q", c)
	}
}

// Env supplies the materialized inputs an expression is evaluated against.
type Env struct {
	// WorkDir is the case's working directory. Logical sources other than
	// stdout/stderr resolve to files inside it.
	WorkDir string

	// StdoutPath and StderrPath are the captured output files for the
	// case's job. The pipeline fills them in before evaluation.
	StdoutPath string
	StderrPath string
}

// resolve maps a logical source name to a file path.
func (e *Env) resolve(source string) (string, error) {
	switch source {
	case "":
		return "", fmt.Errorf("empty source")
	case SourceStdout:
		if e.StdoutPath == "" {
			return "", fmt.Errorf("no captured stdout in environment")
		}
		return e.StdoutPath, nil
	case SourceStderr:
		if e.StderrPath == "" {
			return "", fmt.Errorf("no captured stderr in environment")
		}
		return e.StderrPath, nil
	default:
		return filepath.Join(e.WorkDir, source), nil
	}
}

// read returns the content of a logical source.
func (e *Env) read(source string) (string, error) {
	path, err := e.resolve(source)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source %q: %w", source, err)
	}
	return string(data), nil
}

// Expr is a node of the deferred expression tree. The interface is sealed;
// only the types in this package implement it.
type Expr interface {
	eval(env *Env) (any, error)
	sealed()
}

// True is the constant boolean expression.
type True struct{}

func (True) sealed() {}

func (True) eval(*Env) (any, error) { return true, nil }

// Found asserts that a pattern occurs somewhere in a source.
type Found struct {
	Pattern string
	Source  string
}

func (Found) sealed() {}

func (f Found) eval(env *Env) (any, error) {
	re, err := regexp.Compile(f.Pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", f.Pattern, err)
	}
	text, err := env.read(f.Source)
	if err != nil {
		return nil, err
	}
	return re.MatchString(text), nil
}

// Not negates a boolean sub-expression.
type Not struct {
	X Expr
}

func (Not) sealed() {}

func (n Not) eval(env *Env) (any, error) {
	v, err := evalBool(n.X, env)
	if err != nil {
		return nil, err
	}
	return !v, nil
}

// All is true when every boolean sub-expression is true.
type All struct {
	Of []Expr
}

func (All) sealed() {}

func (a All) eval(env *Env) (any, error) {
	for _, sub := range a.Of {
		v, err := evalBool(sub, env)
		if err != nil {
			return nil, err
		}
		if !v {
			return false, nil
		}
	}
	return true, nil
}

// Any is true when at least one boolean sub-expression is true.
type Any struct {
	Of []Expr
}

func (Any) sealed() {}

func (a Any) eval(env *Env) (any, error) {
	for _, sub := range a.Of {
		v, err := evalBool(sub, env)
		if err != nil {
			return nil, err
		}
		if v {
			return true, nil
		}
	}
	return false, nil
}

// ExtractSingle extracts the first match of a capture group from a source
// and converts it.
type ExtractSingle struct {
	Pattern string
	Source  string
	Group   int
	Conv    Conv
}

func (ExtractSingle) sealed() {}

func (x ExtractSingle) eval(env *Env) (any, error) {
	matches, err := extract(x.Pattern, x.Source, x.Group, env)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("pattern %q not found in %q", x.Pattern, x.Source)
	}
	return x.Conv.convert(matches[0])
}

// ExtractAll extracts every match of a capture group from a source and
// converts each.
type ExtractAll struct {
	Pattern string
	Source  string
	Group   int
	Conv    Conv
}

func (ExtractAll) sealed() {}

func (x ExtractAll) eval(env *Env) (any, error) {
	matches, err := extract(x.Pattern, x.Source, x.Group, env)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(matches))
	for _, m := range matches {
		v, err := x.Conv.convert(m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func extract(pattern, source string, group int, env *Env) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	if group < 0 || group > re.NumSubexp() {
		return nil, fmt.Errorf("pattern %q has no capture group %d", pattern, group)
	}
	text, err := env.read(source)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, m[group])
	}
	return out, nil
}

// Raw wraps an arbitrary function as an expression. It exists so that ad-hoc
// checks can be prototyped, but it cannot be serialized or safely
// re-evaluated in another process, so structural validation rejects any
// case whose expression tree contains one.
type Raw struct {
	Fn func(env *Env) (any, error)
}

func (Raw) sealed() {}

func (r Raw) eval(env *Env) (any, error) {
	if r.Fn == nil {
		return nil, fmt.Errorf("raw expression has no function")
	}
	return r.Fn(env)
}

// EvalBool evaluates a boolean expression tree against env.
func EvalBool(e Expr, env *Env) (bool, error) {
	return evalBool(e, env)
}

func evalBool(e Expr, env *Env) (bool, error) {
	if e == nil {
		return false, fmt.Errorf("nil expression")
	}
	v, err := e.eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression evaluated to %T, want bool", v)
	}
	return b, nil
}

// EvalFloat evaluates an extraction expression tree against env and coerces
// the result to float64. Used for performance metrics.
func EvalFloat(e Expr, env *Env) (float64, error) {
	if e == nil {
		return 0, fmt.Errorf("nil expression")
	}
	v, err := e.eval(env)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expression evaluated to %T, want number", v)
	}
}
