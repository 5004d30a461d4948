package loader

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/crucible/internal/expr"
	"github.com/seantiz/crucible/internal/hook"
	"github.com/seantiz/crucible/internal/model"
)

// suiteFile is the YAML form of a test suite.
type suiteFile struct {
	Suite string     `yaml:"suite"`
	Cases []yamlCase `yaml:"cases"`
}

// yamlCase is one declarative test definition. Parameter placeholders of
// the form {name} are substituted into the executable, arguments, hook
// commands, and expression patterns of each expanded instance.
type yamlCase struct {
	Name       string                                `yaml:"name"`
	Descr      string                                `yaml:"descr"`
	Systems    []string                              `yaml:"systems"`
	Executable string                                `yaml:"executable"`
	Args       []string                              `yaml:"args"`
	Scheduler  string                                `yaml:"scheduler"`
	RunOnly    *bool                                 `yaml:"run_only"`
	Build      *yamlBuild                            `yaml:"build"`
	Params     []yamlParam                           `yaml:"params"`
	Tags       []string                              `yaml:"tags"`
	KeepFiles  []string                              `yaml:"keep_files"`
	Prerun     []string                              `yaml:"prerun"`
	Postrun    []string                              `yaml:"postrun"`
	Sanity     *yamlExpr                             `yaml:"sanity"`
	Perf       map[string]yamlExtract                `yaml:"perf"`
	References map[string]map[string]model.Reference `yaml:"references"`
	Strict     *bool                                 `yaml:"strict"`
	Retry      *yamlRetry                            `yaml:"retry"`
	Timeout    string                                `yaml:"timeout"`
}

type yamlBuild struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type yamlParam struct {
	Name   string   `yaml:"name"`
	Values []string `yaml:"values"`
}

type yamlRetry struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// yamlExpr mirrors the boolean half of the expression algebra.
type yamlExpr struct {
	Found *yamlFound `yaml:"found"`
	Not   *yamlExpr  `yaml:"not"`
	All   []yamlExpr `yaml:"all"`
	Any   []yamlExpr `yaml:"any"`
}

type yamlFound struct {
	Pattern string `yaml:"pattern"`
	Source  string `yaml:"source"`
}

type yamlExtract struct {
	Pattern string    `yaml:"pattern"`
	Source  string    `yaml:"source"`
	Group   int       `yaml:"group"`
	Conv    expr.Conv `yaml:"conv"`
}

// LoadSuite reads a YAML suite file and registers its definitions with the
// loader.
func (l *Loader) LoadSuite(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read suite file: %w", err)
	}

	var suite suiteFile
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return fmt.Errorf("parse suite file %s: %w", path, err)
	}

	for _, yc := range suite.Cases {
		l.Register(definitionFromYAML(yc))
	}
	l.logger.Info("suite file registered", "path", path, "suite", suite.Suite, "definitions", len(suite.Cases))
	return nil
}

func definitionFromYAML(yc yamlCase) Definition {
	params := make([]Param, len(yc.Params))
	for i, p := range yc.Params {
		params[i] = Param{Name: p.Name, Values: p.Values}
	}

	return Definition{
		Name:   yc.Name,
		Descr:  yc.Descr,
		Params: params,
		Build: func(combo map[string]string) (*model.Case, error) {
			return caseFromYAML(yc, combo)
		},
	}
}

func caseFromYAML(yc yamlCase, params map[string]string) (*model.Case, error) {
	sub := func(s string) string { return substitute(s, params) }

	c := &model.Case{
		Descr:        yc.Descr,
		ValidSystems: yc.Systems,
		Executable:   sub(yc.Executable),
		Scheduler:    yc.Scheduler,
		Tags:         yc.Tags,
		KeepFiles:    yc.KeepFiles,
		// Declarative cases default to run-only; compiled cases opt in by
		// declaring a build command.
		RunOnly: yc.Build == nil,
		Strict:  true,
	}
	for _, a := range yc.Args {
		c.Args = append(c.Args, sub(a))
	}
	if yc.RunOnly != nil {
		c.RunOnly = *yc.RunOnly
	}
	if yc.Build != nil {
		b := &model.BuildSpec{Command: sub(yc.Build.Command)}
		for _, a := range yc.Build.Args {
			b.Args = append(b.Args, sub(a))
		}
		c.Build = b
	}
	if yc.Strict != nil {
		c.Strict = *yc.Strict
	}
	if yc.Retry != nil {
		c.Retry = &model.RetryPolicy{MaxAttempts: yc.Retry.MaxAttempts}
	}
	if yc.Timeout != "" {
		d, err := time.ParseDuration(yc.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parse timeout: %w", err)
		}
		c.JobTimeout = d
	}

	if yc.Sanity != nil {
		e, err := exprFromYAML(*yc.Sanity, params)
		if err != nil {
			return nil, fmt.Errorf("sanity: %w", err)
		}
		c.Sanity = e
	}
	if len(yc.Perf) > 0 {
		c.Perf = make(map[string]expr.Expr, len(yc.Perf))
		for name, x := range yc.Perf {
			c.Perf[name] = expr.ExtractSingle{
				Pattern: sub(x.Pattern),
				Source:  sourceOrStdout(x.Source),
				Group:   x.Group,
				Conv:    x.Conv,
			}
		}
		c.References = yc.References
	}

	c.Hooks = shellHooks(yc.Prerun, yc.Postrun)
	return c, nil
}

// shellHooks turns prerun/postrun command lists into run-phase hooks that
// execute each command through the shell in the case working directory.
func shellHooks(prerun, postrun []string) *hook.Set {
	b := hook.NewBuilder()
	for i, command := range prerun {
		b.Before(hook.PhaseRun, fmt.Sprintf("prerun_%d", i), shellHook(command))
	}
	for i, command := range postrun {
		b.After(hook.PhaseRun, fmt.Sprintf("postrun_%d", i), shellHook(command))
	}
	return b.Build()
}

func shellHook(command string) hook.Func {
	return func(ctx context.Context, env *hook.Env) error {
		sub := substitute(command, env.Params)
		cmd := exec.CommandContext(ctx, "sh", "-c", sub)
		cmd.Dir = env.WorkDir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("command %q: %w (output: %s)", sub, err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}

func exprFromYAML(y yamlExpr, params map[string]string) (expr.Expr, error) {
	set := 0
	if y.Found != nil {
		set++
	}
	if y.Not != nil {
		set++
	}
	if len(y.All) > 0 {
		set++
	}
	if len(y.Any) > 0 {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("expression must have exactly one of found/not/all/any")
	}

	switch {
	case y.Found != nil:
		return expr.Found{
			Pattern: substitute(y.Found.Pattern, params),
			Source:  sourceOrStdout(y.Found.Source),
		}, nil
	case y.Not != nil:
		x, err := exprFromYAML(*y.Not, params)
		if err != nil {
			return nil, err
		}
		return expr.Not{X: x}, nil
	case len(y.All) > 0:
		of, err := exprsFromYAML(y.All, params)
		if err != nil {
			return nil, err
		}
		return expr.All{Of: of}, nil
	default:
		of, err := exprsFromYAML(y.Any, params)
		if err != nil {
			return nil, err
		}
		return expr.Any{Of: of}, nil
	}
}

func exprsFromYAML(ys []yamlExpr, params map[string]string) ([]expr.Expr, error) {
	out := make([]expr.Expr, 0, len(ys))
	for _, y := range ys {
		e, err := exprFromYAML(y, params)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func sourceOrStdout(source string) string {
	if source == "" {
		return expr.SourceStdout
	}
	return source
}

// substitute replaces {name} placeholders with parameter values. Unknown
// placeholders are left untouched so that shell constructs like ${var}
// survive.
func substitute(s string, params map[string]string) string {
	for name, value := range params {
		s = strings.ReplaceAll(s, "{"+name+"}", value)
	}
	return s
}
