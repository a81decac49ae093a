// Package query provides the search(expr, data) -> value collaborator the kernel depends on.
// Grant predicates are expr-lang expressions compiled once and cached, matching the teacher condition package's evaluateFormula/matchRegexp pattern but
// backed by a real bounded cache (ristretto) instead of a hand-rolled LRU.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/dlclark/regexp2"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Resource limits, mirroring the teacher condition package's rationale for bounding formula
// length and regex complexity.
const (
	// MaxExpressionLength prevents compilation of pathologically large grant queries.
	MaxExpressionLength = 10000

	// MaxRegexPatternLength prevents compilation of extremely complex regex patterns.
	MaxRegexPatternLength = 1000

	// DefaultRegexTimeout bounds a single matches() call to guard against ReDoS.
	DefaultRegexTimeout = 100 * time.Millisecond

	programCacheMaxCost = 1 << 20 // ~1MB of accounted cost for compiled programs
)

var (
	ErrExpressionTooLong = errors.New("query: expression exceeds maximum length")
	ErrNotBoolean        = errors.New("query: expression did not evaluate to a boolean")
	ErrRegexTooComplex   = errors.New("query: regex pattern exceeds maximum length")
)

// Searcher evaluates grant.query expressions against request/grant payloads. It is the
// concrete, swappable implementation of the spec's opaque search(expr, data) -> value
// collaborator.
type Searcher interface {
	// Search compiles (or retrieves from cache) and runs expression against data, returning
	// whatever value the expression produces (the kernel only cares whether it is a bool).
	Search(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Options configures an Evaluator.
type Options struct {
	RegexTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.RegexTimeout <= 0 {
		o.RegexTimeout = DefaultRegexTimeout
	}
	return o
}

// Evaluator is the reference Searcher implementation: expr-lang compilation with a ristretto
// program cache and a regexp2-backed matches() builtin.
type Evaluator struct {
	opts       Options
	programs   *ristretto.Cache
	regexCache *ristretto.Cache
}

// NewEvaluator constructs an Evaluator. Both internal caches are bounded, concurrent ristretto
// caches rather than hand-rolled maps-with-mutex.
func NewEvaluator(opts Options) (*Evaluator, error) {
	opts = opts.withDefaults()

	programs, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     programCacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("query: creating program cache: %w", err)
	}

	regexes, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     programCacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("query: creating regex cache: %w", err)
	}

	return &Evaluator{opts: opts, programs: programs, regexCache: regexes}, nil
}

// Close releases cache resources.
func (e *Evaluator) Close() {
	e.programs.Close()
	e.regexCache.Close()
}

// Search compiles expression (or loads it from cache), binds data plus the matches() builtin
// into the expr-lang environment, and runs it.
func (e *Evaluator) Search(ctx context.Context, expression string, data map[string]any) (any, error) {
	if len(expression) > MaxExpressionLength {
		return nil, fmt.Errorf("%w: length %d", ErrExpressionTooLong, len(expression))
	}

	env := e.newEnv(data)

	program, err := e.compile(expression, env)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("query: execution failed: %w", err)
	}
	return result, nil
}

func (e *Evaluator) compile(expression string, env map[string]any) (*vm.Program, error) {
	if cached, ok := e.programs.Get(expression); ok {
		return cached.(*vm.Program), nil
	}

	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("query: compilation failed: %w", err)
	}

	e.programs.Set(expression, program, int64(len(expression)))
	return program, nil
}

func (e *Evaluator) newEnv(data map[string]any) map[string]any {
	env := make(map[string]any, len(data)+1)
	for k, v := range data {
		env[k] = v
	}
	env["matches"] = func(str, pattern string) (bool, error) {
		return e.matches(str, pattern)
	}
	return env
}

// matches performs a ReDoS-guarded regex match using regexp2, with a bounded, cached set of
// compiled patterns — the expr-lang analogue of the teacher's matchRegexp helper.
func (e *Evaluator) matches(str, pattern string) (bool, error) {
	if len(pattern) > MaxRegexPatternLength {
		return false, fmt.Errorf("%w: length %d", ErrRegexTooComplex, len(pattern))
	}

	var re *regexp2.Regexp
	if cached, ok := e.regexCache.Get(pattern); ok {
		re = cached.(*regexp2.Regexp)
	} else {
		compiled, err := regexp2.Compile(pattern, regexp2.None)
		if err != nil {
			return false, fmt.Errorf("query: invalid regex: %w", err)
		}
		re = compiled
		e.regexCache.Set(pattern, re, int64(len(pattern)))
	}

	re.MatchTimeout = e.opts.RegexTimeout
	matched, err := re.MatchString(str)
	if err != nil {
		if strings.Contains(err.Error(), "timeout") {
			return false, fmt.Errorf("query: regex match timed out")
		}
		return false, err
	}
	return matched, nil
}
