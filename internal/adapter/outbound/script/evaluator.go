// Package script implements policy.ScriptEvaluator on top of goja, a
// pure-Go ECMAScript interpreter. Each evaluation spins up a brand new
// runtime so that no state (globals, closures) can leak between policy
// conditions, matching the "no retained state" requirement for scripted
// conditions.
package script

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/alekitto/zephir-go/internal/domain/policy"
)

// Evaluator runs Script conditions in a goja sandbox. It is safe for
// concurrent use.
type Evaluator struct {
	timeout time.Duration
}

// NewEvaluator creates an Evaluator. timeout bounds how long a single
// script may run before it is interrupted and treated as a failure; a
// zero timeout defaults to 50ms, generous for the short boolean
// expressions policy conditions are expected to contain.
func NewEvaluator(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &Evaluator{timeout: timeout}
}

// Evaluate runs source as the body of an IIFE with `request` bound to
// the given context map, and reports whether it produced a truthy
// value. Wrapping in a function body (rather than running source as a
// bare top-level script) lets a condition use a `return` statement,
// the idiom policy authors reach for — a bare `return` at top level is
// an ECMAScript SyntaxError. Per the ScriptEvaluator contract, any
// compile error, runtime error, or timeout is reported as (false, err)
// rather than propagated as a match failure — callers treat it as
// non-match and keep evaluating the rest of the policy.
func (e *Evaluator) Evaluate(source string, request map[string]any) (result bool, err error) {
	vm := goja.New()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script: panic: %v", r)
		}
	}()

	if setErr := vm.Set("request", request); setErr != nil {
		return false, fmt.Errorf("script: bind request: %w", setErr)
	}

	timer := time.AfterFunc(e.timeout, func() {
		vm.Interrupt("script: timed out")
	})
	defer timer.Stop()

	value, runErr := vm.RunString("(function () {" + source + "})()")
	if runErr != nil {
		return false, fmt.Errorf("script: %w", runErr)
	}

	return value.ToBoolean(), nil
}

var _ policy.ScriptEvaluator = (*Evaluator)(nil)
