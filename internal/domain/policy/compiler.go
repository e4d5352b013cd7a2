package policy

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
)

// Compiler turns a CompletePolicy into its compiled form, consulting and
// populating a CompiledPolicyCache by policy ID.
type Compiler interface {
	Compile(ctx context.Context, p *CompletePolicy) (*CompiledPolicy, error)
}

// PolicyCompiler is the default Compiler: compile-once, cache-by-id,
// best-effort cache population. A cache read or write failure is logged
// and falls back to the direct compile path rather than failing the
// request (spec §7: "Cache insert/read failure | logged; recompute path used").
type PolicyCompiler struct {
	cache  CompiledPolicyCache
	logger *slog.Logger
}

// NewPolicyCompiler constructs a PolicyCompiler backed by cache. logger
// may be nil, in which case a discard logger is used.
func NewPolicyCompiler(cache CompiledPolicyCache, logger *slog.Logger) *PolicyCompiler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PolicyCompiler{cache: cache, logger: logger}
}

// Compile implements spec §4.4's compile(id, actions, resources, conditions) algorithm.
func (c *PolicyCompiler) Compile(ctx context.Context, p *CompletePolicy) (*CompiledPolicy, error) {
	if p.ID != "" && c.cache != nil {
		if cp, ok, err := c.cache.Get(ctx, p.ID); err != nil {
			c.logger.Warn("compiled policy cache read failed", "policy_id", p.ID, "error", err)
		} else if ok {
			return cp, nil
		}
	}

	actions, err := compileGlobs(p.ID, "action", p.Actions)
	if err != nil {
		return nil, err
	}

	var resources []*regexp.Regexp
	if !anyStar(p.Resources) {
		resources, err = compileGlobs(p.ID, "resource", p.Resources)
		if err != nil {
			return nil, err
		}
	}

	conditions, err := ParseConditions(p.RawConditions)
	if err != nil {
		return nil, err
	}

	compiled := NewCompiledPolicy(actions, resources, conditions)

	if p.ID != "" && c.cache != nil {
		if err := c.cache.Put(ctx, p.ID, compiled); err != nil {
			c.logger.Warn("compiled policy cache write failed", "policy_id", p.ID, "error", err)
		}
	}

	return compiled, nil
}

func anyStar(globs []string) bool {
	for _, g := range globs {
		if g == "*" {
			return true
		}
	}
	return false
}

func compileGlobs(policyID, axis string, globs []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(globs))
	for _, g := range globs {
		re, err := CompileGlob(g)
		if err != nil {
			return nil, fmt.Errorf("%w: policy %q %s glob %q: %v", ErrRegexBuildFailed, policyID, axis, g, err)
		}
		out = append(out, re)
	}
	return out, nil
}
