package script

import (
	"strings"
	"testing"
	"time"
)

func TestEvaluateTruthyExpression(t *testing.T) {
	e := NewEvaluator(100 * time.Millisecond)

	ok, err := e.Evaluate(`request.region === "eu-west-1"`, map[string]any{"region": "eu-west-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected truthy result")
	}
}

func TestEvaluateFalsyExpression(t *testing.T) {
	e := NewEvaluator(100 * time.Millisecond)

	ok, err := e.Evaluate(`request.region === "us-east-1"`, map[string]any{"region": "eu-west-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected falsy result")
	}
}

func TestEvaluateReturnStatement(t *testing.T) {
	e := NewEvaluator(100 * time.Millisecond)

	ok, err := e.Evaluate("let source = request.source;\nreturn source === 'CorrectSource';", map[string]any{"source": "CorrectSource"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected truthy result from a return-style script")
	}

	ok, err = e.Evaluate("return request.ok === true;", map[string]any{"ok": false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected falsy result from a return-style script")
	}
}

func TestEvaluateSyntaxErrorIsNonMatch(t *testing.T) {
	e := NewEvaluator(100 * time.Millisecond)

	ok, err := e.Evaluate(`this is not valid javascript {{{`, nil)
	if err == nil {
		t.Fatal("expected an error for malformed script")
	}
	if ok {
		t.Error("expected false on script error")
	}
}

func TestEvaluateTimeout(t *testing.T) {
	e := NewEvaluator(10 * time.Millisecond)

	ok, err := e.Evaluate(`while (true) {}`, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if ok {
		t.Error("expected false on timeout")
	}
	if !strings.Contains(err.Error(), "script:") {
		t.Errorf("expected wrapped script error, got: %v", err)
	}
}

func TestEvaluateDoesNotLeakStateBetweenCalls(t *testing.T) {
	e := NewEvaluator(100 * time.Millisecond)

	if _, err := e.Evaluate(`var counter = 1; request.region`, map[string]any{"region": "eu"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A fresh runtime (or the same one from the pool, cleared) must not
	// see `counter` from the previous evaluation.
	ok, err := e.Evaluate(`typeof counter === "undefined"`, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected no leaked global state between evaluations")
	}
}
