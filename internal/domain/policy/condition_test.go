package policy

import (
	"encoding/json"
	"testing"
)

func TestParseConditionsStringEquals(t *testing.T) {
	raw := json.RawMessage(`{"StringEquals":{"TargetResource":"ThisIsTheString"}}`)
	conds, err := ParseConditions(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(conds) != 1 || conds[0].Kind != KindStringEquals || conds[0].Key != "TargetResource" {
		t.Fatalf("unexpected parse result: %+v", conds)
	}

	if !MatchConditions(conds, map[string]any{"TargetResource": "ThisIsTheString"}, nil) {
		t.Error("expected match")
	}
	if MatchConditions(conds, map[string]any{"TargetResource": "ThisIsAnotherString"}, nil) {
		t.Error("expected no match")
	}
}

func TestStripFlagsOrder(t *testing.T) {
	cases := []struct {
		key        string
		wantKind   ConditionKind
		wantFlags  ConditionFlags
	}{
		{"StringEquals", KindStringEquals, FlagNone},
		{"ForAnyValueStringEquals", KindStringEquals, FlagForAnyValue},
		{"ForAllValuesStringEquals", KindStringEquals, FlagForAllValues},
		{"StringEqualsIfExists", KindStringEquals, FlagIfExists},
		{"ForAnyValueStringEqualsIfExists", KindStringEquals, FlagForAnyValue | FlagIfExists},
	}
	for _, c := range cases {
		kind, flags, err := stripFlags(c.key)
		if err != nil {
			t.Fatalf("%s: %v", c.key, err)
		}
		if kind != c.wantKind || flags != c.wantFlags {
			t.Errorf("stripFlags(%q) = (%v, %v), want (%v, %v)", c.key, kind, flags, c.wantKind, c.wantFlags)
		}
	}
}

func TestUnknownConditionKey(t *testing.T) {
	if _, _, err := stripFlags("TotallyMadeUp"); err == nil {
		t.Error("expected error for unknown condition key")
	}
}

func TestIfExistsPassesWhenKeyAbsent(t *testing.T) {
	raw := json.RawMessage(`{"StringEqualsIfExists":{"Missing":"x"}}`)
	conds, err := ParseConditions(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !MatchConditions(conds, map[string]any{}, nil) {
		t.Error("IfExists condition should pass when key is absent")
	}
}

func TestForAnyValueNonArrayIsFalse(t *testing.T) {
	raw := json.RawMessage(`{"ForAnyValueStringEquals":{"Tags":"x"}}`)
	conds, err := ParseConditions(raw)
	if err != nil {
		t.Fatal(err)
	}
	if MatchConditions(conds, map[string]any{"Tags": "x"}, nil) {
		t.Error("ForAnyValue against a non-array context value must evaluate false")
	}
}

func TestForAnyValueForAllValues(t *testing.T) {
	anyRaw := json.RawMessage(`{"ForAnyValueStringEquals":{"Tags":"b"}}`)
	anyConds, err := ParseConditions(anyRaw)
	if err != nil {
		t.Fatal(err)
	}
	ctx := map[string]any{"Tags": []any{"a", "b", "c"}}
	if !MatchConditions(anyConds, ctx, nil) {
		t.Error("expected ForAnyValue match")
	}

	allRaw := json.RawMessage(`{"ForAllValuesStringEquals":{"Tags":"b"}}`)
	allConds, err := ParseConditions(allRaw)
	if err != nil {
		t.Fatal(err)
	}
	if MatchConditions(allConds, ctx, nil) {
		t.Error("expected ForAllValues non-match since not all tags equal b")
	}
}

func TestNumericCompare(t *testing.T) {
	raw := json.RawMessage(`{"NumericGreaterThanEquals":{"Count":3}}`)
	conds, err := ParseConditions(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !MatchConditions(conds, map[string]any{"Count": float64(3)}, nil) {
		t.Error("expected 3 >= 3 to match")
	}
	if MatchConditions(conds, map[string]any{"Count": float64(2)}, nil) {
		t.Error("expected 2 >= 3 to not match")
	}
}

func TestDateCompare(t *testing.T) {
	raw := json.RawMessage(`{"DateLessThan":{"RequestTime":"2020-01-01T00:00:00Z"}}`)
	conds, err := ParseConditions(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !MatchConditions(conds, map[string]any{"RequestTime": "2019-01-01T00:00:00Z"}, nil) {
		t.Error("expected earlier date to match LessThan")
	}
	if MatchConditions(conds, map[string]any{"RequestTime": "2021-01-01T00:00:00Z"}, nil) {
		t.Error("expected later date to not match LessThan")
	}
}

func TestIPAddressMembership(t *testing.T) {
	raw := json.RawMessage(`{"IpAddress":{"SourceIP":"10.0.0.0/8"}}`)
	conds, err := ParseConditions(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !MatchConditions(conds, map[string]any{"SourceIP": "10.1.2.3"}, nil) {
		t.Error("expected 10.1.2.3 to be in 10.0.0.0/8")
	}
	if MatchConditions(conds, map[string]any{"SourceIP": "192.168.1.1"}, nil) {
		t.Error("expected 192.168.1.1 not to be in 10.0.0.0/8")
	}
}

func TestNotIPAddressIsGenuinelyInverted(t *testing.T) {
	raw := json.RawMessage(`{"NotIpAddress":{"SourceIP":"10.0.0.0/8"}}`)
	conds, err := ParseConditions(raw)
	if err != nil {
		t.Fatal(err)
	}
	if MatchConditions(conds, map[string]any{"SourceIP": "10.1.2.3"}, nil) {
		t.Error("NotIpAddress must reject a member address")
	}
	if !MatchConditions(conds, map[string]any{"SourceIP": "192.168.1.1"}, nil) {
		t.Error("NotIpAddress must accept a non-member address")
	}
}

func TestBinaryCompare(t *testing.T) {
	raw := json.RawMessage(`{"Binary":{"Payload":"aGVsbG8"}}`)
	conds, err := ParseConditions(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !MatchConditions(conds, map[string]any{"Payload": "aGVsbG8="}, nil) {
		t.Error("expected padded and unpadded base64 of the same bytes to compare equal")
	}
}

type fakeScripts struct {
	result bool
	err    error
}

func (f fakeScripts) Evaluate(source string, request map[string]any) (bool, error) {
	return f.result, f.err
}

func TestScriptConditionTruthyAndFailure(t *testing.T) {
	raw := json.RawMessage(`{"Script":"return request.ok === true;"}`)
	conds, err := ParseConditions(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !MatchConditions(conds, map[string]any{"ok": true}, fakeScripts{result: true}) {
		t.Error("expected script sandbox result true to pass")
	}
	if MatchConditions(conds, map[string]any{"ok": true}, fakeScripts{result: false, err: errBoom}) {
		t.Error("a script runtime error must evaluate to false")
	}
	if MatchConditions(conds, map[string]any{"ok": true}, nil) {
		t.Error("a nil sandbox must evaluate Script conditions to false")
	}
}

var errBoom = &scriptError{"boom"}

type scriptError struct{ msg string }

func (e *scriptError) Error() string { return e.msg }
