package policy

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ConditionKind identifies one of the recognized condition DSL kinds.
type ConditionKind string

const (
	KindStringEquals                ConditionKind = "StringEquals"
	KindStringNotEquals              ConditionKind = "StringNotEquals"
	KindStringEqualsIgnoreCase       ConditionKind = "StringEqualsIgnoreCase"
	KindStringNotEqualsIgnoreCase    ConditionKind = "StringNotEqualsIgnoreCase"
	KindNumericEquals                ConditionKind = "NumericEquals"
	KindNumericNotEquals             ConditionKind = "NumericNotEquals"
	KindNumericLessThan              ConditionKind = "NumericLessThan"
	KindNumericLessThanEquals        ConditionKind = "NumericLessThanEquals"
	KindNumericGreaterThan           ConditionKind = "NumericGreaterThan"
	KindNumericGreaterThanEquals     ConditionKind = "NumericGreaterThanEquals"
	KindDateEquals                   ConditionKind = "DateEquals"
	KindDateNotEquals                ConditionKind = "DateNotEquals"
	KindDateLessThan                 ConditionKind = "DateLessThan"
	KindDateLessThanEquals           ConditionKind = "DateLessThanEquals"
	KindDateGreaterThan              ConditionKind = "DateGreaterThan"
	KindDateGreaterThanEquals        ConditionKind = "DateGreaterThanEquals"
	KindBool                         ConditionKind = "Bool"
	KindBinary                       ConditionKind = "Binary"
	KindIPAddress                    ConditionKind = "IpAddress"
	KindNotIPAddress                 ConditionKind = "NotIpAddress"
	KindScript                       ConditionKind = "Script"
)

var knownKinds = map[ConditionKind]bool{
	KindStringEquals: true, KindStringNotEquals: true,
	KindStringEqualsIgnoreCase: true, KindStringNotEqualsIgnoreCase: true,
	KindNumericEquals: true, KindNumericNotEquals: true,
	KindNumericLessThan: true, KindNumericLessThanEquals: true,
	KindNumericGreaterThan: true, KindNumericGreaterThanEquals: true,
	KindDateEquals: true, KindDateNotEquals: true,
	KindDateLessThan: true, KindDateLessThanEquals: true,
	KindDateGreaterThan: true, KindDateGreaterThanEquals: true,
	KindBool: true, KindBinary: true,
	KindIPAddress: true, KindNotIPAddress: true,
}

// ConditionFlags carries the ForAnyValue/ForAllValues/IfExists modifiers
// that can be layered onto any non-Script condition kind.
type ConditionFlags uint8

const (
	FlagNone ConditionFlags = 0
	// FlagForAllValues requires every element of an array context value to satisfy the predicate.
	FlagForAllValues ConditionFlags = 1 << iota
	// FlagForAnyValue requires at least one element of an array context value to satisfy the predicate.
	FlagForAnyValue
	// FlagIfExists passes the condition when the context key is absent.
	FlagIfExists
)

// Condition is one parsed, independently-evaluated clause of a policy's
// condition block. A policy's conditions are AND-ed together.
type Condition struct {
	Kind      ConditionKind
	Key       string // context key; unused for Script
	Comparand any
	Flags     ConditionFlags
}

// ScriptEvaluator runs a Script condition's source against a request
// context and reports whether it evaluated to a truthy value. An error
// or panic inside the sandbox must be converted to (false, non-nil) by
// the implementation so Condition evaluation can treat it as non-match.
type ScriptEvaluator interface {
	Evaluate(source string, request map[string]any) (bool, error)
}

// ParseConditions parses a policy's condition block (a JSON object keyed
// by DSL strings such as "StringEquals" or "ForAnyValueNumericEqualsIfExists",
// or the literal "Script") into a flat, AND-ed list of Condition values.
// A nil/empty raw message yields a nil slice (no conditions).
func ParseConditions(raw json.RawMessage) ([]Condition, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCondition, err)
	}

	var out []Condition
	for dslKey, value := range top {
		if dslKey == string(KindScript) {
			sources, err := parseScriptSources(value)
			if err != nil {
				return nil, err
			}
			for _, src := range sources {
				out = append(out, Condition{Kind: KindScript, Comparand: src})
			}
			continue
		}

		kind, flags, err := stripFlags(dslKey)
		if err != nil {
			return nil, err
		}

		var inner map[string]json.RawMessage
		if err := json.Unmarshal(value, &inner); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCondition, dslKey, err)
		}
		for key, raw := range inner {
			comparand, err := parseComparand(kind, raw)
			if err != nil {
				return nil, err
			}
			out = append(out, Condition{Kind: kind, Key: key, Comparand: comparand, Flags: flags})
		}
	}
	return out, nil
}

// stripFlags strips, in order, a ForAnyValue/ForAllValues prefix and then
// a trailing IfExists suffix from a DSL key, returning the base kind.
func stripFlags(dslKey string) (ConditionKind, ConditionFlags, error) {
	base := dslKey
	var flags ConditionFlags

	switch {
	case strings.HasPrefix(base, "ForAnyValue"):
		flags |= FlagForAnyValue
		base = base[len("ForAnyValue"):]
	case strings.HasPrefix(base, "ForAllValues"):
		flags |= FlagForAllValues
		base = base[len("ForAllValues"):]
	}

	if strings.HasSuffix(base, "IfExists") {
		flags |= FlagIfExists
		base = base[:len(base)-len("IfExists")]
	}

	kind := ConditionKind(base)
	if !knownKinds[kind] {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownConditionKey, dslKey)
	}
	return kind, flags, nil
}

func parseScriptSources(raw json.RawMessage) ([]string, error) {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	return nil, fmt.Errorf("%w: Script: expected string or array of strings", ErrMalformedCondition)
}

func parseComparand(kind ConditionKind, raw json.RawMessage) (any, error) {
	switch kind {
	case KindStringEquals, KindStringNotEquals, KindStringEqualsIgnoreCase, KindStringNotEqualsIgnoreCase:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCondition, kind, err)
		}
		return s, nil
	case KindNumericEquals, KindNumericNotEquals, KindNumericLessThan, KindNumericLessThanEquals,
		KindNumericGreaterThan, KindNumericGreaterThanEquals:
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCondition, kind, err)
		}
		return n, nil
	case KindDateEquals, KindDateNotEquals, KindDateLessThan, KindDateLessThanEquals,
		KindDateGreaterThan, KindDateGreaterThanEquals:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCondition, kind, err)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCondition, kind, err)
		}
		return t.UTC(), nil
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCondition, kind, err)
		}
		return b, nil
	case KindBinary:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCondition, kind, err)
		}
		b, err := decodeBinary(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCondition, kind, err)
		}
		return b, nil
	case KindIPAddress, KindNotIPAddress:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCondition, kind, err)
		}
		_, network, err := parseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCondition, kind, err)
		}
		return network, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownConditionKey, kind)
	}
}

// decodeBinary decodes a base64 string using the standard alphabet,
// tolerating input with or without padding.
func decodeBinary(s string) ([]byte, error) {
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// parseCIDR parses a CIDR string, treating a bare IP as a /32 or /128.
func parseCIDR(s string) (net.IP, *net.IPNet, error) {
	if !strings.Contains(s, "/") {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, nil, fmt.Errorf("invalid IP address %q", s)
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		s = fmt.Sprintf("%s/%d", s, bits)
	}
	ip, network, err := net.ParseCIDR(s)
	return ip, network, err
}

// MatchConditions evaluates every condition against ctx and ANDs the
// results, short-circuiting on the first failure.
func MatchConditions(conditions []Condition, ctx map[string]any, scripts ScriptEvaluator) bool {
	for _, c := range conditions {
		if !c.evaluate(ctx, scripts) {
			return false
		}
	}
	return true
}

func (c Condition) evaluate(ctx map[string]any, scripts ScriptEvaluator) bool {
	if c.Kind == KindScript {
		source, _ := c.Comparand.(string)
		if scripts == nil {
			return false
		}
		ok, err := scripts.Evaluate(source, ctx)
		if err != nil {
			return false
		}
		return ok
	}

	value, exists := ctx[c.Key]
	if !exists {
		return c.Flags&FlagIfExists != 0
	}

	if c.Flags&(FlagForAnyValue|FlagForAllValues) != 0 {
		values, ok := value.([]any)
		if !ok {
			return false
		}
		if c.Flags&FlagForAnyValue != 0 {
			for _, v := range values {
				if c.matchOne(v) {
					return true
				}
			}
			return false
		}
		for _, v := range values {
			if !c.matchOne(v) {
				return false
			}
		}
		return true
	}

	return c.matchOne(value)
}

func (c Condition) matchOne(value any) bool {
	switch c.Kind {
	case KindStringEquals:
		s, ok := value.(string)
		return ok && s == c.Comparand.(string)
	case KindStringNotEquals:
		s, ok := value.(string)
		return ok && s != c.Comparand.(string)
	case KindStringEqualsIgnoreCase:
		s, ok := value.(string)
		return ok && strings.EqualFold(s, c.Comparand.(string))
	case KindStringNotEqualsIgnoreCase:
		s, ok := value.(string)
		return ok && !strings.EqualFold(s, c.Comparand.(string))
	case KindNumericEquals, KindNumericNotEquals, KindNumericLessThan, KindNumericLessThanEquals,
		KindNumericGreaterThan, KindNumericGreaterThanEquals:
		n, ok := toInt64(value)
		if !ok {
			return false
		}
		want := c.Comparand.(int64)
		switch c.Kind {
		case KindNumericEquals:
			return n == want
		case KindNumericNotEquals:
			return n != want
		case KindNumericLessThan:
			return n < want
		case KindNumericLessThanEquals:
			return n <= want
		case KindNumericGreaterThan:
			return n > want
		case KindNumericGreaterThanEquals:
			return n >= want
		}
	case KindDateEquals, KindDateNotEquals, KindDateLessThan, KindDateLessThanEquals,
		KindDateGreaterThan, KindDateGreaterThanEquals:
		s, ok := value.(string)
		if !ok {
			return false
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return false
		}
		t = t.UTC()
		want := c.Comparand.(time.Time)
		switch c.Kind {
		case KindDateEquals:
			return t.Equal(want)
		case KindDateNotEquals:
			return !t.Equal(want)
		case KindDateLessThan:
			return t.Before(want)
		case KindDateLessThanEquals:
			return t.Before(want) || t.Equal(want)
		case KindDateGreaterThan:
			return t.After(want)
		case KindDateGreaterThanEquals:
			return t.After(want) || t.Equal(want)
		}
	case KindBool:
		b, ok := value.(bool)
		return ok && b == c.Comparand.(bool)
	case KindBinary:
		s, ok := value.(string)
		if !ok {
			return false
		}
		got, err := decodeBinary(s)
		if err != nil {
			return false
		}
		want := c.Comparand.([]byte)
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	case KindIPAddress, KindNotIPAddress:
		s, ok := value.(string)
		if !ok {
			return false
		}
		ip := net.ParseIP(s)
		if ip == nil {
			return false
		}
		network := c.Comparand.(*net.IPNet)
		member := network.Contains(ip)
		if c.Kind == KindNotIPAddress {
			return !member
		}
		return member
	}
	return false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}
