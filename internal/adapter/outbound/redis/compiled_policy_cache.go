// Package redis implements policy.CompiledPolicyCache on top of
// go-redis, the external cache spec §6 selects when REDIS_DSN is set.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/alekitto/zephir-go/internal/domain/policy"
)

const keyPrefix = "zephir:compiled-policy:"

// CompiledPolicyCache implements policy.CompiledPolicyCache against a
// Redis server. Entries carry the TTL given at construction (zero, the
// value serve uses, means no expiry); invalidation happens through
// Flush, which the policy upsert handler calls after a policy is saved.
type CompiledPolicyCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewCompiledPolicyCache creates a cache against a Redis server reached
// via dsn (a redis:// or rediss:// URL, per REDIS_DSN in spec §6). ttl
// of zero disables expiry.
func NewCompiledPolicyCache(dsn string, ttl time.Duration) (*CompiledPolicyCache, error) {
	opts, err := goredis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid REDIS_DSN: %w", err)
	}
	return &CompiledPolicyCache{client: goredis.NewClient(opts), ttl: ttl}, nil
}

// cacheKey hashes the policy ID with xxhash rather than embedding it
// verbatim: policy IDs are operator-chosen strings with no guaranteed
// charset or length limit, and xxhash gives a short, fixed-width,
// collision-resistant Redis key regardless of what the ID looks like.
func cacheKey(id string) string {
	return keyPrefix + strconv.FormatUint(xxhash.Sum64String(id), 16)
}

// wireCompiledPolicy is the JSON-serializable form of a CompiledPolicy:
// regex sources instead of *regexp.Regexp, and a tagged encoding of
// Condition.Comparand since its Go type varies by Kind.
type wireCompiledPolicy struct {
	Actions      []string        `json:"actions"`
	Resources    []string        `json:"resources"`
	Conditions   []wireCondition `json:"conditions"`
	AllResources bool            `json:"all_resources"`
	NoConditions bool            `json:"no_conditions"`
}

type wireCondition struct {
	Kind      policy.ConditionKind  `json:"kind"`
	Key       string                `json:"key,omitempty"`
	Flags     policy.ConditionFlags `json:"flags"`
	Comparand json.RawMessage       `json:"comparand"`
}

// encodeCondition serializes Comparand to the same textual shape its
// policy JSON source used, so decodeCondition can parse it back with
// the same logic parseComparand applies to a fresh policy document.
// Most Kinds are JSON-marshaled directly; the two IP kinds are the
// exception, since their Comparand is a *net.IPNet, and net.IPNet's
// default JSON form is a byte-array struct, not the CIDR string
// decodeCondition (and parseComparand) expect.
func encodeCondition(c policy.Condition) (wireCondition, error) {
	if c.Kind == policy.KindIPAddress || c.Kind == policy.KindNotIPAddress {
		network, ok := c.Comparand.(*net.IPNet)
		if !ok {
			return wireCondition{}, fmt.Errorf("redis cache: %s comparand is not *net.IPNet", c.Kind)
		}
		comparand, err := json.Marshal(network.String())
		if err != nil {
			return wireCondition{}, fmt.Errorf("redis cache: encode comparand for %s: %w", c.Kind, err)
		}
		return wireCondition{Kind: c.Kind, Key: c.Key, Flags: c.Flags, Comparand: comparand}, nil
	}

	comparand, err := json.Marshal(c.Comparand)
	if err != nil {
		return wireCondition{}, fmt.Errorf("redis cache: encode comparand for %s: %w", c.Kind, err)
	}
	return wireCondition{Kind: c.Kind, Key: c.Key, Flags: c.Flags, Comparand: comparand}, nil
}

// decodeCondition rebuilds a Condition's Comparand to the concrete Go
// type MatchConditions expects, following the same kind-to-type mapping
// parseComparand uses when parsing a policy document directly.
func decodeCondition(w wireCondition) (policy.Condition, error) {
	c := policy.Condition{Kind: w.Kind, Key: w.Key, Flags: w.Flags}

	switch w.Kind {
	case policy.KindStringEquals, policy.KindStringNotEquals,
		policy.KindStringEqualsIgnoreCase, policy.KindStringNotEqualsIgnoreCase,
		policy.KindScript:
		var s string
		if err := json.Unmarshal(w.Comparand, &s); err != nil {
			return c, fmt.Errorf("redis cache: decode %s comparand: %w", w.Kind, err)
		}
		c.Comparand = s
	case policy.KindNumericEquals, policy.KindNumericNotEquals, policy.KindNumericLessThan,
		policy.KindNumericLessThanEquals, policy.KindNumericGreaterThan, policy.KindNumericGreaterThanEquals:
		var n int64
		if err := json.Unmarshal(w.Comparand, &n); err != nil {
			return c, fmt.Errorf("redis cache: decode %s comparand: %w", w.Kind, err)
		}
		c.Comparand = n
	case policy.KindDateEquals, policy.KindDateNotEquals, policy.KindDateLessThan,
		policy.KindDateLessThanEquals, policy.KindDateGreaterThan, policy.KindDateGreaterThanEquals:
		var t time.Time
		if err := json.Unmarshal(w.Comparand, &t); err != nil {
			return c, fmt.Errorf("redis cache: decode %s comparand: %w", w.Kind, err)
		}
		c.Comparand = t
	case policy.KindBool:
		var b bool
		if err := json.Unmarshal(w.Comparand, &b); err != nil {
			return c, fmt.Errorf("redis cache: decode %s comparand: %w", w.Kind, err)
		}
		c.Comparand = b
	case policy.KindBinary:
		var b []byte
		if err := json.Unmarshal(w.Comparand, &b); err != nil {
			return c, fmt.Errorf("redis cache: decode %s comparand: %w", w.Kind, err)
		}
		c.Comparand = b
	case policy.KindIPAddress, policy.KindNotIPAddress:
		var s string
		if err := json.Unmarshal(w.Comparand, &s); err != nil {
			return c, fmt.Errorf("redis cache: decode %s comparand: %w", w.Kind, err)
		}
		_, network, err := net.ParseCIDR(s)
		if err != nil {
			return c, fmt.Errorf("redis cache: decode %s CIDR: %w", w.Kind, err)
		}
		c.Comparand = network
	default:
		return c, fmt.Errorf("redis cache: unknown condition kind %q", w.Kind)
	}

	return c, nil
}

func encode(compiled *policy.CompiledPolicy) ([]byte, error) {
	w := wireCompiledPolicy{
		AllResources: compiled.AllResources,
		NoConditions: compiled.NoConditions,
	}
	for _, re := range compiled.Actions {
		w.Actions = append(w.Actions, re.String())
	}
	for _, re := range compiled.Resources {
		w.Resources = append(w.Resources, re.String())
	}
	for _, c := range compiled.Conditions {
		wc, err := encodeCondition(c)
		if err != nil {
			return nil, err
		}
		w.Conditions = append(w.Conditions, wc)
	}
	return json.Marshal(w)
}

func decode(data []byte) (*policy.CompiledPolicy, error) {
	var w wireCompiledPolicy
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("redis cache: decode entry: %w", err)
	}

	actions := make([]*regexp.Regexp, 0, len(w.Actions))
	for _, pattern := range w.Actions {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("redis cache: recompile action regex %q: %w", pattern, err)
		}
		actions = append(actions, re)
	}
	resources := make([]*regexp.Regexp, 0, len(w.Resources))
	for _, pattern := range w.Resources {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("redis cache: recompile resource regex %q: %w", pattern, err)
		}
		resources = append(resources, re)
	}
	conditions := make([]policy.Condition, 0, len(w.Conditions))
	for _, wc := range w.Conditions {
		c, err := decodeCondition(wc)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, c)
	}

	return policy.NewCompiledPolicy(actions, resources, conditions), nil
}

// Get retrieves the compiled form cached for id. A cache error (as
// opposed to a clean miss) is returned to the caller, who per spec §7
// should log it and fall through to recompiling rather than fail the
// request.
func (c *CompiledPolicyCache) Get(ctx context.Context, id string) (*policy.CompiledPolicy, bool, error) {
	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache: get %q: %w", id, err)
	}

	compiled, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return compiled, true, nil
}

// Put stores the compiled form for id.
func (c *CompiledPolicyCache) Put(ctx context.Context, id string, compiled *policy.CompiledPolicy) error {
	data, err := encode(compiled)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, cacheKey(id), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: put %q: %w", id, err)
	}
	return nil
}

// Flush removes the cached entry for id, if any.
func (c *CompiledPolicyCache) Flush(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("redis cache: flush %q: %w", id, err)
	}
	return nil
}

var _ policy.CompiledPolicyCache = (*CompiledPolicyCache)(nil)
